package poller

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"hotel-rates/internal/models"
	"hotel-rates/internal/services/pricing"

	"github.com/stretchr/testify/require"
)

type call struct {
	hotelID   string
	arrival   string
	departure string
}

// fakeFetcher scripts provider behavior per call and can trigger side
// effects (like cancellation) at a given call number.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []call
	respond func(n int, c call) (*pricing.RoomsResponse, error)
	onCall  func(n int)
}

func (f *fakeFetcher) FetchRooms(_ context.Context, hotelID, arrival, departure, _, _ string) (*pricing.RoomsResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{hotelID: hotelID, arrival: arrival, departure: departure})
	n := len(f.calls)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(n)
	}
	if f.respond != nil {
		return f.respond(n, call{hotelID: hotelID, arrival: arrival, departure: departure})
	}
	return okResponse(100), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okResponse(price int) *pricing.RoomsResponse {
	return &pricing.RoomsResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(fmt.Sprintf(`{"block":[{"min_price":{"price":%d}}]}`, price)),
	}
}

type spyStore struct {
	mu   sync.Mutex
	puts int
	last *models.PriceSnapshot
	fail bool
}

func (s *spyStore) Get(date, currency, adults string, days int) (*models.PriceSnapshot, error) {
	return nil, nil
}

func (s *spyStore) Put(results []models.HotelResult, currency, adults string, days int, fetchedBy string) (*models.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("store unavailable")
	}
	s.puts++
	s.last = &models.PriceSnapshot{
		ID:        fmt.Sprintf("snap-%d", s.puts),
		Date:      models.DateKey(time.Now()),
		Currency:  currency,
		Adults:    adults,
		Days:      days,
		Results:   results,
		FetchedBy: fetchedBy,
	}
	return s.last, nil
}

func (s *spyStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

var testHotels = []models.Hotel{
	{Name: "Alpha", ID: "h1", Mine: true},
	{Name: "Bravo", ID: "h2"},
	{Name: "Charlie", ID: "h3"},
	{Name: "Delta", ID: "h4"},
	{Name: "Echo", ID: "h5"},
}

func newTestPoller(f Fetcher, s *spyStore, hotels []models.Hotel) *Poller {
	p := New(f, s, hotels)
	p.delay = 0
	return p
}

func waitDone(t *testing.T, p *Poller) *Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := p.Status()
		if st != nil && !st.Running {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("poll did not finish in time")
	return nil
}

func TestDateWindow(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 45, 12, 0, time.UTC)
	dates := DateWindow(now, 7)

	require.Len(t, dates, 7)
	require.Equal(t, "2024-06-16", models.DateKey(dates[0]), "window starts tomorrow, never today")
	for i := 1; i < len(dates); i++ {
		require.Equal(t, dates[i-1].AddDate(0, 0, 1), dates[i], "dates must be consecutive and ascending")
	}
}

func TestDateWindowMonthRollover(t *testing.T) {
	now := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	dates := DateWindow(now, 4)

	require.Equal(t, "2024-01-31", models.DateKey(dates[0]))
	require.Equal(t, "2024-02-01", models.DateKey(dates[1]))
	require.Equal(t, "2024-02-02", models.DateKey(dates[2]))
}

func TestCheckoutIsCheckinPlusOneDay(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &spyStore{}
	p := newTestPoller(fetcher, store, testHotels[:1])
	// Window starts on leap day 2024-02-29.
	p.now = func() time.Time { return time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC) }

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 3}, "tester")
	require.NoError(t, err)
	waitDone(t, p)

	require.Len(t, fetcher.calls, 3)
	require.Equal(t, "2024-02-29", fetcher.calls[0].arrival)
	require.Equal(t, "2024-03-01", fetcher.calls[0].departure, "leap-day checkout rolls into March")
	for _, c := range fetcher.calls {
		in, err := time.Parse("2006-01-02", c.arrival)
		require.NoError(t, err)
		require.Equal(t, models.DateKey(in.AddDate(0, 0, 1)), c.departure)
	}
}

func TestPollRecordsAllPrices(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(n int, _ call) (*pricing.RoomsResponse, error) {
			return okResponse(100 + n), nil
		},
	}
	store := &spyStore{}
	p := newTestPoller(fetcher, store, testHotels[:2])

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 3}, "ana@example.com")
	require.NoError(t, err)
	st := waitDone(t, p)

	require.Equal(t, 6, st.Completed)
	require.Equal(t, 6, st.Total)
	require.False(t, st.Cancelled)
	require.NotNil(t, st.FinishedAt)
	require.NotEmpty(t, st.SnapshotID)

	results := p.Results()
	require.Len(t, results, 2)
	for _, result := range results {
		require.Len(t, result.Prices, 3)
		for _, point := range result.Prices {
			require.NotNil(t, point.Price)
		}
	}

	require.Equal(t, 1, store.putCount(), "full completion persists exactly once")
	require.Equal(t, "ana@example.com", store.last.FetchedBy)
	require.Equal(t, "USD", store.last.Currency)
	require.Equal(t, 3, store.last.Days)
}

func TestSingleFailureDoesNotStopLoop(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(n int, _ call) (*pricing.RoomsResponse, error) {
			if n == 2 {
				return nil, fmt.Errorf("connection reset")
			}
			return okResponse(80), nil
		},
	}
	store := &spyStore{}
	p := newTestPoller(fetcher, store, testHotels[:1])

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 4}, "")
	require.NoError(t, err)
	waitDone(t, p)

	require.Equal(t, 4, fetcher.callCount(), "remaining units still run after a failure")

	results := p.Results()
	require.Len(t, results, 1)
	require.Len(t, results[0].Prices, 4, "row length equals total units for the hotel")
	require.Nil(t, results[0].Prices[1].Price)
	require.NotNil(t, results[0].Prices[0].Price)
	require.NotNil(t, results[0].Prices[2].Price)
	require.Equal(t, 1, store.putCount())
}

func TestHTTPErrorAndExtractionMissRecordedAsUnknown(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(n int, _ call) (*pricing.RoomsResponse, error) {
			switch n {
			case 1:
				return &pricing.RoomsResponse{StatusCode: http.StatusBadGateway, Body: []byte(`oops`)}, nil
			case 2:
				return &pricing.RoomsResponse{StatusCode: http.StatusOK, Body: []byte(`{"block":[]}`)}, nil
			default:
				return okResponse(60), nil
			}
		},
	}
	store := &spyStore{}
	p := newTestPoller(fetcher, store, testHotels[:1])

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 3}, "")
	require.NoError(t, err)
	st := waitDone(t, p)

	results := p.Results()
	require.Len(t, results[0].Prices, 3)
	require.Nil(t, results[0].Prices[0].Price)
	require.Nil(t, results[0].Prices[1].Price)
	require.NotNil(t, results[0].Prices[2].Price)

	var severities []Severity
	for _, ev := range st.Log {
		if ev.Severity != SeverityInfo {
			severities = append(severities, ev.Severity)
		}
	}
	require.Equal(t, []Severity{SeverityErr, SeverityWarn, SeverityOK}, severities)
}

func TestCancelMidRunKeepsPartialResultsAndSkipsPersist(t *testing.T) {
	store := &spyStore{}
	var p *Poller
	fetcher := &fakeFetcher{}
	fetcher.onCall = func(n int) {
		// Cancel while the last unit of the second hotel is in flight;
		// the in-flight call still completes.
		if n == 4 {
			p.Cancel()
		}
	}
	p = newTestPoller(fetcher, store, testHotels)

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 2}, "")
	require.NoError(t, err)
	st := waitDone(t, p)

	require.True(t, st.Cancelled)
	require.Equal(t, 4, st.Completed)

	results := p.Results()
	require.Len(t, results, 2, "unattempted hotels are absent, not zero-filled")
	require.Len(t, results[0].Prices, 2)
	require.Len(t, results[1].Prices, 2)

	require.Zero(t, store.putCount(), "a cancelled run never persists")
}

func TestCancelBeforeFirstUnitCompletes(t *testing.T) {
	store := &spyStore{}
	var p *Poller
	fetcher := &fakeFetcher{}
	fetcher.onCall = func(n int) {
		if n == 1 {
			p.Cancel()
		}
	}
	p = newTestPoller(fetcher, store, testHotels)

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 2}, "")
	require.NoError(t, err)
	waitDone(t, p)

	require.Equal(t, 1, fetcher.callCount(), "the in-flight call completes, nothing else starts")
	require.Zero(t, store.putCount())
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{
		respond: func(n int, _ call) (*pricing.RoomsResponse, error) {
			<-release
			return okResponse(50), nil
		},
	}
	store := &spyStore{}
	p := newTestPoller(fetcher, store, testHotels[:1])

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 1}, "")
	require.NoError(t, err)

	_, err = p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 1}, "")
	require.Error(t, err, "a second start while running is rejected")

	close(release)
	waitDone(t, p)

	_, err = p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 1}, "")
	require.NoError(t, err)
	waitDone(t, p)
}

func TestPersistFailureDoesNotFailRun(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &spyStore{fail: true}
	p := newTestPoller(fetcher, store, testHotels[:1])

	_, err := p.Start(models.FetchParams{Currency: "USD", Adults: "2", Days: 2}, "")
	require.NoError(t, err)
	st := waitDone(t, p)

	require.False(t, st.Cancelled)
	require.Empty(t, st.SnapshotID)
	require.Len(t, p.Results(), 1, "in-memory results survive a failed write")
}

func TestSubscribeReceivesOneEventPerUnit(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &spyStore{}
	p := newTestPoller(fetcher, store, testHotels[:2])

	events := p.Subscribe()
	defer p.Unsubscribe(events)

	_, err := p.Start(models.FetchParams{Currency: "EUR", Adults: "2", Days: 2}, "")
	require.NoError(t, err)
	waitDone(t, p)

	var units, markers int
	timeout := time.After(2 * time.Second)
collect:
	for {
		select {
		case ev := <-events:
			if ev.Severity == SeverityInfo {
				markers++
				if ev.Message == "Run finished" {
					break collect
				}
			} else {
				units++
				require.Equal(t, 4, ev.Total)
				require.Contains(t, ev.Message, "→")
			}
		case <-timeout:
			t.Fatal("did not receive final event")
		}
	}
	require.Equal(t, 4, units, "one progress event per unit of work")
	require.Equal(t, 3, markers, "one start marker per hotel plus the final marker")
}
