package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"hotel-rates/internal/models"
	"hotel-rates/internal/services/pricing"
	"hotel-rates/internal/storage"
)

// unitDelay throttles calls against the provider. Fixed, not adaptive.
const unitDelay = 150 * time.Millisecond

// maxLogLines bounds the in-memory progress log kept per run.
const maxLogLines = 500

// Fetcher is the one outbound call the loop depends on.
type Fetcher interface {
	FetchRooms(ctx context.Context, hotelID, arrivalDate, departureDate, guests, currency string) (*pricing.RoomsResponse, error)
}

// Severity of a progress event: info, ok, warn (no price found), err.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityOK   Severity = "ok"
	SeverityWarn Severity = "warn"
	SeverityErr  Severity = "err"
)

// Event is emitted once per unit of work plus informational markers.
type Event struct {
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
	Label     string   `json:"label"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Status is a copyable view of the current (or last) run.
type Status struct {
	Running    bool       `json:"running"`
	Cancelled  bool       `json:"cancelled"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	Currency   string     `json:"currency"`
	Adults     string     `json:"adults"`
	Days       int        `json:"days"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	SnapshotID string     `json:"snapshot_id,omitempty"`
	Log        []Event    `json:"log"`
}

type job struct {
	status    Status
	fetchedBy string
	cancelled bool
	results   []models.HotelResult
}

// Poller runs at most one sequential rate-polling job at a time. It owns
// all run state; callers interact through Start, Cancel, Status, Results
// and Subscribe.
type Poller struct {
	fetcher Fetcher
	store   storage.SnapshotStore
	hotels  []models.Hotel
	delay   time.Duration
	now     func() time.Time

	mu   sync.Mutex
	job  *job
	subs map[chan Event]struct{}
}

func New(fetcher Fetcher, store storage.SnapshotStore, hotels []models.Hotel) *Poller {
	return &Poller{
		fetcher: fetcher,
		store:   store,
		hotels:  hotels,
		delay:   unitDelay,
		now:     time.Now,
		subs:    make(map[chan Event]struct{}),
	}
}

// DateWindow returns n consecutive check-in dates starting tomorrow,
// ascending. Today is never polled.
func DateWindow(now time.Time, n int) []time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dates := make([]time.Time, 0, n)
	for i := 1; i <= n; i++ {
		dates = append(dates, today.AddDate(0, 0, i))
	}
	return dates
}

// Start launches a run for the given parameters. Returns an error when a
// run is already active; at most one poll executes at a time.
func (p *Poller) Start(params models.FetchParams, fetchedBy string) (*Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job != nil && p.job.status.Running {
		return nil, fmt.Errorf("poll already running")
	}

	dates := DateWindow(p.now(), params.Days)
	j := &job{
		status: Status{
			Running:   true,
			Total:     len(p.hotels) * len(dates),
			Currency:  params.Currency,
			Adults:    params.Adults,
			Days:      params.Days,
			StartedAt: p.now(),
		},
		fetchedBy: fetchedBy,
	}
	p.job = j

	go p.run(j, dates)

	st := j.status
	return &st, nil
}

// Cancel requests cooperative cancellation of the active run. The unit of
// work in flight always completes; remaining units are never attempted.
func (p *Poller) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job == nil || !p.job.status.Running {
		return false
	}
	p.job.cancelled = true
	p.job.status.Cancelled = true
	return true
}

// Status returns a copy of the current run state, or nil if no run was
// ever started.
func (p *Poller) Status() *Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job == nil {
		return nil
	}
	st := p.job.status
	st.Log = append([]Event(nil), p.job.status.Log...)
	return &st
}

// Results returns the hotel rows accumulated by the current or last run.
func (p *Poller) Results() []models.HotelResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job == nil {
		return nil
	}
	return append([]models.HotelResult(nil), p.job.results...)
}

// Subscribe registers a progress event channel. The caller must drain it;
// slow subscribers miss events rather than stalling the loop.
func (p *Poller) Subscribe() chan Event {
	ch := make(chan Event, 64)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

func (p *Poller) Unsubscribe(ch chan Event) {
	p.mu.Lock()
	if _, ok := p.subs[ch]; ok {
		delete(p.subs, ch)
		close(ch)
	}
	p.mu.Unlock()
}

func (p *Poller) run(j *job, dates []time.Time) {
	ctx := context.Background()
	currency := j.status.Currency
	adults := j.status.Adults

	log.Printf("[Poller] Starting run: %d hotels x %d dates (%s, %s adults)",
		len(p.hotels), len(dates), currency, adults)

	for _, hotel := range p.hotels {
		if p.isCancelled(j) {
			break
		}
		p.emit(j, Event{
			Completed: p.completed(j),
			Total:     j.status.Total,
			Label:     hotel.Name,
			Message:   fmt.Sprintf("Starting: %s", hotel.Name),
			Severity:  SeverityInfo,
		})

		prices := make([]models.PricePoint, 0, len(dates))
		for _, checkIn := range dates {
			if p.isCancelled(j) {
				break
			}
			checkInStr := models.DateKey(checkIn)
			checkOutStr := models.DateKey(checkIn.AddDate(0, 0, 1))

			price, errMsg := p.fetchOne(ctx, hotel.ID, checkInStr, checkOutStr, adults, currency)
			prices = append(prices, models.PricePoint{Date: checkInStr, Price: price})

			p.finishUnit(j, hotel.Name, checkInStr, currency, price, errMsg)
			time.Sleep(p.delay)
		}

		// Partial rows from a cancelled run are kept; hotels that were
		// never attempted do not appear at all.
		p.mu.Lock()
		j.results = append(j.results, models.HotelResult{
			Name:   hotel.Name,
			ID:     hotel.ID,
			Mine:   hotel.Mine,
			Prices: prices,
		})
		p.mu.Unlock()
	}

	p.finish(j)
}

// fetchOne performs one unit of work: a single provider call plus price
// extraction. A nil price with an empty errMsg means the call succeeded but
// no price was discoverable.
func (p *Poller) fetchOne(ctx context.Context, hotelID, checkIn, checkOut, adults, currency string) (*int, string) {
	resp, err := p.fetcher.FetchRooms(ctx, hotelID, checkIn, checkOut, adults, currency)
	if err != nil {
		return nil, err.Error()
	}
	if !resp.OK() {
		return nil, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	price, ok := pricing.ExtractPrice(resp.Body)
	if !ok {
		return nil, ""
	}
	return &price, ""
}

func (p *Poller) finishUnit(j *job, hotelName, checkIn, currency string, price *int, errMsg string) {
	p.mu.Lock()
	j.status.Completed++
	completed := j.status.Completed
	p.mu.Unlock()

	ev := Event{
		Completed: completed,
		Total:     j.status.Total,
		Label:     hotelName,
	}
	switch {
	case errMsg != "":
		ev.Message = fmt.Sprintf("✗ %s → %s", checkIn, errMsg)
		ev.Severity = SeverityErr
	case price == nil:
		ev.Message = fmt.Sprintf("✗ %s → no price found", checkIn)
		ev.Severity = SeverityWarn
	default:
		sym := models.CurrencySymbols[currency]
		if sym == "" {
			sym = "$"
		}
		ev.Message = fmt.Sprintf("✓ %s → %s%d", checkIn, sym, *price)
		ev.Severity = SeverityOK
	}
	p.emit(j, ev)
}

func (p *Poller) finish(j *job) {
	p.mu.Lock()
	cancelled := j.cancelled
	results := append([]models.HotelResult(nil), j.results...)
	fetchedBy := j.fetchedBy
	currency := j.status.Currency
	adults := j.status.Adults
	days := j.status.Days
	p.mu.Unlock()

	// A cancelled run never persists, no matter how far it got. The
	// accumulated results stay readable through Results.
	if !cancelled && len(results) > 0 {
		snapshot, err := p.store.Put(results, currency, adults, days, fetchedBy)
		if err != nil {
			log.Printf("[Poller] Snapshot write failed: %v", err)
		} else {
			p.mu.Lock()
			j.status.SnapshotID = snapshot.ID
			p.mu.Unlock()
			log.Printf("[Poller] Snapshot %s stored (%d hotels)", snapshot.ID, len(results))
		}
	}

	p.mu.Lock()
	j.status.Running = false
	now := p.now()
	j.status.FinishedAt = &now
	p.mu.Unlock()

	p.emit(j, Event{
		Completed: p.completed(j),
		Total:     j.status.Total,
		Message:   "Run finished",
		Severity:  SeverityInfo,
	})
}

func (p *Poller) isCancelled(j *job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return j.cancelled
}

func (p *Poller) completed(j *job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return j.status.Completed
}

func (p *Poller) emit(j *job, ev Event) {
	p.mu.Lock()
	j.status.Log = append(j.status.Log, ev)
	if len(j.status.Log) > maxLogLines {
		j.status.Log = j.status.Log[len(j.status.Log)-maxLogLines:]
	}
	for ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	p.mu.Unlock()
}
