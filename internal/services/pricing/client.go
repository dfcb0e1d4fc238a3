package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	providerBaseURL = "https://apidojo-booking-v1.p.rapidapi.com"
	providerHost    = "apidojo-booking-v1.p.rapidapi.com"
	roomsEndpoint   = "/properties/v2/get-rooms"
)

// ErrNoAPIKey is returned when the provider credential is unconfigured.
// It is a configuration error, not a fetch error: no request is attempted.
var ErrNoAPIKey = fmt.Errorf("RAPIDAPI_KEY not configured in environment")

// Client performs single rate queries against the booking rates provider.
// It never retries; a failed call is the caller's problem to record.
type Client struct {
	apiKey  string
	baseURL string
	client  *resty.Client
}

// RoomsResponse carries the provider's verbatim reply for one query.
type RoomsResponse struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the provider answered with a 2xx status.
func (r *RoomsResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func NewClient(apiKey string) *Client {
	client := resty.New()
	client.SetTimeout(30 * time.Second)

	return &Client{
		apiKey:  apiKey,
		baseURL: providerBaseURL,
		client:  client,
	}
}

// FetchRooms queries available rooms and rates for one hotel and stay.
// Room count, language and units are fixed; only the hotel, the dates, the
// guest count and the currency vary. The response is returned for any HTTP
// status; only transport failures produce an error.
func (c *Client) FetchRooms(ctx context.Context, hotelID, arrivalDate, departureDate, guests, currency string) (*RoomsResponse, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if guests == "" {
		guests = "2"
	}
	if currency == "" {
		currency = "USD"
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"hotel_id":       hotelID,
			"arrival_date":   arrivalDate,
			"departure_date": departureDate,
			"rec_guest_qty":  guests,
			"rec_room_qty":   "1",
			"currency_code":  currency,
			"languagecode":   "en-us",
			"units":          "metric",
		}).
		SetHeader("X-RapidAPI-Key", c.apiKey).
		SetHeader("X-RapidAPI-Host", providerHost).
		Get(c.baseURL + roomsEndpoint)
	if err != nil {
		return nil, err
	}

	return &RoomsResponse{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}, nil
}
