// Package places looks up point-of-interest details via the Google
// Places API. The lookup is optional context for answers: callers are
// expected to degrade gracefully when it fails or finds nothing.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound indicates the query matched no place.
var ErrNotFound = errors.New("place not found")

// defaultBaseURL is the Google Places API endpoint prefix.
const defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

// detailFields are the place details requested, mirroring what the
// answer formatter renders.
const detailFields = "name,formatted_address,formatted_phone_number,website,opening_hours,business_status"

// Place is structured point-of-interest information.
type Place struct {
	Name         string
	Address      string
	Phone        string
	Website      string
	Status       string
	OpenNow      *bool
	WeekdayHours []string
}

// Format renders the place as the text block merged into answer context.
func (p *Place) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Address: %s\n", p.Address)
	if p.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", p.Phone)
	}
	if p.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", p.Website)
	}
	if p.OpenNow != nil {
		if *p.OpenNow {
			b.WriteString("Currently: Open\n")
		} else {
			b.WriteString("Currently: Closed\n")
		}
	}
	if len(p.WeekdayHours) > 0 {
		b.WriteString("Opening Hours:\n")
		for _, h := range p.WeekdayHours {
			fmt.Fprintf(&b, "  %s\n", h)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Client is a Google Places API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a places client.
func NewClient(apiKey string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("places: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

type searchResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID string `json:"place_id"`
	} `json:"results"`
}

type detailsResponse struct {
	Status string `json:"status"`
	Result struct {
		Name         string `json:"name"`
		Address      string `json:"formatted_address"`
		Phone        string `json:"formatted_phone_number"`
		Website      string `json:"website"`
		Status       string `json:"business_status"`
		OpeningHours *struct {
			OpenNow     *bool    `json:"open_now"`
			WeekdayText []string `json:"weekday_text"`
		} `json:"opening_hours"`
	} `json:"result"`
}

// Lookup resolves a free-text place query to structured place info.
// Returns ErrNotFound when the API has no match.
func (c *Client) Lookup(ctx context.Context, query string) (*Place, error) {
	var search searchResponse
	params := url.Values{"query": {query}, "key": {c.apiKey}}
	if err := c.getJSON(ctx, "/textsearch/json", params, &search); err != nil {
		return nil, err
	}
	// A failed call also comes back with empty results; only an OK or
	// ZERO_RESULTS status may read as not-found.
	if search.Status != "OK" && search.Status != "ZERO_RESULTS" {
		return nil, fmt.Errorf("places search status %s", search.Status)
	}
	if search.Status == "ZERO_RESULTS" || len(search.Results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, query)
	}

	var details detailsResponse
	params = url.Values{
		"place_id": {search.Results[0].PlaceID},
		"fields":   {detailFields},
		"key":      {c.apiKey},
	}
	if err := c.getJSON(ctx, "/details/json", params, &details); err != nil {
		return nil, err
	}
	if details.Status != "OK" {
		return nil, fmt.Errorf("places details status %s", details.Status)
	}

	r := details.Result
	place := &Place{
		Name:    r.Name,
		Address: r.Address,
		Phone:   r.Phone,
		Website: r.Website,
		Status:  r.Status,
	}
	if r.OpeningHours != nil {
		place.OpenNow = r.OpeningHours.OpenNow
		place.WeekdayHours = r.OpeningHours.WeekdayText
	}

	c.logger.Debug("place resolved", "query", query, "name", place.Name)
	return place, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building places request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("places request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("places API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding places response: %w", err)
	}
	return nil
}
