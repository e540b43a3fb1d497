package xkcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Comic is one fetched comic, or a note explaining why it is unavailable.
type Comic struct {
	Number     int
	Title      string
	URL        string
	ImageURL   string
	Alt        string
	Transcript string
	Published  time.Time
	// Note replaces the comic when the site answered without one.
	Note string
}

// Available reports whether the comic itself was fetched.
func (c Comic) Available() bool {
	return c.Note == ""
}

type comicPayload struct {
	Day        string `json:"day"`
	Month      string `json:"month"`
	Year       string `json:"year"`
	Img        string `json:"img"`
	Title      string `json:"title"`
	SafeTitle  string `json:"safe_title"`
	Transcript string `json:"transcript"`
	Alt        string `json:"alt"`
}

// Client fetches comic metadata at a bounded request rate. The zero value is
// not valid for use.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config) *Client {
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(limit, cfg.RequestBurst),
	}
}

// Fetch loads comic number.
//
// A 404 answer yields a "does not exist" note and other unsuccessful answers
// an "unable to fetch" note, both without error. Transport and decode
// failures return an error.
func (c *Client) Fetch(ctx context.Context, number int) (Comic, error) {
	comicURL := fmt.Sprintf("%s/%d/", c.baseURL, number)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, comicURL+"info.0.json", nil)
	if err != nil {
		return Comic{}, fmt.Errorf("fetch xkcd %d: %w", number, err)
	}

	response, err := c.do(request)
	if err != nil {
		return Comic{}, fmt.Errorf("fetch xkcd %d: %w", number, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return Comic{Number: number, Note: fmt.Sprintf("XKCD #%d does not exist.", number)}, nil
	case response.StatusCode < 200 || response.StatusCode > 299:
		return Comic{Number: number, Note: fmt.Sprintf("Unable to fetch XKCD #%d.", number)}, nil
	}

	var payload comicPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Comic{}, fmt.Errorf("decode xkcd %d: %w", number, err)
	}

	comic := Comic{
		Number:     number,
		Title:      payload.Title,
		URL:        comicURL,
		ImageURL:   payload.Img,
		Alt:        payload.Alt,
		Transcript: payload.Transcript,
		Published:  payloadDate(payload),
	}
	if comic.Title == "" {
		comic.Title = payload.SafeTitle
	}

	return comic, nil
}

// do waits until the client is within rate limits and then performs the request.
func (c *Client) do(request *http.Request) (*http.Response, error) {
	reservation := c.limiter.Reserve()
	if !reservation.OK() {
		return nil, errors.New("invalid limiter configuration")
	}

	timer := time.NewTimer(reservation.Delay())
	defer timer.Stop()
	select {
	case <-request.Context().Done():
		reservation.Cancel()
		return nil, request.Context().Err()
	case <-timer.C:
		return c.http.Do(request)
	}
}

// payloadDate builds the publication date; the API sends its parts as strings.
func payloadDate(payload comicPayload) time.Time {
	year, yearErr := strconv.Atoi(payload.Year)
	month, monthErr := strconv.Atoi(payload.Month)
	day, dayErr := strconv.Atoi(payload.Day)
	if yearErr != nil || monthErr != nil || dayErr != nil {
		return time.Time{}
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
