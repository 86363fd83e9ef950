// Package nycthemeral computes the day/night cycle and lighting-hours
// windows an ecosystem follows; the sibling chaos package shares its
// daily-refresh cadence.
package nycthemeral

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

// SunTimes holds one place's daily light landmarks as an offset since local
// midnight. A nil field means "undefined for today" (
// "local time or null, polar day/night").
type SunTimes struct {
	TwilightBegin *time.Duration
	Sunrise       *time.Duration
	Sunset        *time.Duration
	TwilightEnd   *time.Duration
}

// TimeOfDay returns t's offset since local midnight on its own date.
func TimeOfDay(t time.Time) time.Duration {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return t.Sub(midnight)
}

// FromEntry converts a cached SunTimesEntry (absolute times, as persisted
// by gaiaconfig.Root) into the local-midnight-offset SunTimes Compute
// expects.
func FromEntry(e gaiaconfig.SunTimesEntry) SunTimes {
	toOffset := func(t *time.Time) *time.Duration {
		if t == nil {
			return nil
		}
		d := TimeOfDay(*t)
		return &d
	}
	return SunTimes{
		TwilightBegin: toOffset(e.TwilightBegin),
		Sunrise:       toOffset(e.Sunrise),
		Sunset:        toOffset(e.Sunset),
		TwilightEnd:   toOffset(e.TwilightEnd),
	}
}

const (
	polarDaySunrise = 0
	polarDaySunset  = 24*time.Hour - time.Millisecond
)

// Fetcher retrieves today's sun times for a place. Production code talks to
// sunrise-sunset.org; tests substitute a canned Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, place gaiaconfig.Place) (SunTimes, error)
}

// HTTPFetcher is the production Fetcher, grounded on
// original_source/src/gaia/config/environments.py's download_sun_times,
// which hits the same endpoint; this client requests formatted=0 (ISO 8601
// times, day_length in seconds) rather than "%I:%M:%S %p" strings.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string // defaults to https://api.sunrise-sunset.org/json
}

// NewHTTPFetcher builds an HTTPFetcher with sane defaults.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client:  &http.Client{Timeout: 3 * time.Second},
		BaseURL: "https://api.sunrise-sunset.org/json",
	}
}

type sunriseSunsetResponse struct {
	Status  string `json:"status"`
	Results struct {
		Sunrise            string `json:"sunrise"`
		Sunset             string `json:"sunset"`
		CivilTwilightBegin string `json:"civil_twilight_begin"`
		CivilTwilightEnd   string `json:"civil_twilight_end"`
		DayLength          int    `json:"day_length"` // seconds
	} `json:"results"`
}

// Fetch downloads today's sun times for place and converts the ISO 8601
// UTC timestamps the API returns for formatted=0 into local-midnight
// offsets.
//
// Polar day/night detection: the API reports
// day_length in seconds; a day_length at or beyond 24h means the sun never
// sets (polar day) and the engine substitutes the full-day window
// [00:00:00.000, 23:59:59.999]; a day_length of 0 means the sun never
// rises (polar night) and every field stays null.
func (f *HTTPFetcher) Fetch(ctx context.Context, place gaiaconfig.Place) (SunTimes, error) {
	u, err := url.Parse(f.BaseURL)
	if err != nil {
		return SunTimes{}, fmt.Errorf("nycthemeral: invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(place.Latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(place.Longitude, 'f', -1, 64))
	q.Set("formatted", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return SunTimes{}, fmt.Errorf("nycthemeral: building request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return SunTimes{}, fmt.Errorf("nycthemeral: fetching sun times: %w", err)
	}
	defer resp.Body.Close()

	var payload sunriseSunsetResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SunTimes{}, fmt.Errorf("nycthemeral: decoding sun times response: %w", err)
	}
	if payload.Status != "OK" {
		return SunTimes{}, fmt.Errorf("nycthemeral: sun times API returned status %q", payload.Status)
	}

	if payload.Results.DayLength >= 24*3600 {
		d, s := polarDaySunrise, polarDaySunset
		return SunTimes{Sunrise: &d, Sunset: &s}, nil
	}
	if payload.Results.DayLength <= 0 {
		return SunTimes{}, nil
	}

	sunrise, err := parseClock(payload.Results.Sunrise)
	if err != nil {
		return SunTimes{}, err
	}
	sunset, err := parseClock(payload.Results.Sunset)
	if err != nil {
		return SunTimes{}, err
	}
	twilightBegin, err := parseClock(payload.Results.CivilTwilightBegin)
	if err != nil {
		return SunTimes{}, err
	}
	twilightEnd, err := parseClock(payload.Results.CivilTwilightEnd)
	if err != nil {
		return SunTimes{}, err
	}
	return SunTimes{
		TwilightBegin: &twilightBegin,
		Sunrise:       &sunrise,
		Sunset:        &sunset,
		TwilightEnd:   &twilightEnd,
	}, nil
}

// parseClock converts an ISO 8601 UTC timestamp into a local-midnight
// offset, mirroring utc_time_to_local_time in the original Python source.
func parseClock(raw string) (time.Duration, error) {
	utc, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("nycthemeral: malformed time %q: %w", raw, err)
	}
	return TimeOfDay(utc.Local()), nil
}
