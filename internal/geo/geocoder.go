package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ontime/internal/meeting"
)

// UnknownAddress is reported when reverse lookup fails.
const UnknownAddress = "Unknown location"

// ReverseGeocoder resolves coordinates to a human readable address.
type ReverseGeocoder interface {
	Address(ctx context.Context, c meeting.Coordinates) (string, error)
}

// ErrNoGeocoder is returned by NoGeocoder.
var ErrNoGeocoder = errors.New("reverse geocoding not configured")

// NoGeocoder fails every lookup so callers fall back to UnknownAddress.
type NoGeocoder struct{}

// Address implements ReverseGeocoder.
func (NoGeocoder) Address(context.Context, meeting.Coordinates) (string, error) {
	return "", ErrNoGeocoder
}

// Nominatim calls a Nominatim-compatible /reverse endpoint.
type Nominatim struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// NewNominatim creates a geocoder client.
func NewNominatim(baseURL, userAgent string) *Nominatim {
	return &Nominatim{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Address implements ReverseGeocoder.
func (n *Nominatim) Address(ctx context.Context, c meeting.Coordinates) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', 6, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if n.UserAgent != "" {
		req.Header.Set("User-Agent", n.UserAgent)
	}

	resp, err := n.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocoder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("geocoder error %s: %s", resp.Status, string(body))
	}
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if out.DisplayName == "" {
		return "", errors.New("geocoder returned no address")
	}
	return out.DisplayName, nil
}

// AddressOrUnknown resolves c, falling back to UnknownAddress on any failure.
func AddressOrUnknown(ctx context.Context, g ReverseGeocoder, c meeting.Coordinates) string {
	if g == nil {
		return UnknownAddress
	}
	addr, err := g.Address(ctx, c)
	if err != nil || strings.TrimSpace(addr) == "" {
		return UnknownAddress
	}
	return addr
}
