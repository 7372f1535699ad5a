// Package property is the client for the external property index.
package property

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sindi-homes/assistant/internal/model"
)

// ErrNotFound is returned by ByID for unknown properties.
var ErrNotFound = errors.New("property not found")

// SearchQuery is a text + filter query.
type SearchQuery struct {
	Text    string
	Filters model.Filters
	Exclude []string
	Limit   int
}

// NearbyQuery is a proximity query around a point.
type NearbyQuery struct {
	Point        model.GeoPoint
	MaxDistanceM int
	Filters      model.Filters
	Exclude      []string
	Limit        int
}

// IndexClient is the property index collaborator.
type IndexClient interface {
	Search(ctx context.Context, q SearchQuery) ([]model.Property, error)
	Nearby(ctx context.Context, q NearbyQuery) ([]model.Property, error)
	ByID(ctx context.Context, id string) (*model.Property, error)
}

// HTTPClient talks to the property index over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the index rooted at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type listResponse struct {
	Success    bool             `json:"success"`
	Properties []model.Property `json:"properties"`
	Data       []model.Property `json:"data"`
}

func (r *listResponse) items() []model.Property {
	if len(r.Properties) > 0 {
		return r.Properties
	}
	return r.Data
}

type singleResponse struct {
	Success  bool            `json:"success"`
	Property *model.Property `json:"property"`
	Data     *model.Property `json:"data"`
}

// Search implements IndexClient.
func (c *HTTPClient) Search(ctx context.Context, q SearchQuery) ([]model.Property, error) {
	params := FilterParams(q.Filters)
	if q.Text != "" {
		params.Set("q", q.Text)
	}
	setCommon(params, q.Exclude, q.Limit)

	var resp listResponse
	if err := c.get(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}
	return resp.items(), nil
}

// Nearby implements IndexClient.
func (c *HTTPClient) Nearby(ctx context.Context, q NearbyQuery) ([]model.Property, error) {
	params := FilterParams(q.Filters)
	params.Set("lng", strconv.FormatFloat(q.Point.Lng, 'f', -1, 64))
	params.Set("lat", strconv.FormatFloat(q.Point.Lat, 'f', -1, 64))
	params.Set("maxDistance", strconv.Itoa(q.MaxDistanceM))
	setCommon(params, q.Exclude, q.Limit)

	var resp listResponse
	if err := c.get(ctx, "/nearby", params, &resp); err != nil {
		return nil, err
	}
	return resp.items(), nil
}

// ByID implements IndexClient.
func (c *HTTPClient) ByID(ctx context.Context, id string) (*model.Property, error) {
	var resp singleResponse
	if err := c.get(ctx, "/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Property != nil {
		return resp.Property, nil
	}
	if resp.Data != nil {
		return resp.Data, nil
	}
	return nil, ErrNotFound
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("property index %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("property index %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func setCommon(params url.Values, exclude []string, limit int) {
	if len(exclude) > 0 {
		params.Set("exclude", strings.Join(exclude, ","))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
}

// FilterParams encodes filters as index query parameters.
func FilterParams(f model.Filters) url.Values {
	params := url.Values{}
	setString := func(k, v string) {
		if v != "" {
			params.Set(k, v)
		}
	}
	setFloat := func(k string, v *float64) {
		if v != nil {
			params.Set(k, strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	setInt := func(k string, v *int) {
		if v != nil {
			params.Set(k, strconv.Itoa(*v))
		}
	}
	setBool := func(k string, v *bool) {
		if v != nil {
			params.Set(k, strconv.FormatBool(*v))
		}
	}

	setString("type", f.Type)
	setFloat("minRent", f.MinRent)
	setFloat("maxRent", f.MaxRent)
	setString("city", f.City)
	setString("state", f.State)
	setString("neighborhood", f.Neighborhood)
	setInt("bedrooms", f.Bedrooms)
	setInt("minBedrooms", f.MinBedrooms)
	setInt("maxBedrooms", f.MaxBedrooms)
	setInt("bathrooms", f.Bathrooms)
	setInt("minBathrooms", f.MinBathrooms)
	setInt("maxBathrooms", f.MaxBathrooms)
	if len(f.Amenities) > 0 {
		params.Set("amenities", strings.Join(f.Amenities, ","))
	}
	setBool("verified", f.Verified)
	setBool("eco", f.Eco)
	setBool("petFriendly", f.PetFriendly)
	setBool("furnished", f.Furnished)
	setInt("minLeaseMonths", f.MinLeaseMonths)
	setInt("maxLeaseMonths", f.MaxLeaseMonths)
	setString("availableFrom", f.AvailableFrom)
	return params
}
