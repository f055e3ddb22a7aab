// Package worlddata provides a client for the world-data API serving
// weather and environmental observations around a coordinate.
package worlddata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the world-data operations.
type Client interface {
	// LocationBulk fetches environmental data for several coordinates in
	// one request. Results are positional: results[i] answers queries[i].
	LocationBulk(ctx context.Context, queries []LocationQuery) ([]LocationData, error)
}

// LocationQuery asks for conditions at a coordinate on a date. The date
// is normalized to noon UTC on the wire so every caller lands inside the
// provider's daily forecast bucket. Sources names the provider data sets
// the caller needs; the provider only computes what is asked for.
type LocationQuery struct {
	Latitude  float64
	Longitude float64
	Date      time.Time
	Sources   []string
}

// Weather is the per-location daily weather snapshot.
type Weather struct {
	TempHighF         float64 `json:"temp_high_f"`
	TempLowF          float64 `json:"temp_low_f"`
	HeatIndexF        float64 `json:"heat_index_f"`
	WindChillF        float64 `json:"wind_chill_f"`
	GustMPH           float64 `json:"gust_mph"`
	SustainedWindMPH  float64 `json:"sustained_wind_mph"`
	PrecipIntensityIn float64 `json:"precip_intensity_in"`
	PrecipProbability float64 `json:"precip_probability"`
	VisibilityMiles   float64 `json:"visibility_miles"`
	HumidityPct       float64 `json:"humidity_pct"`
	LightningProb     float64 `json:"lightning_prob"`
}

// LocationData is one coordinate's answer.
type LocationData struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Weather         Weather `json:"weather"`
	AirQualityIndex int     `json:"air_quality_index"`
}

// wireQuery is one entry of the request array.
type wireQuery struct {
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Datetime      string   `json:"datetime"`
	RoadwayRadius int      `json:"roadwayRadius"`
	Sources       []string `json:"sources"`
}

// apiError is one entry of the response errors list.
type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e apiError) String() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// indexedResult is one `[index, LocationResponse]` pair of the response
// data list. Entries may arrive in any order.
type indexedResult struct {
	Index int
	Data  LocationData
}

func (r *indexedResult) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("expected [index, response] pair, got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.Index); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &r.Data)
}

func (r indexedResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Index, r.Data})
}

type bulkResponse struct {
	Data   []indexedResult `json:"data"`
	Errors []apiError      `json:"errors,omitempty"`
}

// Option configures the world-data client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRoadwayRadius sets the sensor search radius in meters.
func WithRoadwayRadius(meters int) Option {
	return func(c *httpClient) {
		c.radius = meters
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	token   string
	baseURL string
	radius  int
	http    *http.Client

	// Per-query cache: a (coordinate, date, sources) tuple is immutable
	// for the provider's daily bucket, so repeated evaluator passes on
	// the same day skip the wire.
	mu    sync.Mutex
	cache map[string]LocationData
}

// NewClient creates a world-data client. Calls are not retried here: the
// evaluator treats a failed batch as fatal for the run and the next
// scheduled evaluation recovers.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		radius:  100,
		cache:   make(map[string]LocationData),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type correlationKey struct{}

// WithCorrelationID stamps a correlation id onto the context; the client
// forwards it as X-Correlation-ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// noonUTC pins a date to 12:00 UTC.
func noonUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// sortedSources returns a sorted copy so the wire entry and the cache key
// are deterministic regardless of caller ordering.
func sortedSources(sources []string) []string {
	out := make([]string, len(sources))
	copy(out, sources)
	sort.Strings(out)
	return out
}

func (c *httpClient) cacheKey(q LocationQuery, sources []string) string {
	return fmt.Sprintf("%v,%v|%s|%d|%s",
		q.Latitude, q.Longitude,
		noonUTC(q.Date).Format(time.RFC3339),
		c.radius,
		strings.Join(sources, ","))
}

func (c *httpClient) LocationBulk(ctx context.Context, queries []LocationQuery) ([]LocationData, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	out := make([]LocationData, len(queries))
	type pending struct {
		pos int
		key string
	}
	var (
		misses []pending
		wire   []wireQuery
	)

	c.mu.Lock()
	for i, q := range queries {
		sources := sortedSources(q.Sources)
		key := c.cacheKey(q, sources)
		if data, ok := c.cache[key]; ok {
			out[i] = data
			continue
		}
		misses = append(misses, pending{pos: i, key: key})
		wire = append(wire, wireQuery{
			Lat:           q.Latitude,
			Lon:           q.Longitude,
			Datetime:      noonUTC(q.Date).Format(time.RFC3339),
			RoadwayRadius: c.radius,
			Sources:       sources,
		})
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.fetch(ctx, wire)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, m := range misses {
		out[m.pos] = fetched[j]
		c.cache[m.key] = fetched[j]
	}
	c.mu.Unlock()

	return out, nil
}

// fetch posts the query array and reassembles the indexed response pairs
// into request order.
func (c *httpClient) fetch(ctx context.Context, wire []wireQuery) ([]LocationData, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, eris.Wrap(err, "worlddata: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/location/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "worlddata: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := correlationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "worlddata: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "worlddata: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Errorf("worlddata: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result bulkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "worlddata: unmarshal response")
	}
	// A populated errors field means some coordinates failed server-side;
	// partial data would skew the evaluation, so the whole batch fails.
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.String())
		}
		return nil, eris.Errorf("worlddata: upstream errors: %s", strings.Join(msgs, "; "))
	}

	fetched := make([]LocationData, len(wire))
	seen := make([]bool, len(wire))
	for _, pair := range result.Data {
		if pair.Index < 0 || pair.Index >= len(wire) {
			return nil, eris.Errorf("worlddata: result index %d out of range for %d queries",
				pair.Index, len(wire))
		}
		if seen[pair.Index] {
			return nil, eris.Errorf("worlddata: duplicate result for index %d", pair.Index)
		}
		fetched[pair.Index] = pair.Data
		seen[pair.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, eris.Errorf("worlddata: no result for query %d of %d", i, len(wire))
		}
	}
	return fetched, nil
}
