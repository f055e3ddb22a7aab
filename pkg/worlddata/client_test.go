package worlddata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationBulk(t *testing.T) {
	var captured struct {
		auth        string
		correlation string
		body        []wireQuery
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.auth = r.Header.Get("Authorization")
		captured.correlation = r.Header.Get("X-Correlation-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))
		require.Equal(t, "/location/bulk", r.URL.Path)

		json.NewEncoder(w).Encode(bulkResponse{ //nolint:errcheck
			Data: []indexedResult{
				{Index: 0, Data: LocationData{Latitude: 40.7, Longitude: -74.0,
					Weather: Weather{GustMPH: 42, HeatIndexF: 95}, AirQualityIndex: 120}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", WithRoadwayRadius(250))
	ctx := WithCorrelationID(context.Background(), "corr-123")

	results, err := client.LocationBulk(ctx, []LocationQuery{
		{Latitude: 40.7, Longitude: -74.0,
			Date:    time.Date(2023, 3, 1, 18, 30, 0, 0, time.UTC),
			Sources: []string{"weather", "air_quality"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "Bearer test-token", captured.auth)
	assert.Equal(t, "corr-123", captured.correlation)
	require.Len(t, captured.body, 1)
	assert.Equal(t, 40.7, captured.body[0].Lat)
	assert.Equal(t, -74.0, captured.body[0].Lon)
	assert.Equal(t, "2023-03-01T12:00:00Z", captured.body[0].Datetime)
	assert.Equal(t, 250, captured.body[0].RoadwayRadius)
	assert.Equal(t, []string{"air_quality", "weather"}, captured.body[0].Sources)
	assert.Equal(t, 42.0, results[0].Weather.GustMPH)
	assert.Equal(t, 120, results[0].AirQualityIndex)
}

func TestLocationBulk_ReordersIndexedResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bulkResponse{ //nolint:errcheck
			Data: []indexedResult{
				{Index: 1, Data: LocationData{AirQualityIndex: 2}},
				{Index: 0, Data: LocationData{AirQualityIndex: 1}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "token")
	results, err := client.LocationBulk(context.Background(), []LocationQuery{
		{Latitude: 1, Longitude: 1},
		{Latitude: 2, Longitude: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].AirQualityIndex)
	assert.Equal(t, 2, results[1].AirQualityIndex)
}

func TestLocationBulk_CachesRepeatedQueries(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var body []wireQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		resp := bulkResponse{}
		for i := range body {
			resp.Data = append(resp.Data, indexedResult{Index: i,
				Data: LocationData{Latitude: body[i].Lat, Longitude: body[i].Lon}})
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer server.Close()

	client := NewClient(server.URL, "token")
	queries := []LocationQuery{
		{Latitude: 40.7, Longitude: -74.0, Date: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), Sources: []string{"weather"}},
		{Latitude: 34.0, Longitude: -118.2, Date: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), Sources: []string{"weather"}},
	}

	first, err := client.LocationBulk(context.Background(), queries)
	require.NoError(t, err)
	second, err := client.LocationBulk(context.Background(), queries)
	require.NoError(t, err)

	assert.Equal(t, 1, requests, "identical queries must be served from cache")
	assert.Equal(t, first, second)

	// A new coordinate fetches only the miss.
	mixed, err := client.LocationBulk(context.Background(), append(queries, LocationQuery{
		Latitude: 51.5, Longitude: -0.1, Date: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), Sources: []string{"weather"},
	}))
	require.NoError(t, err)
	require.Len(t, mixed, 3)
	assert.Equal(t, 2, requests)
	assert.Equal(t, 51.5, mixed[2].Latitude)
}

func TestLocationBulk_EmptyQueries(t *testing.T) {
	client := NewClient("http://unused", "token")
	results, err := client.LocationBulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestLocationBulk_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "token")
	_, err := client.LocationBulk(context.Background(), []LocationQuery{{Latitude: 1, Longitude: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestLocationBulk_UpstreamErrorsFailBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bulkResponse{ //nolint:errcheck
			Data:   []indexedResult{{Index: 0, Data: LocationData{}}},
			Errors: []apiError{{Code: "NO_COVERAGE", Message: "no coverage at (1.0, 2.0)"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "token")
	_, err := client.LocationBulk(context.Background(), []LocationQuery{{Latitude: 1, Longitude: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NO_COVERAGE")
	assert.Contains(t, err.Error(), "no coverage")
}

func TestLocationBulk_MissingResultFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bulkResponse{}) //nolint:errcheck
	}))
	defer server.Close()

	client := NewClient(server.URL, "token")
	_, err := client.LocationBulk(context.Background(), []LocationQuery{{Latitude: 1, Longitude: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result for query 0")
}

func TestLocationBulk_OutOfRangeIndexFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bulkResponse{ //nolint:errcheck
			Data: []indexedResult{{Index: 5, Data: LocationData{}}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "token")
	_, err := client.LocationBulk(context.Background(), []LocationQuery{{Latitude: 1, Longitude: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 5 out of range")
}
