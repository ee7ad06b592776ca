package external

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braveforms/internal/types"
)

const testOWMKey = "owm-test-key-123"

func newTestOpenWeatherClient(t *testing.T, baseURL string, key string) *OpenWeatherClient {
	t.Helper()
	base := NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "openweather-test", RetryPolicy{}, "BrAveForms-Test/1.0",
		WithSleepFunc(noopSleep))
	return NewOpenWeatherClientWithBase(base, OpenWeatherConfig{BaseURL: baseURL, APIKey: types.SecretString(key)}, nil)
}

// hourlyBody builds n hourly entries each with the given rain and snow mm.
func hourlyBody(n int, rain, snow string) string {
	body := `{"lat":30.27,"lon":-97.74,"hourly":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			body += ","
		}
		entry := fmt.Sprintf(`{"dt":%d`, 1704708000+i*3600)
		if rain != "" {
			entry += fmt.Sprintf(`,"rain":{"1h":%s}`, rain)
		}
		if snow != "" {
			entry += fmt.Sprintf(`,"snow":{"1h":%s}`, snow)
		}
		body += entry + "}"
	}
	return body + "]}"
}

func TestOpenWeather_SumsRainAndSnowWaterEquivalent(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/3.0/onecall", r.URL.Path)
		q := r.URL.Query()
		gotQuery = map[string]string{
			"lat": q.Get("lat"), "lon": q.Get("lon"), "exclude": q.Get("exclude"),
			"units": q.Get("units"), "appid": q.Get("appid"),
		}
		// 48 hours; only the first 24 count. 24 * (0.2 + 0.1*0.5) = 6.0mm
		fmt.Fprint(w, hourlyBody(48, "0.2", "0.5"))
	}))
	defer srv.Close()

	res := newTestOpenWeatherClient(t, srv.URL, testOWMKey).GetPrecipitation(context.Background(), austinLat, austinLon)

	require.Equal(t, types.SourceStateValue, res.State, "result: %+v", res)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.2362206")), "got %s", res.Amount)
	assert.Equal(t, "30.2672", gotQuery["lat"])
	assert.Equal(t, "-97.7431", gotQuery["lon"])
	assert.Equal(t, "current,minutely,daily,alerts", gotQuery["exclude"])
	assert.Equal(t, "metric", gotQuery["units"])
	assert.Equal(t, testOWMKey, gotQuery["appid"])
}

func TestOpenWeather_DryHoursAreZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, hourlyBody(24, "", ""))
	}))
	defer srv.Close()

	res := newTestOpenWeatherClient(t, srv.URL, testOWMKey).GetPrecipitation(context.Background(), austinLat, austinLon)
	require.Equal(t, types.SourceStateValue, res.State)
	assert.True(t, res.Amount.IsZero())
}

func TestOpenWeather_FailuresAreNeverZero(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"unauthorized", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) }},
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"malformed", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, `{"hourly":[`) }},
		{"missing hourly", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, `{"lat":30.27}`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			res := newTestOpenWeatherClient(t, srv.URL, testOWMKey).GetPrecipitation(context.Background(), austinLat, austinLon)
			require.Equal(t, types.SourceStateFailed, res.State)
			require.Error(t, res.Err)
			assert.NotContains(t, res.Err.Error(), testOWMKey)
		})
	}
}

func TestOpenWeather_TimeoutIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestOpenWeatherClient(t, srv.URL, testOWMKey).GetPrecipitation(ctx, austinLat, austinLon)
	require.Equal(t, types.SourceStateFailed, res.State)
	assert.NotContains(t, res.Err.Error(), testOWMKey)
}

func TestOpenWeather_MissingKeyIsFailed(t *testing.T) {
	res := newTestOpenWeatherClient(t, "http://127.0.0.1:1", "").GetPrecipitation(context.Background(), austinLat, austinLon)
	assert.Equal(t, types.SourceStateFailed, res.State)
}
