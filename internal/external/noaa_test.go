package external

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braveforms/internal/types"
)

const (
	austinLat = 30.2672
	austinLon = -97.7431

	pointsPath   = "/points/30.2672,-97.7431"
	stationsPath = "/gridpoints/EWX/156,91/stations"
	gridPath     = "/gridpoints/EWX/156,91"
	forecastPath = "/gridpoints/EWX/156,91/forecast"
)

// noaaNow is the fake clock time; the precipitation window is the 24h before it.
var noaaNow = time.Date(2024, time.January, 8, 12, 0, 0, 0, time.UTC)

type noaaServer struct {
	*httptest.Server
	mux *http.ServeMux
}

// newNOAAServer starts a server whose points response links back to itself.
func newNOAAServer(t *testing.T) *noaaServer {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc(pointsPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, noaaAccept, r.Header.Get("Accept"))
		fmt.Fprintf(w, `{"properties":{
			"forecast":"%[1]s%[2]s",
			"forecastGridData":"%[1]s%[3]s",
			"observationStations":"%[1]s%[4]s"}}`,
			srv.URL, forecastPath, gridPath, stationsPath)
	})
	return &noaaServer{Server: srv, mux: mux}
}

func (s *noaaServer) json(path, body string) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", noaaAccept)
		fmt.Fprint(w, body)
	})
}

func (s *noaaServer) status(path string, code int) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func (s *noaaServer) stations(ids ...string) {
	body := `{"features":[`
	for i, id := range ids {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"properties":{"stationIdentifier":%q}}`, id)
	}
	s.json(stationsPath, body+`]}`)
}

func newTestNOAAClient(t *testing.T, baseURL string) *NOAAClient {
	t.Helper()
	base := NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "noaa-test", RetryPolicy{}, "BrAveForms-Test/1.0",
		WithSleepFunc(noopSleep))
	return NewNOAAClientWithBase(base, NOAAConfig{BaseURL: baseURL, MaxStations: 3}, clockwork.NewFakeClockAt(noaaNow), nil)
}

const emptyObservations = `{"features":[
	{"properties":{"precipitationLastHour":{"unitCode":"wmoUnit:mm","value":null}}},
	{"properties":{"precipitationLastHour":{"unitCode":"wmoUnit:mm","value":null}}}]}`

func TestNOAA_FirstStationWithDataWins(t *testing.T) {
	srv := newNOAAServer(t)
	srv.stations("KAAA", "KBBB", "KCCC")
	srv.json("/stations/KAAA/observations", emptyObservations)

	var gotStart, gotEnd string
	srv.mux.HandleFunc("/stations/KBBB/observations", func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		fmt.Fprint(w, `{"features":[
			{"properties":{"precipitationLastHour":{"unitCode":"wmoUnit:mm","value":2.54}}},
			{"properties":{"precipitationLastHour":{"unitCode":"wmoUnit:mm","value":null}}},
			{"properties":{"precipitationLastHour":{"unitCode":"wmoUnit:mm","value":3.81}}}]}`)
	})
	var thirdCalled atomic.Bool
	srv.mux.HandleFunc("/stations/KCCC/observations", func(w http.ResponseWriter, _ *http.Request) {
		thirdCalled.Store(true)
		fmt.Fprint(w, emptyObservations)
	})

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)

	require.Equal(t, types.SourceStateValue, res.State, "result: %+v", res)
	assert.Equal(t, "station:KBBB", res.Detail)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.250000135")), "got %s", res.Amount)
	assert.Equal(t, "2024-01-07T12:00:00Z", gotStart)
	assert.Equal(t, "2024-01-08T12:00:00Z", gotEnd)
	assert.False(t, thirdCalled.Load(), "stations after the first success are not queried")
}

func TestNOAA_StationReportingInches(t *testing.T) {
	srv := newNOAAServer(t)
	srv.stations("KAAA")
	srv.json("/stations/KAAA/observations", `{"features":[
		{"properties":{"precipitationLastHour":{"unitCode":"wmoUnit:in","value":0.25}}}]}`)

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)
	require.Equal(t, types.SourceStateValue, res.State)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.25")))
}

func TestNOAA_TriesAtMostMaxStationsThenQPF(t *testing.T) {
	srv := newNOAAServer(t)
	srv.stations("K1", "K2", "K3", "K4")
	var calls atomic.Int32
	for _, id := range []string{"K1", "K2", "K3", "K4"} {
		srv.mux.HandleFunc("/stations/"+id+"/observations", func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, emptyObservations)
		})
	}
	srv.json(gridPath, `{"properties":{"quantitativePrecipitation":{"uom":"wmoUnit:mm","values":[
		{"validTime":"2024-01-07T06:00:00+00:00/PT6H","value":9.0},
		{"validTime":"2024-01-07T12:00:00+00:00/PT6H","value":5.0},
		{"validTime":"2024-01-08T06:00:00+00:00/PT6H","value":1.35},
		{"validTime":"2024-01-08T12:00:00+00:00/PT6H","value":10.0}]}}}`)

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)

	require.Equal(t, types.SourceStateValue, res.State, "result: %+v", res)
	assert.Equal(t, "qpf", res.Detail)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.250000135")), "got %s", res.Amount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNOAA_ForecastTextFallback(t *testing.T) {
	srv := newNOAAServer(t)
	srv.status(stationsPath, http.StatusInternalServerError)
	srv.json(gridPath, `{"properties":{"quantitativePrecipitation":{"uom":"wmoUnit:mm","values":[]}}}`)
	srv.json(forecastPath, `{"properties":{"periods":[
		{"name":"Today","detailedForecast":"Rain likely. New rainfall amounts between a quarter and half of an inch possible."},
		{"name":"Tonight","detailedForecast":"Showers. New rainfall amounts less than a tenth of an inch possible."},
		{"name":"Tuesday","detailedForecast":"Heavy rain. New rainfall amounts between 2 and 3 inches possible."}]}}`)

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)

	require.Equal(t, types.SourceStateValue, res.State, "result: %+v", res)
	assert.Equal(t, "forecast_text", res.Detail)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.6")), "got %s", res.Amount)
}

func TestNOAA_ForecastTextWithoutAmountIsZero(t *testing.T) {
	srv := newNOAAServer(t)
	srv.stations()
	srv.json(gridPath, `{"properties":{"quantitativePrecipitation":{"values":[]}}}`)
	srv.json(forecastPath, `{"properties":{"periods":[{"name":"Today","detailedForecast":"Sunny, with a high near 75."}]}}`)

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)
	require.Equal(t, types.SourceStateValue, res.State)
	assert.True(t, res.Amount.IsZero())
}

func TestNOAA_PointsNotFoundIsUnavailable(t *testing.T) {
	srv := newNOAAServer(t)
	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), 51.5072, -0.1276)
	assert.Equal(t, types.SourceStateUnavailable, res.State)
}

func TestNOAA_PointsServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)
	assert.Equal(t, types.SourceStateUnavailable, res.State)
}

func TestNOAA_PointsTimeoutIsUnavailable(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(ctx, austinLat, austinLon)
	assert.Equal(t, types.SourceStateUnavailable, res.State)
}

func TestNOAA_MalformedPointsIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"properties":`)
	}))
	defer srv.Close()

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)
	require.Equal(t, types.SourceStateFailed, res.State)
	assert.Error(t, res.Err)
}

func TestNOAA_PointsWithoutLinksIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"properties":{}}`)
	}))
	defer srv.Close()

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)
	assert.Equal(t, types.SourceStateFailed, res.State)
}

func TestNOAA_AllDataPathsErroringIsNotZero(t *testing.T) {
	srv := newNOAAServer(t)
	srv.status(stationsPath, http.StatusInternalServerError)
	srv.status(gridPath, http.StatusInternalServerError)
	srv.status(forecastPath, http.StatusInternalServerError)

	res := newTestNOAAClient(t, srv.URL).GetPrecipitation(context.Background(), austinLat, austinLon)
	assert.Equal(t, types.SourceStateUnavailable, res.State)
	assert.True(t, res.Amount.IsZero())
}

func TestParseForecastInches(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Sunny, with a high near 75.", "0"},
		{"New rainfall amounts less than a tenth of an inch possible.", "0.1"},
		{"New rainfall amounts between a quarter and half of an inch possible.", "0.5"},
		{"New rainfall amounts between a tenth and quarter of an inch possible.", "0.25"},
		{"Rainfall of 0.75 inches expected.", "0.75"},
		{"New rainfall amounts between 1 and 2 inches possible.", "2"},
		{"Around .3 inch of rain.", "0.3"},
		{"Up to a half inch of rain.", "0.5"},
		{"Winds 10 to 15 mph. Chance of rain 60 percent.", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ParseForecastInches(tt.text)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
