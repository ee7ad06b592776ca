package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"braveforms/internal/types"
)

const (
	noaaAccept = "application/geo+json"

	// DefaultNOAAMaxStations is how many nearby stations are tried before
	// falling back to forecast data.
	DefaultNOAAMaxStations = 3

	// precipitationWindow is the trailing window summed by every adapter.
	precipitationWindow = 24 * time.Hour

	// forecastTextPeriods covers roughly the next 24h of narrative periods.
	forecastTextPeriods = 2
)

// NOAAConfig configures the api.weather.gov adapter.
type NOAAConfig struct {
	BaseURL     string
	UserAgent   string
	MaxStations int
	Timeout     time.Duration
}

// NOAAClient is the primary precipitation source. It prefers observed
// station data, then the gridpoint quantitative precipitation forecast, then
// the textual forecast narrative.
type NOAAClient struct {
	base        *BaseClient
	baseURL     string
	maxStations int
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewNOAAClient creates the NOAA adapter with its own circuit breaker.
func NewNOAAClient(cfg NOAAConfig, clock clockwork.Clock, logger *slog.Logger) *NOAAClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		&http.Client{Timeout: cfg.Timeout},
		"noaa",
		DefaultRetryPolicy(),
		cfg.UserAgent,
		WithLogger(logger),
	)
	return NewNOAAClientWithBase(base, cfg, clock, logger)
}

// NewNOAAClientWithBase creates the adapter on a caller-provided BaseClient.
func NewNOAAClientWithBase(base *BaseClient, cfg NOAAConfig, clock clockwork.Clock, logger *slog.Logger) *NOAAClient {
	if cfg.MaxStations <= 0 {
		cfg.MaxStations = DefaultNOAAMaxStations
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NOAAClient{
		base:        base,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxStations: cfg.MaxStations,
		clock:       clock,
		logger:      logger,
	}
}

// NOAA GeoJSON payloads, reduced to the fields read here.

type noaaPointResponse struct {
	Properties struct {
		Forecast            string `json:"forecast"`
		ForecastGridData    string `json:"forecastGridData"`
		ObservationStations string `json:"observationStations"`
	} `json:"properties"`
}

type noaaStationsResponse struct {
	Features []struct {
		Properties struct {
			StationIdentifier string `json:"stationIdentifier"`
		} `json:"properties"`
	} `json:"features"`
}

type noaaQuantity struct {
	UnitCode string              `json:"unitCode"`
	Value    decimal.NullDecimal `json:"value"`
}

type noaaObservationsResponse struct {
	Features []struct {
		Properties struct {
			PrecipitationLastHour noaaQuantity `json:"precipitationLastHour"`
		} `json:"properties"`
	} `json:"features"`
}

type noaaGridDataResponse struct {
	Properties struct {
		QuantitativePrecipitation struct {
			UOM    string `json:"uom"`
			Values []struct {
				ValidTime string              `json:"validTime"`
				Value     decimal.NullDecimal `json:"value"`
			} `json:"values"`
		} `json:"quantitativePrecipitation"`
	} `json:"properties"`
}

type noaaForecastResponse struct {
	Properties struct {
		Periods []struct {
			Name             string `json:"name"`
			DetailedForecast string `json:"detailedForecast"`
		} `json:"periods"`
	} `json:"properties"`
}

// GetPrecipitation implements compliance.PrecipitationSource.
//
// A points lookup that is unreachable, times out, trips the breaker or
// returns 404 (outside NWS coverage) is Unavailable. A malformed points
// response is Failed. Once the point resolves, each data path is tried in
// order; Value(0) is returned only when the forecast narrative was read and
// names no amount.
func (c *NOAAClient) GetPrecipitation(ctx context.Context, lat, lon float64) types.SourceResult {
	logger := c.logger.With("latitude", lat, "longitude", lon)

	var point noaaPointResponse
	pointURL := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, lat, lon)
	if err := c.base.GetJSON(ctx, pointURL, noaaAccept, &point); err != nil {
		var statusErr *HTTPStatusError
		switch {
		case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
			return types.SourceUnavailable("no NWS gridpoint for location")
		case IsUnreachable(err):
			return types.SourceUnavailable(fmt.Sprintf("points lookup: %v", err))
		default:
			return types.SourceFailed(fmt.Errorf("noaa points lookup: %w", err))
		}
	}

	props := point.Properties
	if props.ObservationStations == "" && props.ForecastGridData == "" && props.Forecast == "" {
		return types.SourceFailed(errors.New("noaa points response has no data links"))
	}

	end := c.clock.Now().UTC()
	start := end.Add(-precipitationWindow)

	if props.ObservationStations != "" {
		if amount, station, ok := c.fromStations(ctx, props.ObservationStations, start, end, logger); ok {
			return types.SourceValue(amount, "station:"+station)
		}
	}

	var errs []error
	if props.ForecastGridData != "" {
		amount, ok, err := c.fromGridData(ctx, props.ForecastGridData, start, end)
		if err != nil {
			logger.WarnContext(ctx, "noaa gridpoint QPF unavailable", "error", err)
			errs = append(errs, err)
		} else if ok {
			return types.SourceValue(amount, "qpf")
		}
	}

	if props.Forecast != "" {
		amount, err := c.fromForecastText(ctx, props.Forecast)
		if err == nil {
			return types.SourceValue(amount, "forecast_text")
		}
		logger.WarnContext(ctx, "noaa forecast narrative unavailable", "error", err)
		errs = append(errs, err)
	}

	if ctx.Err() != nil {
		return types.SourceUnavailable(fmt.Sprintf("noaa data paths exhausted: %v", ctx.Err()))
	}
	return types.SourceUnavailable(fmt.Sprintf("noaa data paths exhausted: %v", errors.Join(errs...)))
}

// fromStations tries up to maxStations stations in the order returned
// (nearest first). The first station with at least one non-null hourly
// reading wins; readings are never averaged across stations.
func (c *NOAAClient) fromStations(ctx context.Context, stationsURL string, start, end time.Time, logger *slog.Logger) (decimal.Decimal, string, bool) {
	var stations noaaStationsResponse
	if err := c.base.GetJSON(ctx, stationsURL, noaaAccept, &stations); err != nil {
		logger.WarnContext(ctx, "noaa station list unavailable", "error", err)
		return decimal.Zero, "", false
	}

	tried := 0
	for _, f := range stations.Features {
		id := f.Properties.StationIdentifier
		if id == "" {
			continue
		}
		if tried == c.maxStations {
			break
		}
		tried++

		amount, readings, err := c.stationTotal(ctx, id, start, end)
		if err != nil {
			logger.WarnContext(ctx, "noaa station observations unavailable", "station", id, "error", err)
			continue
		}
		if readings == 0 {
			logger.DebugContext(ctx, "noaa station has no precipitation readings", "station", id)
			continue
		}
		return amount, id, true
	}
	return decimal.Zero, "", false
}

// stationTotal sums non-null precipitationLastHour values in [start, end].
func (c *NOAAClient) stationTotal(ctx context.Context, stationID string, start, end time.Time) (decimal.Decimal, int, error) {
	q := url.Values{}
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))
	obsURL := fmt.Sprintf("%s/stations/%s/observations?%s", c.baseURL, url.PathEscape(stationID), q.Encode())

	var obs noaaObservationsResponse
	if err := c.base.GetJSON(ctx, obsURL, noaaAccept, &obs); err != nil {
		return decimal.Zero, 0, err
	}

	total := decimal.Zero
	readings := 0
	for _, f := range obs.Features {
		p := f.Properties.PrecipitationLastHour
		if !p.Value.Valid {
			continue
		}
		inches, err := ToInches(p.Value.Decimal, p.UnitCode)
		if err != nil {
			return decimal.Zero, 0, err
		}
		total = total.Add(inches)
		readings++
	}
	return total, readings, nil
}

// fromGridData sums QPF intervals whose start lies in [start, end). ok is
// false when the grid has no values in the window.
func (c *NOAAClient) fromGridData(ctx context.Context, gridURL string, start, end time.Time) (decimal.Decimal, bool, error) {
	var grid noaaGridDataResponse
	if err := c.base.GetJSON(ctx, gridURL, noaaAccept, &grid); err != nil {
		return decimal.Zero, false, err
	}

	qpf := grid.Properties.QuantitativePrecipitation
	total := decimal.Zero
	found := false
	for _, v := range qpf.Values {
		if !v.Value.Valid {
			continue
		}
		intervalStart, err := parseValidTimeStart(v.ValidTime)
		if err != nil {
			return decimal.Zero, false, err
		}
		if intervalStart.Before(start) || !intervalStart.Before(end) {
			continue
		}
		inches, err := ToInches(v.Value.Decimal, qpf.UOM)
		if err != nil {
			return decimal.Zero, false, err
		}
		total = total.Add(inches)
		found = true
	}
	return total, found, nil
}

// parseValidTimeStart returns the start of an ISO-8601 interval such as
// "2024-01-08T06:00:00+00:00/PT6H".
func parseValidTimeStart(validTime string) (time.Time, error) {
	startStr, _, _ := strings.Cut(validTime, "/")
	t, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid QPF validTime %q: %w", validTime, err)
	}
	return t, nil
}

// fromForecastText reads the first forecast periods and extracts the largest
// inch quantity named in each, summing across periods.
func (c *NOAAClient) fromForecastText(ctx context.Context, forecastURL string) (decimal.Decimal, error) {
	var forecast noaaForecastResponse
	if err := c.base.GetJSON(ctx, forecastURL, noaaAccept, &forecast); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i, p := range forecast.Properties.Periods {
		if i == forecastTextPeriods {
			break
		}
		total = total.Add(ParseForecastInches(p.DetailedForecast))
	}
	return total, nil
}

var (
	numericInchesRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?|\.\d+)\s*-?\s*inch(?:es)?\b`)
	wordInchesRe    = regexp.MustCompile(`(?i)\b(tenth|quarter|half)(?:\s+of)?(?:\s+an?)?\s+inch\b`)

	wordAmounts = map[string]decimal.Decimal{
		"tenth":   decimal.RequireFromString("0.1"),
		"quarter": decimal.RequireFromString("0.25"),
		"half":    decimal.RequireFromString("0.5"),
	}
)

// ParseForecastInches extracts an inch amount from an NWS forecast narrative.
// Ranges resolve to their upper bound ("between a quarter and half of an
// inch" is 0.5, "1 to 2 inches" is 2) because the largest named quantity in
// the text wins. Text naming no amount yields zero.
func ParseForecastInches(text string) decimal.Decimal {
	best := decimal.Zero

	for _, m := range numericInchesRe.FindAllStringSubmatch(text, -1) {
		num := m[1]
		if strings.HasPrefix(num, ".") {
			num = "0" + num
		}
		if v, err := decimal.NewFromString(num); err == nil && v.GreaterThan(best) {
			best = v
		}
	}
	for _, m := range wordInchesRe.FindAllStringSubmatch(text, -1) {
		if v, ok := wordAmounts[strings.ToLower(m[1])]; ok && v.GreaterThan(best) {
			best = v
		}
	}

	return best
}
