package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"braveforms/internal/types"
)

// openWeatherHours is how many hourly entries are summed.
const openWeatherHours = 24

// OpenWeatherConfig configures the OpenWeather One Call adapter.
type OpenWeatherConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Timeout time.Duration
}

// OpenWeatherClient is the secondary precipitation source. Every failure is
// reported as Failed; it never reports Unavailable and never turns an error
// into zero.
type OpenWeatherClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewOpenWeatherClient creates the adapter with its own circuit breaker.
func NewOpenWeatherClient(cfg OpenWeatherConfig, logger *slog.Logger) *OpenWeatherClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		&http.Client{Timeout: cfg.Timeout},
		"openweather",
		DefaultRetryPolicy(),
		"BrAveForms-Compliance/1.0",
		WithLogger(logger),
	)
	return NewOpenWeatherClientWithBase(base, cfg, logger)
}

// NewOpenWeatherClientWithBase creates the adapter on a caller-provided
// BaseClient.
func NewOpenWeatherClientWithBase(base *BaseClient, cfg OpenWeatherConfig, logger *slog.Logger) *OpenWeatherClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenWeatherClient{
		base:    base,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type owmVolume struct {
	OneHour decimal.NullDecimal `json:"1h"`
}

type owmOneCallResponse struct {
	Hourly *[]struct {
		Dt   int64      `json:"dt"`
		Rain *owmVolume `json:"rain"`
		Snow *owmVolume `json:"snow"`
	} `json:"hourly"`
}

// GetPrecipitation implements compliance.PrecipitationSource.
//
// It sums rain.1h plus 10% of snow.1h over the first 24 hourly entries and
// converts millimetres to inches.
func (c *OpenWeatherClient) GetPrecipitation(ctx context.Context, lat, lon float64) types.SourceResult {
	if !c.apiKey.IsSet() {
		return types.SourceFailed(errors.New("openweather api key not configured"))
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("exclude", "current,minutely,daily,alerts")
	q.Set("units", "metric")
	q.Set("appid", c.apiKey.Unmask())

	var body owmOneCallResponse
	if err := c.base.GetJSON(ctx, c.baseURL+"/data/3.0/onecall?"+q.Encode(), "application/json", &body); err != nil {
		// The request URL carries the key; never log or wrap it.
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return types.SourceFailed(types.NewAppError(types.ErrCodeUpstreamWeatherFailed,
				fmt.Sprintf("openweather returned %d", statusErr.StatusCode), nil))
		}
		return types.SourceFailed(fmt.Errorf("openweather request: %w", redactKey(err, c.apiKey.Unmask())))
	}

	if body.Hourly == nil {
		return types.SourceFailed(types.NewAppError(types.ErrCodeUpstreamWeatherFailed,
			"openweather response has no hourly data", nil))
	}

	totalMM := decimal.Zero
	for i, h := range *body.Hourly {
		if i == openWeatherHours {
			break
		}
		if h.Rain != nil && h.Rain.OneHour.Valid {
			totalMM = totalMM.Add(h.Rain.OneHour.Decimal)
		}
		if h.Snow != nil && h.Snow.OneHour.Valid {
			totalMM = totalMM.Add(h.Snow.OneHour.Decimal.Mul(snowWaterRatio))
		}
	}

	return types.SourceValue(MillimetersToInches(totalMM), "hourly")
}

// redactKey strips the API key from transport errors, which embed the URL.
func redactKey(err error, key string) error {
	if err == nil || key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "***REDACTED***"))
}
