// Package nws reads alerts and forecasts from the National Weather Service API.
package nws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/httpx"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/ggonzalez94/mercata-mcp/internal/providers"
)

const (
	DefaultBaseURL = "https://api.weather.gov"
	UserAgent      = "weather-app/1.0"
	Accept         = "application/geo+json"
)

var _ providers.Weather = (*Client)(nil)

// Stage names the request of a lookup that failed.
type Stage string

const (
	StageAlerts      Stage = "alerts"
	StagePoints      Stage = "points"
	StageForecastURL Stage = "forecast_url"
	StageForecast    Stage = "forecast"
)

// LookupError reports which request failed.
type LookupError struct {
	Stage Stage
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("nws %s: %v", e.Stage, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

type Client struct {
	http *httpx.Client
}

// New expects an httpx client configured with the service base URL, the
// weather user agent and the geo+json accept header.
func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient}
}

// ClientOptions returns the transport options every NWS request needs.
func ClientOptions(baseURL string) []httpx.Option {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return []httpx.Option{
		httpx.WithName("nws"),
		httpx.WithBaseURL(baseURL),
		httpx.WithUserAgent(UserAgent),
		httpx.WithAccept(Accept),
	}
}

type alertsResponse struct {
	Features []struct {
		Properties model.Alert `json:"properties"`
	} `json:"features"`
}

type pointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		Periods []model.ForecastPeriod `json:"periods"`
	} `json:"properties"`
}

// Alerts lists the active alerts for a two-letter state code.
func (c *Client) Alerts(ctx context.Context, state string) ([]model.Alert, error) {
	var resp alertsResponse
	q := url.Values{"area": {strings.ToUpper(state)}}
	if err := c.http.Get(ctx, "/alerts", q, &resp); err != nil {
		return nil, &LookupError{Stage: StageAlerts, Err: err}
	}
	alerts := make([]model.Alert, 0, len(resp.Features))
	for _, f := range resp.Features {
		alerts = append(alerts, f.Properties)
	}
	return alerts, nil
}

// Forecast resolves the grid point for the coordinates, then reads its forecast periods.
func (c *Client) Forecast(ctx context.Context, latitude, longitude float64) ([]model.ForecastPeriod, error) {
	var points pointsResponse
	path := fmt.Sprintf("/points/%.4f,%.4f", latitude, longitude)
	if err := c.http.Get(ctx, path, nil, &points); err != nil {
		return nil, &LookupError{Stage: StagePoints, Err: err}
	}
	if strings.TrimSpace(points.Properties.Forecast) == "" {
		return nil, &LookupError{Stage: StageForecastURL, Err: clierr.New(clierr.CodeUpstreamHTTP, "grid point has no forecast URL")}
	}

	var forecast forecastResponse
	if err := c.http.Get(ctx, points.Properties.Forecast, nil, &forecast); err != nil {
		return nil, &LookupError{Stage: StageForecast, Err: err}
	}
	return forecast.Properties.Periods, nil
}
