package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

const (
	openMeteoURL     = "https://api.open-meteo.com/v1/forecast"
	defaultLatitude  = 42.3601
	defaultLongitude = -71.0589
)

// WeatherConfig locates the forecast service and the default location
type WeatherConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
}

// WeatherReport is the current conditions at one location
type WeatherReport struct {
	TemperatureF  float64 `json:"temperature_f"`
	ApparentF     float64 `json:"apparent_f"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	Precipitation float64 `json:"precipitation"`
	ObservedAt    string  `json:"observed_at"`
}

func (r WeatherReport) String() string {
	return fmt.Sprintf("%.1f°F and %.0f%% humidity\nFeels like %.1f°F, wind %.1f km/h",
		r.TemperatureF, r.Humidity, r.ApparentF, r.WindSpeed)
}

type openMeteoResponse struct {
	Current *struct {
		Time                string   `json:"time"`
		Temperature         *float64 `json:"temperature_2m"`
		RelativeHumidity    float64  `json:"relative_humidity_2m"`
		ApparentTemperature float64  `json:"apparent_temperature"`
		WindSpeed           float64  `json:"wind_speed_10m"`
		Precipitation       float64  `json:"precipitation"`
	} `json:"current"`
}

type weatherProvider struct {
	http *HTTPClient
	cfg  WeatherConfig
}

func newWeather(deps Deps) (Provider, error) {
	if deps.HTTP == nil {
		return nil, fmt.Errorf("%w: http client", ErrUnavailable)
	}
	return NewWeather(deps.HTTP, deps.Weather), nil
}

// NewWeather creates the Open-Meteo current conditions provider. Params
// "latitude" and "longitude" override the configured location.
func NewWeather(client *HTTPClient, cfg WeatherConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openMeteoURL
	}
	if cfg.Latitude == 0 && cfg.Longitude == 0 {
		cfg.Latitude, cfg.Longitude = defaultLatitude, defaultLongitude
	}
	return &weatherProvider{http: client, cfg: cfg}
}

func (p *weatherProvider) Fetch(ctx context.Context, params map[string]string) (any, error) {
	query := url.Values{}
	query.Set("latitude", param(params, "latitude", strconv.FormatFloat(p.cfg.Latitude, 'f', -1, 64)))
	query.Set("longitude", param(params, "longitude", strconv.FormatFloat(p.cfg.Longitude, 'f', -1, 64)))
	query.Set("current", "temperature_2m,relative_humidity_2m,apparent_temperature,wind_speed_10m,precipitation")

	var resp openMeteoResponse
	if err := p.http.GetJSON(ctx, p.cfg.BaseURL, query, &resp, Cached()); err != nil {
		return nil, err
	}
	if resp.Current == nil || resp.Current.Temperature == nil {
		return nil, fmt.Errorf("%w: no current conditions", ErrEmptyResult)
	}

	c := resp.Current
	return WeatherReport{
		TemperatureF:  celsiusToFahrenheit(*c.Temperature),
		ApparentF:     celsiusToFahrenheit(c.ApparentTemperature),
		Humidity:      c.RelativeHumidity,
		WindSpeed:     c.WindSpeed,
		Precipitation: c.Precipitation,
		ObservedAt:    c.Time,
	}, nil
}

func celsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}
