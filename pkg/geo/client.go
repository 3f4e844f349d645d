// Package geo wraps the external data collaborators — geocoding, weather
// and seismic feeds — behind one fetchJSON helper. These are plain
// request/response clients; the core protocol never depends on them.
package geo

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	errorutil "github.com/projectdiscovery/utils/errors"
	"github.com/tidwall/gjson"
)

var (
	DefaultGeocodeURL    = "https://nominatim.openstreetmap.org/search"
	DefaultWeatherURL    = "https://api.open-meteo.com/v1/forecast"
	DefaultEarthquakeURL = "https://earthquake.usgs.gov/fdsnws/event/1/query"
)

const defaultTimeout = 15 * time.Second

// Client bundles the collaborator endpoints.
type Client struct {
	GeocodeURL    string
	WeatherURL    string
	EarthquakeURL string

	httpc *http.Client
}

// New creates a collaborator client with default endpoints.
func New() *Client {
	return &Client{
		GeocodeURL:    DefaultGeocodeURL,
		WeatherURL:    DefaultWeatherURL,
		EarthquakeURL: DefaultEarthquakeURL,
		httpc:         &http.Client{Timeout: defaultTimeout},
	}
}

// FetchJSON performs a GET with query parameters and parses the JSON body.
func (c *Client) FetchJSON(ctx context.Context, baseURL string, params url.Values) (gjson.Result, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return gjson.Result{}, err
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lg-agent")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return gjson.Result{}, errorutil.NewWithErr(err).Msgf("request to %s failed", u.Host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, errorutil.New("%s returned status %d", u.Host, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errorutil.New("%s returned invalid json", u.Host)
	}
	return gjson.ParseBytes(body), nil
}

// Place is a geocoding hit.
type Place struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Geocode resolves a free-form place name to coordinates.
func (c *Client) Geocode(ctx context.Context, query string) (*Place, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	result, err := c.FetchJSON(ctx, c.GeocodeURL, params)
	if err != nil {
		return nil, err
	}
	first := result.Get("0")
	if !first.Exists() {
		return nil, errorutil.New("no geocoding result for %q", query)
	}
	return &Place{
		Name:      first.Get("display_name").String(),
		Latitude:  first.Get("lat").Float(),
		Longitude: first.Get("lon").Float(),
	}, nil
}

// Weather is a current-conditions snapshot.
type Weather struct {
	Temperature float64
	WindSpeed   float64
	Code        int64
}

// CurrentWeather fetches current conditions at a coordinate.
func (c *Client) CurrentWeather(ctx context.Context, lat, lon float64) (*Weather, error) {
	params := url.Values{}
	params.Set("latitude", formatFloat(lat))
	params.Set("longitude", formatFloat(lon))
	params.Set("current_weather", "true")

	result, err := c.FetchJSON(ctx, c.WeatherURL, params)
	if err != nil {
		return nil, err
	}
	current := result.Get("current_weather")
	if !current.Exists() {
		return nil, errorutil.New("weather response missing current_weather")
	}
	return &Weather{
		Temperature: current.Get("temperature").Float(),
		WindSpeed:   current.Get("windspeed").Float(),
		Code:        current.Get("weathercode").Int(),
	}, nil
}

// Earthquake is one seismic event.
type Earthquake struct {
	Place     string
	Magnitude float64
	Latitude  float64
	Longitude float64
	Time      time.Time
}

// RecentEarthquakes lists events since the given time at or above minMagnitude.
func (c *Client) RecentEarthquakes(ctx context.Context, since time.Time, minMagnitude float64) ([]Earthquake, error) {
	params := url.Values{}
	params.Set("format", "geojson")
	params.Set("starttime", since.UTC().Format(time.RFC3339))
	params.Set("minmagnitude", formatFloat(minMagnitude))

	result, err := c.FetchJSON(ctx, c.EarthquakeURL, params)
	if err != nil {
		return nil, err
	}

	var quakes []Earthquake
	result.Get("features").ForEach(func(_, feature gjson.Result) bool {
		coords := feature.Get("geometry.coordinates")
		quakes = append(quakes, Earthquake{
			Place:     feature.Get("properties.place").String(),
			Magnitude: feature.Get("properties.mag").Float(),
			Longitude: coords.Get("0").Float(),
			Latitude:  coords.Get("1").Float(),
			Time:      time.UnixMilli(feature.Get("properties.time").Int()).UTC(),
		})
		return true
	})
	return quakes, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
