package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/liquidgalaxy/lg-agent/pkg/kml"
)

func TestFetchJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "paris" {
			t.Errorf("missing query param, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New()
	params := url.Values{}
	params.Set("q", "paris")
	result, err := c.FetchJSON(context.Background(), server.URL, params)
	if err != nil {
		t.Fatalf("FetchJSON() error = %v", err)
	}
	if !result.Get("ok").Bool() {
		t.Errorf("FetchJSON() = %s, want ok:true", result.Raw)
	}
}

func TestFetchJSONErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not json</html>"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c := New()
			if _, err := c.FetchJSON(context.Background(), server.URL, url.Values{}); err == nil {
				t.Error("FetchJSON() should fail")
			}
		})
	}
}

func TestGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"display_name":"Paris, France","lat":"48.8566","lon":"2.3522"}]`))
	}))
	defer server.Close()

	c := New()
	c.GeocodeURL = server.URL
	place, err := c.Geocode(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("Geocode() error = %v", err)
	}
	if place.Name != "Paris, France" || place.Latitude != 48.8566 || place.Longitude != 2.3522 {
		t.Errorf("Geocode() = %+v", place)
	}
}

func TestGeocodeNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := New()
	c.GeocodeURL = server.URL
	if _, err := c.Geocode(context.Background(), "nowhereville"); err == nil {
		t.Fatal("Geocode() with no hits should fail")
	}
}

func TestLookAtKML(t *testing.T) {
	place := &Place{Name: "Paris & <Friends>", Latitude: 48.8566, Longitude: 2.3522}
	doc := LookAtKML(place)

	if err := kml.Validate(doc); err != nil {
		t.Fatalf("LookAtKML() produced invalid document: %v", err)
	}
	if !strings.Contains(doc, "<coordinates>2.3522,48.8566,0</coordinates>") {
		t.Errorf("missing coordinates: %s", doc)
	}
	if !strings.Contains(doc, "Paris &amp; &lt;Friends&gt;") {
		t.Errorf("place name not xml-escaped: %s", doc)
	}
}

func TestCurrentWeather(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("current_weather") != "true" {
			t.Errorf("missing current_weather param: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"current_weather":{"temperature":21.5,"windspeed":14.2,"weathercode":3}}`))
	}))
	defer server.Close()

	c := New()
	c.WeatherURL = server.URL
	weather, err := c.CurrentWeather(context.Background(), 48.85, 2.35)
	if err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
	if weather.Temperature != 21.5 || weather.WindSpeed != 14.2 || weather.Code != 3 {
		t.Errorf("CurrentWeather() = %+v", weather)
	}
}

func TestRecentEarthquakes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[
			{"properties":{"place":"10km W of Tokyo","mag":5.1,"time":1700000000000},"geometry":{"coordinates":[139.6,35.6,10]}},
			{"properties":{"place":"Chile","mag":6.2,"time":1700000100000},"geometry":{"coordinates":[-70.6,-33.4,30]}}
		]}`))
	}))
	defer server.Close()

	c := New()
	c.EarthquakeURL = server.URL
	quakes, err := c.RecentEarthquakes(context.Background(), time.Now().Add(-24*time.Hour), 5)
	if err != nil {
		t.Fatalf("RecentEarthquakes() error = %v", err)
	}
	if len(quakes) != 2 {
		t.Fatalf("got %d quakes, want 2", len(quakes))
	}
	if quakes[0].Place != "10km W of Tokyo" || quakes[0].Latitude != 35.6 || quakes[0].Longitude != 139.6 {
		t.Errorf("quake[0] = %+v", quakes[0])
	}
	if quakes[1].Magnitude != 6.2 {
		t.Errorf("quake[1].Magnitude = %v, want 6.2", quakes[1].Magnitude)
	}
}
