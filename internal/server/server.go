// Package server exposes the agent's HTTP API: KML generation and
// validation endpoints for UI clients, plus rig-control endpoints driving
// the cluster protocol.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/tidwall/gjson"

	"github.com/liquidgalaxy/lg-agent/pkg/galaxy"
	"github.com/liquidgalaxy/lg-agent/pkg/generate"
	"github.com/liquidgalaxy/lg-agent/pkg/geo"
	"github.com/liquidgalaxy/lg-agent/pkg/kml"
	"github.com/liquidgalaxy/lg-agent/pkg/rig"
	"github.com/liquidgalaxy/lg-agent/pkg/version"
)

// Server is the HTTP front of the agent. Generator and controller are
// optional: without a generator the generation endpoints return 503,
// without a controller the rig endpoints do.
type Server struct {
	addr       string
	generator  *generate.Client
	controller *galaxy.Controller
	geocoder   *geo.Client
	mux        *http.ServeMux
}

// New assembles the server and its routes.
func New(addr string, generator *generate.Client, controller *galaxy.Controller) *Server {
	s := &Server{
		addr:       addr,
		generator:  generator,
		controller: controller,
		geocoder:   geo.New(),
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /geo/search", s.handleGeoSearch)
	s.mux.HandleFunc("GET /geo/weather", s.handleGeoWeather)
	s.mux.HandleFunc("GET /geo/quakes", s.handleGeoQuakes)
	s.mux.HandleFunc("POST /generate-kml", s.handleGenerate)
	s.mux.HandleFunc("POST /generate-kml-batch", s.handleGenerateBatch)
	s.mux.HandleFunc("POST /validate-kml", s.handleValidate)
	s.mux.HandleFunc("POST /flyto", s.handleFlyTo)
	s.mux.HandleFunc("POST /tour", s.handleTour)
	s.mux.HandleFunc("POST /clear", s.handleClear)
	s.mux.HandleFunc("POST /power", s.handlePower)
	return s
}

// ListenAndServe blocks serving requests until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.withRequestID(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	gologger.Info().Msgf("listening on http://%s", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := xid.New().String()
		w.Header().Set("X-Request-Id", requestID)
		gologger.Debug().Msgf("[%s] %s %s", requestID, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func readBody(w http.ResponseWriter, r *http.Request) (gjson.Result, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "request body must be JSON")
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "healthy",
		"service": "lg-agent",
		"version": version.GetVersion(),
	}
	if uptime, err := host.Uptime(); err == nil {
		response["host_uptime_seconds"] = uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		response["host_memory_used_percent"] = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGeoSearch resolves a place name for UI clients that want to pick
// coordinates before asking for a fly-to.
func (s *Server) handleGeoSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	place, err := s.geocoder.Geocode(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      place.Name,
		"latitude":  place.Latitude,
		"longitude": place.Longitude,
	})
}

// handleGeoWeather reports current conditions at a coordinate, typically
// one picked through /geo/search.
func (s *Server) handleGeoWeather(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lon parameters are required")
		return
	}
	weather, err := s.geocoder.CurrentWeather(r.Context(), lat, lon)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"temperature": weather.Temperature,
		"wind_speed":  weather.WindSpeed,
		"code":        weather.Code,
	})
}

type quakeResult struct {
	Place     string    `json:"place"`
	Magnitude float64   `json:"magnitude"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Time      time.Time `json:"time"`
}

// handleGeoQuakes lists recent seismic events for overlay content.
func (s *Server) handleGeoQuakes(w http.ResponseWriter, r *http.Request) {
	minMagnitude := 5.0
	if v := r.URL.Query().Get("min_magnitude"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_magnitude must be a number")
			return
		}
		minMagnitude = m
	}
	quakes, err := s.geocoder.RecentEarthquakes(r.Context(), time.Now().Add(-24*time.Hour), minMagnitude)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	results := make([]quakeResult, 0, len(quakes))
	for _, q := range quakes {
		results = append(results, quakeResult{
			Place:     q.Place,
			Magnitude: q.Magnitude,
			Latitude:  q.Latitude,
			Longitude: q.Longitude,
			Time:      q.Time,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"quakes": results})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "kml generation is not configured")
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	query := body.Get("query").String()
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}

	doc, err := s.generator.GenerateKML(r.Context(), query)
	if err != nil {
		gologger.Error().Msgf("generate failed for %q: %s", query, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	gologger.Info().Msgf("generated kml for %q (%d chars)", query, len(doc))
	writeJSON(w, http.StatusOK, map[string]string{"kml": doc})
}

type batchResult struct {
	Query string `json:"query"`
	KML   string `json:"kml"`
}

type batchFailure struct {
	Query string `json:"query"`
	Error string `json:"error"`
}

func (s *Server) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "kml generation is not configured")
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	queries := body.Get("queries")
	if !queries.IsArray() || len(queries.Array()) == 0 {
		writeError(w, http.StatusBadRequest, "queries must be a non-empty array")
		return
	}

	results := []batchResult{}
	failed := []batchFailure{}
	for _, q := range queries.Array() {
		query := q.String()
		if query == "" {
			continue
		}
		doc, err := s.generator.GenerateKML(r.Context(), query)
		if err != nil {
			failed = append(failed, batchFailure{Query: query, Error: err.Error()})
			continue
		}
		results = append(results, batchResult{Query: query, KML: doc})
	}
	gologger.Info().Msgf("batch complete: %d successful, %d failed", len(results), len(failed))
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "failed": failed})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	doc := body.Get("kml")
	if !doc.Exists() {
		writeError(w, http.StatusBadRequest, "kml parameter is required")
		return
	}
	err := kml.Validate(doc.String())
	response := map[string]any{
		"valid":  err == nil,
		"length": len(doc.String()),
	}
	if err != nil {
		response["reason"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// resolveKML returns the document to display: a literal "kml" field wins,
// otherwise a "query" field goes through the generator.
func (s *Server) resolveKML(ctx context.Context, body gjson.Result) (string, int, string) {
	if doc := body.Get("kml").String(); doc != "" {
		return doc, 0, ""
	}
	query := body.Get("query").String()
	if query == "" {
		return "", http.StatusBadRequest, "either kml or query is required"
	}
	if s.generator == nil {
		return "", http.StatusServiceUnavailable, "kml generation is not configured"
	}
	doc, err := s.generator.GenerateKML(ctx, query)
	if err != nil {
		return "", http.StatusInternalServerError, err.Error()
	}
	return doc, 0, ""
}

func (s *Server) handleFlyTo(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no cluster configured")
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	doc, status, message := s.resolveKML(r.Context(), body)
	if message != "" {
		writeError(w, status, message)
		return
	}
	if err := s.controller.FlyTo(r.Context(), doc); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTour(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no cluster configured")
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	name := body.Get("name").String()
	if name == "" {
		writeError(w, http.StatusBadRequest, "tour name is required")
		return
	}
	doc, status, message := s.resolveKML(r.Context(), body)
	if message != "" {
		writeError(w, status, message)
		return
	}
	if err := s.controller.ShowTour(r.Context(), doc, name); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no cluster configured")
		return
	}
	if err := s.controller.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rigOutcome struct {
	Rig     int    `json:"rig"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no cluster configured")
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	action := body.Get("action").String()
	var outcomes []rigOutcome
	switch action {
	case "shutdown":
		outcomes = toRigOutcomes(s.controller.Shutdown(r.Context()))
	case "reboot":
		outcomes = toRigOutcomes(s.controller.Reboot(r.Context()))
	case "relaunch":
		outcomes = toRigOutcomes(s.controller.RelaunchViewer(r.Context()))
	default:
		writeError(w, http.StatusBadRequest, "action must be one of shutdown, reboot, relaunch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": action, "outcomes": outcomes})
}

func toRigOutcomes(result rig.ClusterResult) []rigOutcome {
	outcomes := make([]rigOutcome, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		outcomes = append(outcomes, rigOutcome{Rig: o.RigID, Success: o.Success, Error: o.Detail()})
	}
	return outcomes
}
