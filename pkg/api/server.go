package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/vjranagit/wattcache/internal/logger"
	"github.com/vjranagit/wattcache/pkg/aggregate"
	"github.com/vjranagit/wattcache/pkg/metrics"
	"github.com/vjranagit/wattcache/pkg/tariff"
	"github.com/vjranagit/wattcache/pkg/types"
)

// Aggregator answers aggregation queries
type Aggregator interface {
	Aggregate(ctx context.Context, q types.Query) (*types.Result, error)
}

// Catalog lists sensors and energy providers
type Catalog interface {
	tariff.Registry
	Sensors(ctx context.Context) ([]types.Sensor, error)
	Sensor(ctx context.Context, id int64) (*types.Sensor, error)
	Providers(ctx context.Context) ([]types.TariffModel, error)
}

// Server implements the HTTP API server
type Server struct {
	addr      string
	engine    Aggregator
	catalog   Catalog
	converter *tariff.Converter
	metrics   *metrics.Metrics
	night     tariff.NightWindow
	now       func() time.Time

	server *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithMetrics records request metrics and serves them on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithNightWindow sets the night tariff hours reported in responses
func WithNightWindow(w tariff.NightWindow) Option {
	return func(s *Server) { s.night = w }
}

// WithClock overrides the server clock
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new API server
func NewServer(addr string, engine Aggregator, catalog Catalog, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		engine:    engine,
		catalog:   catalog,
		converter: tariff.NewConverter(catalog),
		night:     tariff.NightWindow{Start: 22 * 3600, End: 6 * 3600},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with logging and panic recovery
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	s.handle(r, "/health", s.handleHealth)
	s.handle(r, "/api/time", s.handleTime)
	s.handle(r, "/api/sensors", s.handleSensors)
	s.handle(r, "/api/sensors/{id:[0-9]+}", s.handleSensor)
	s.handle(r, "/api/energy_providers", s.handleProviders)
	s.handle(r, "/api/energy_providers/{provider}", s.handleProvider)
	s.handle(r, "/api/{provider}/watt_to_euros/{tariff}/{kwh}", s.handleWattToEuros)

	s.handle(r, "/api/{sensor:[0-9]+}/get/watts/by_id/{id1:-?[0-9]+}", s.handlePoint(types.AxisID))
	s.handle(r, "/api/{sensor:[0-9]+}/get/watts/by_time/{t1:[0-9]+}", s.handlePoint(types.AxisTime))
	s.handle(r, "/api/{sensor:[0-9]+}/get/{metric}/by_id/{id1:-?[0-9]+}/{id2:-?[0-9]+}", s.handleRange(types.AxisID))
	s.handle(r, "/api/{sensor:[0-9]+}/get/{metric}/by_id/{id1:-?[0-9]+}/{id2:-?[0-9]+}/{step:[0-9]+}", s.handleRange(types.AxisID))
	s.handle(r, "/api/{sensor:[0-9]+}/get/{metric}/by_time/{t1:[0-9]+}/{t2:[0-9]+}", s.handleRange(types.AxisTime))
	s.handle(r, "/api/{sensor:[0-9]+}/get/{metric}/by_time/{t1:[0-9]+}/{t2:[0-9]+}/{step:[0-9]+}", s.handleRange(types.AxisTime))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	logged := handlers.CustomLoggingHandler(io.Discard, r, logRequest)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)
}

func (s *Server) handle(r *mux.Router, path string, fn http.HandlerFunc) {
	r.Handle(path, s.metrics.WrapHandler(path, fn)).Methods(http.MethodGet)
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	logger.Info("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
	)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// envelope is the body of every /api response
type envelope struct {
	Data any          `json:"data"`
	Rate types.Tariff `json:"rate"`
}

func (s *Server) writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Data: data,
		Rate: tariff.ChannelAt(s.now(), s.night),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps engine errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregate.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, aggregate.ErrTooManyValues):
		return http.StatusForbidden
	case errors.Is(err, tariff.ErrProviderNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleTime(w http.ResponseWriter, _ *http.Request) {
	s.writeData(w, s.now().Unix())
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.catalog.Sensors(r.Context())
	if err != nil {
		logger.Error("failed to list sensors", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sensors == nil {
		sensors = []types.Sensor{}
	}
	s.writeData(w, sensors)
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt("sensor", mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sensor, err := s.catalog.Sensor(r.Context(), id)
	if err != nil {
		logger.Error("failed to resolve sensor", "sensor", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sensor == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("sensor %d not found", id))
		return
	}
	s.writeData(w, sensor)
}

// provider is a tariff model as served, with the night hours attached when
// the model bills day and night differently
type provider struct {
	types.TariffModel
	StartNightRate string `json:"start_night_rate,omitempty"`
	EndNightRate   string `json:"end_night_rate,omitempty"`
}

func (s *Server) describe(m types.TariffModel) provider {
	p := provider{TariffModel: m}
	if tariff.IsDayNight(m) {
		p.StartNightRate = tariff.FormatClock(s.night.Start)
		p.EndNightRate = tariff.FormatClock(s.night.End)
	}
	return p
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.catalog.Providers(r.Context())
	if err != nil {
		logger.Error("failed to list providers", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]provider, 0, len(providers))
	for _, m := range providers {
		out = append(out, s.describe(m))
	}
	s.writeData(w, out)
}

func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	ref, err := tariff.ParseProviderRef(mux.Vars(r)["provider"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	model, err := s.catalog.Provider(r.Context(), ref)
	if err != nil {
		logger.Error("failed to resolve provider", "provider", ref, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if model == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", tariff.ErrProviderNotFound, mux.Vars(r)["provider"]))
		return
	}
	s.writeData(w, s.describe(*model))
}

func (s *Server) handleWattToEuros(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	ref, err := tariff.ParseProviderRef(vars["provider"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := types.ParseTariff(vars["tariff"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kwh, err := strconv.ParseFloat(vars["kwh"], 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid consumption %q", vars["kwh"]))
		return
	}

	cost, err := s.converter.Cost(r.Context(), ref, t, kwh)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeData(w, cost)
}

func (s *Server) handlePoint(axis types.Axis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		at := vars["id1"]
		if axis == types.AxisTime {
			at = vars["t1"]
		}

		q := types.Query{Metric: types.MetricWatts, Axis: axis, Point: true}
		var err error
		if q.SensorID, err = parseInt("sensor", vars["sensor"]); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if q.Start, err = parseInt("position", at); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := applyOptions(r, &q); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		s.serveQuery(w, r, q)
	}
}

func (s *Server) handleRange(axis types.Axis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		metric, err := types.ParseMetric(vars["metric"])
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		from, to := vars["id1"], vars["id2"]
		if axis == types.AxisTime {
			from, to = vars["t1"], vars["t2"]
		}
		step, bucketed := vars["step"]
		if !bucketed {
			step = "0"
		}

		q := types.Query{Metric: metric, Axis: axis, Bucketed: bucketed}
		fields := []struct {
			name string
			raw  string
			dst  *int64
		}{
			{"sensor", vars["sensor"], &q.SensorID},
			{"start", from, &q.Start},
			{"end", to, &q.End},
			{"step", step, &q.Step},
		}
		for _, f := range fields {
			if *f.dst, err = parseInt(f.name, f.raw); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		if err := applyOptions(r, &q); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		s.serveQuery(w, r, q)
	}
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request, q types.Query) {
	res, err := s.engine.Aggregate(r.Context(), q)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("aggregation failed", "sensor", q.SensorID, "metric", q.Metric, "error", err)
		}
		writeError(w, status, err)
		return
	}
	s.writeData(w, payload(res))
}

// payload picks the part of res clients see
func payload(res *types.Result) any {
	switch {
	case res == nil:
		return nil
	case res.Point != nil:
		return res.Point
	case res.Groups != nil:
		return res.Groups
	case res.Total != nil:
		return res.Total
	default:
		return res.Samples
	}
}

// applyOptions reads the optional timestep and force_refresh parameters
func applyOptions(r *http.Request, q *types.Query) error {
	values := r.URL.Query()

	if v := values.Get("timestep"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ts <= 0 {
			return fmt.Errorf("invalid timestep %q", v)
		}
		q.Timestep = ts
	}

	switch values.Get("force_refresh") {
	case "", "0", "false":
	case "1", "true":
		q.ForceRefresh = true
	default:
		return fmt.Errorf("invalid force_refresh %q", values.Get("force_refresh"))
	}

	return nil
}

func parseInt(name, raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}
