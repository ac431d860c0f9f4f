package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/errors"
	"github.com/c360/semdevices/health"
	"github.com/c360/semdevices/metric"
	"github.com/c360/semdevices/registry"
	"github.com/c360/semdevices/types"
)

// Devices is the part of the device manager the gateway serves.
type Devices interface {
	Snapshots() []registry.Snapshot
	Describe(addr types.Address) (registry.Snapshot, error)
	SubmitCommand(addr types.Address, body types.CommandBody) (types.Command, error)
}

// Deps are the gateway's collaborators. Health, Logger and Metrics are
// optional.
type Deps struct {
	Devices Devices
	Bus     *bus.Bus
	Health  *health.Monitor
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// Gateway serves the device HTTP API.
type Gateway struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	requests *prometheus.CounterVec

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	shutdown chan struct{}
	streams  sync.WaitGroup
}

// DeviceView is the body of GET /devices/{addr}.
type DeviceView struct {
	Device  registry.Snapshot `json:"device"`
	Reading *bus.Message      `json:"reading"`
	Status  *bus.Message      `json:"status"`
	Stale   bool              `json:"stale"`
}

// New validates cfg and builds a gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Devices == nil || deps.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "New", "devices and bus are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With("component", "gateway"),
		shutdown: make(chan struct{}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semdevices",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     g.allowOrigin,
	}
	if deps.Metrics != nil {
		if err := deps.Metrics.RegisterCounterVec("gateway", "requests", g.requests); err != nil {
			g.logger.Warn("Gateway metrics not registered", "error", err)
		}
	}
	return g, nil
}

// Handler returns the API routes on a fresh mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.RegisterHTTPHandlers("/", mux)
	return mux
}

// RegisterHTTPHandlers mounts the API under prefix on mux.
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if prefix == "" || prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	mux.HandleFunc("GET "+prefix+"devices", g.wrap("devices", g.handleList))
	mux.HandleFunc("GET "+prefix+"devices/{addr}", g.wrap("device", g.handleDevice))
	mux.HandleFunc("POST "+prefix+"devices/{addr}/commands", g.wrap("commands", g.handleCommand))
	mux.HandleFunc("GET "+prefix+"devices/{addr}/stream", g.wrap("stream", g.handleStream))
	mux.HandleFunc("GET "+prefix+"health", g.wrap("health", g.handleHealth))
	mux.HandleFunc("OPTIONS "+prefix+"devices/", g.wrap("preflight", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

// Start listens on the configured port and serves in the background.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "start")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.cfg.Port))
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Start", fmt.Sprintf("listen on port %d", g.cfg.Port))
	}
	if g.cfg.TLS != nil {
		ln = tls.NewListener(ln, g.cfg.TLS)
	}
	g.listener = ln
	g.server = &http.Server{Handler: g.Handler(), ReadHeaderTimeout: 5 * time.Second}
	srv := g.server
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			g.logger.Error("Gateway server failed", "error", err)
		}
	}()
	g.logger.Info("Gateway listening", "address", ln.Addr().String(), "tls", g.cfg.TLS != nil)
	return nil
}

// Addr returns the listening address, or "" when not started.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop closes open streams and shuts the server down within timeout.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.shutdown:
	default:
		close(g.shutdown)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if g.server != nil {
		err = g.server.Shutdown(ctx)
		g.server = nil
		g.listener = nil
	}

	done := make(chan struct{})
	go func() {
		g.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = stderrors.Join(err, ctx.Err())
	}
	if err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "shutdown")
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes websocket upgrades through to the server connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (g *Gateway) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		g.applyCORS(w, r)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		g.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

func (g *Gateway) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.CORSOrigins) == 0 {
		return
	}
	for _, allowed := range g.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
			return
		}
	}
}

func (g *Gateway) handleList(w http.ResponseWriter, _ *http.Request) {
	snaps := g.deps.Devices.Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{"devices": snaps, "count": len(snaps)})
}

func (g *Gateway) handleDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := g.pathAddress(w, r)
	if !ok {
		return
	}
	snap, err := g.deps.Devices.Describe(addr)
	if err != nil {
		g.writeError(w, err)
		return
	}

	view := DeviceView{Device: snap}
	if m, ok := g.deps.Bus.Last(addr); ok {
		view.Reading = &m
		view.Stale = m.Stale
	}
	if m, ok := g.deps.Bus.LastStatus(addr); ok {
		view.Status = &m
	}
	writeJSON(w, http.StatusOK, view)
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	addr, ok := g.pathAddress(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{"request body too large", http.StatusRequestEntityTooLarge})
			return
		}
		g.writeError(w, errors.WrapInvalid(err, "Gateway", "handleCommand", "read body"))
		return
	}
	body, err := types.DecodeCommandBody(data)
	if err != nil {
		g.writeError(w, err)
		return
	}

	cmd, err := g.deps.Devices.SubmitCommand(addr, body)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.logger.Info("Command accepted", "address", addr.String(), "id", cmd.ID, "type", body.CommandType(),
		"request_id", w.Header().Get("X-Request-ID"))
	writeJSON(w, http.StatusAccepted, cmd)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if g.deps.Health == nil {
		writeJSON(w, http.StatusOK, health.Summarize("semdevices", nil))
		return
	}
	status := g.deps.Health.Summary("semdevices")
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (g *Gateway) pathAddress(w http.ResponseWriter, r *http.Request) (types.Address, bool) {
	addr, err := types.ParseAddress(r.PathValue("addr"))
	if err != nil {
		g.writeError(w, err)
		return types.Address{}, false
	}
	return addr, true
}

// statusFor maps classified errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrNoDriver):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrQueueFull):
		return http.StatusTooManyRequests
	case stderrors.Is(err, errors.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, errors.ErrUnsupported):
		return http.StatusUnprocessableEntity
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsFatal(err):
		return http.StatusInternalServerError
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= 500 {
		g.logger.Error("Request failed", "error", err, "request_id", w.Header().Get("X-Request-ID"))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{Error: msg, Status: code})
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
