// Package gateway exposes the relocation engine over WebSocket. It owns
// the session registry: the engine itself only ever sees one session's
// state at a time, passed per call.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kass/go-geo-anchor/pkg/proximity"
	"github.com/kass/go-geo-anchor/pkg/relocation"
)

// sample is one client position message.
type sample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// outbound wraps an engine update with the session id; errorMessage is set
// instead when a sample was rejected.
type outbound struct {
	SessionID string `json:"session_id"`
	*relocation.SessionUpdate
	Error string `json:"error,omitempty"`
}

// Gateway upgrades connections, feeds samples to the engine in arrival
// order per connection, and forwards updates back.
type Gateway struct {
	svc      *relocation.Service
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*proximity.Session

	registry *prometheus.Registry
	metrics  *metrics
}

type metrics struct {
	samples        *prometheus.CounterVec
	rejected       prometheus.Counter
	activeSessions prometheus.Gauge
	sampleDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoanchor_samples_total",
			Help: "Position samples processed, by emitted event.",
		}, []string{"event"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoanchor_samples_rejected_total",
			Help: "Position samples rejected as invalid or unrefinable.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geoanchor_active_sessions",
			Help: "Currently connected observer sessions.",
		}),
		sampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geoanchor_sample_duration_seconds",
			Help:    "Time spent handling one position sample, including anchor resolution.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.samples, m.rejected, m.activeSessions, m.sampleDuration)
	return m
}

// New builds a gateway around the given engine. log may be nil.
func New(svc *relocation.Service, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	return &Gateway{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		sessions: make(map[string]*proximity.Session),
		registry: registry,
		metrics:  newMetrics(registry),
	}
}

// Handler returns the HTTP handler: /ws for the sample stream, /healthz,
// and /metrics for Prometheus scrapes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	return mux
}

// SessionCount returns the number of connected sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := g.svc.NewSession()
	g.register(sess)
	g.metrics.activeSessions.Inc()
	g.log.Info("session connected",
		zap.String("session", sess.ID), zap.String("remote", r.RemoteAddr))

	defer func() {
		g.unregister(sess)
		g.metrics.activeSessions.Dec()
		conn.Close()
		g.log.Info("session disconnected", zap.String("session", sess.ID))
	}()

	// One read loop per connection keeps samples in arrival order, which
	// the reference/threshold logic depends on.
	for {
		var s sample
		if err := conn.ReadJSON(&s); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Warn("read failed", zap.String("session", sess.ID), zap.Error(err))
			}
			return
		}

		start := time.Now()
		update, err := g.svc.HandleSample(sess, s.Latitude, s.Longitude)
		g.metrics.sampleDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			g.metrics.rejected.Inc()
			if werr := conn.WriteJSON(outbound{SessionID: sess.ID, Error: err.Error()}); werr != nil {
				return
			}
			continue
		}

		g.metrics.samples.WithLabelValues(update.Event.String()).Inc()
		if err := conn.WriteJSON(outbound{SessionID: sess.ID, SessionUpdate: update}); err != nil {
			return
		}
	}
}

func (g *Gateway) register(sess *proximity.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sess.ID] = sess
}

func (g *Gateway) unregister(sess *proximity.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sess.ID)
}
