package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devtrack_http_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devtrack_http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devtrack_sessions_started_total",
			Help: "Total work sessions started",
		},
	)

	SessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devtrack_sessions_completed_total",
			Help: "Total work sessions completed",
		},
		[]string{"project"},
	)

	SessionMinutesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devtrack_session_minutes_recorded_total",
			Help: "Total tracked minutes written to the ledger",
		},
		[]string{"project"},
	)

	// Auth metrics
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devtrack_logins_total",
			Help: "Total login attempts",
		},
		[]string{"outcome"},
	)

	// Mail metrics
	MailEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devtrack_mail_enqueued_total",
			Help: "Messages added to the mail queue",
		},
	)

	MailSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devtrack_mail_sent_total",
			Help: "Messages delivered from the mail queue",
		},
	)

	MailFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devtrack_mail_failed_total",
			Help: "Delivery attempts that failed",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SessionsStarted,
		SessionsCompleted,
		SessionMinutesRecorded,
		LoginsTotal,
		MailEnqueued,
		MailSent,
		MailFailed,
	)
}

// RegisterActiveSessions exposes the running-session count. The callback
// reads straight from storage, so the gauge stays correct across restarts
// and expired claims.
func RegisterActiveSessions(count func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "devtrack_active_sessions",
			Help: "Number of currently running sessions",
		},
		count,
	))
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
