package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auth counters. It satisfies the recorder interfaces of
// the otp, session and oauth services.
type Metrics struct {
	gatherer prometheus.Gatherer

	otpRequests      *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	sessionChecks    *prometheus.CounterVec
	reuseDetections  prometheus.Counter
	oauthCallbacks   *prometheus.CounterVec
}

// New registers the counters on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		otpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatauth_otp_requests_total",
			Help: "OTP send requests by result",
		}, []string{"result"}),
		otpVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatauth_otp_verifications_total",
			Help: "OTP verification attempts by result",
		}, []string{"result"}),
		sessionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatauth_session_verifications_total",
			Help: "Session verifications by outcome",
		}, []string{"outcome"}),
		reuseDetections: f.NewCounter(prometheus.CounterOpts{
			Name: "chatauth_refresh_token_reuse_total",
			Help: "Refresh tokens presented after rotation",
		}),
		oauthCallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatauth_oauth_callbacks_total",
			Help: "OAuth callbacks by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) OTPRequested(result string) { m.otpRequests.WithLabelValues(result).Inc() }

func (m *Metrics) OTPVerified(result string) { m.otpVerifications.WithLabelValues(result).Inc() }

func (m *Metrics) SessionVerified(outcome string) {
	m.sessionChecks.WithLabelValues(outcome).Inc()
	if outcome == "reuse_detected" {
		m.reuseDetections.Inc()
	}
}

func (m *Metrics) OAuthCallback(outcome string) { m.oauthCallbacks.WithLabelValues(outcome).Inc() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
