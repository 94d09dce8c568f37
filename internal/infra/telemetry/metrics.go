package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campus_auth"

// Login outcomes recorded by AuthMetrics.ObserveLogin.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeInactive           = "inactive"
	OutcomeUnverified         = "unverified"
	OutcomeError              = "error"
)

// AuthMetrics counts security-relevant outcomes of the auth flows.
type AuthMetrics struct {
	LoginAttempts *prometheus.CounterVec
	Lockouts      prometheus.Counter
	Registrations prometheus.Counter
	TokensIssued  *prometheus.CounterVec
	EmailRequests *prometheus.CounterVec
}

// NewAuthMetrics registers the collectors, reusing any that were registered before.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	login, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Login attempts partitioned by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	lockouts, err := RegisterOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "account_lockouts_total",
		Help:      "Accounts locked after reaching the failed login threshold.",
	}))
	if err != nil {
		return nil, err
	}

	registrations, err := RegisterOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Accounts created.",
	}))
	if err != nil {
		return nil, err
	}

	tokens, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Signed tokens issued partitioned by type.",
	}, []string{"type"}))
	if err != nil {
		return nil, err
	}

	emails, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "email_requests_total",
		Help:      "Credential emails handed to the delivery pipeline partitioned by kind and outcome.",
	}, []string{"kind", "outcome"}))
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		LoginAttempts: login,
		Lockouts:      lockouts,
		Registrations: registrations,
		TokensIssued:  tokens,
		EmailRequests: emails,
	}, nil
}

// RegisterOrReuse registers collector, returning the already registered instance on a duplicate.
func RegisterOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			var zero C
			return zero, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			var zero C
			return zero, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return collector, nil
}

func (m *AuthMetrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *AuthMetrics) ObserveLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

func (m *AuthMetrics) ObserveRegistration() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

func (m *AuthMetrics) ObserveTokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *AuthMetrics) ObserveEmail(kind, outcome string) {
	if m == nil {
		return
	}
	m.EmailRequests.WithLabelValues(kind, outcome).Inc()
}
