package metrics

import (
	"sync"
	"time"

	"github.com/mikey/mail2cal/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Recorder exports orchestrator activity as Prometheus metrics and keeps
// the last poll outcome for the health endpoint
type Recorder struct {
	PollsTotal          *prometheus.CounterVec
	CandidatesTotal     prometheus.Counter
	MessagesTotal       *prometheus.CounterVec
	EventsTotal         *prometheus.CounterVec
	ProcessorState      prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec

	mu           sync.RWMutex
	lastPollAt   time.Time
	lastPollErr  error
	currentState core.State
}

// NewRecorder creates the collectors and registers them with reg
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2cal_polls_total",
				Help: "Total number of mailbox polls (count)",
			},
			[]string{"status"},
		),
		CandidatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mail2cal_candidate_messages_total",
				Help: "Total number of candidate messages found by polls (count)",
			},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2cal_messages_total",
				Help: "Total number of candidate messages handled, by outcome (count)",
			},
			[]string{"outcome"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2cal_calendar_events_total",
				Help: "Total number of calendar event creation attempts (count)",
			},
			[]string{"target", "kind", "status"},
		),
		ProcessorState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mail2cal_processor_state",
				Help: "Processor state (0=idle, 1=polling, 2=processing, 3=sleeping, 4=exiting) (state code)",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mail2cal_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
			},
			[]string{"name"},
		),
	}

	for _, c := range []prometheus.Collector{
		r.PollsTotal,
		r.CandidatesTotal,
		r.MessagesTotal,
		r.EventsTotal,
		r.ProcessorState,
		r.CircuitBreakerState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// PollCompleted records a mailbox search
func (r *Recorder) PollCompleted(candidates int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.PollsTotal.WithLabelValues(status).Inc()
	r.CandidatesTotal.Add(float64(candidates))

	r.mu.Lock()
	r.lastPollAt = time.Now()
	r.lastPollErr = err
	r.mu.Unlock()
}

// MessageHandled records the outcome for one message
func (r *Recorder) MessageHandled(outcome core.MessageOutcome) {
	r.MessagesTotal.WithLabelValues(string(outcome)).Inc()
}

// EventPublished records one calendar target result
func (r *Recorder) EventPublished(result core.PublishResult) {
	status := "success"
	if !result.OK() {
		status = core.ErrorKind(result.Err)
	}
	r.EventsTotal.WithLabelValues(result.Target, string(result.Kind), status).Inc()
}

// StateChanged records the processor state
func (r *Recorder) StateChanged(state core.State) {
	r.ProcessorState.Set(float64(state))

	r.mu.Lock()
	r.currentState = state
	r.mu.Unlock()
}

// BreakerStateChanged records a calendar circuit breaker transition
func (r *Recorder) BreakerStateChanged(name string, _, to gobreaker.State) {
	var stateValue float64
	switch to {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateHalfOpen:
		stateValue = 1
	case gobreaker.StateOpen:
		stateValue = 2
	}
	r.CircuitBreakerState.WithLabelValues(name).Set(stateValue)
}

// Snapshot is the health view of the processor
type Snapshot struct {
	State       core.State
	LastPollAt  time.Time
	LastPollErr error
}

// Snapshot returns the latest recorded state
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		State:       r.currentState,
		LastPollAt:  r.lastPollAt,
		LastPollErr: r.lastPollErr,
	}
}
