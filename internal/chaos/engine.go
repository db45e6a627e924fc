// Package chaos runs fault-injection experiments against the exchange core
// and checks that the availability invariant survives them.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookswap/pkg/logger"
)

// Experiment is one hypothesis about the system under a fault.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
}

// Metric is a sampled system property and the range it must stay in.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

// Action injects or removes a fault.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion is checked against the last sample of Metric, taken after
// rollback.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Failed           []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// ErrSteadyState aborts an experiment whose system was unhealthy before any
// fault was injected.
var ErrSteadyState = errors.New("steady state invalid, experiment aborted")

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer   trace.Tracer
	log      zerolog.Logger
	interval time.Duration
	pause    time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

// NewEngine samples metrics every interval while a fault is active and
// waits pause between game-day experiments.
func NewEngine(interval, pause time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		tracer:   otel.Tracer("bookswap/chaos"),
		log:      logger.Component("chaos"),
		interval: interval,
		pause:    pause,
	}
}

func (e *Engine) Register(exps ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exps...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run validates the steady state, injects the method, samples the metrics
// for the experiment's duration, rolls back, samples once more and checks
// the assertions against that final sample.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    []ErrorEvent{},
		Violations:     []MetricViolation{},
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyStateViolations(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyState
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	e.execute(ctx, span, exp.Method, result)

	span.AddEvent("observing_system")
	var breached time.Time
	observe := func() {
		for _, m := range exp.SteadyState {
			ok, sampled := e.sample(ctx, m, result)
			if !sampled {
				continue
			}
			switch {
			case !ok && breached.IsZero():
				breached = time.Now()
			case ok && !breached.IsZero() && result.MTTR == nil:
				mttr := time.Since(breached)
				result.MTTR = &mttr
			}
		}
	}

	window, cancel := context.WithTimeout(ctx, exp.Duration)
	ticker := time.NewTicker(e.interval)
	for observing := true; observing; {
		select {
		case <-window.Done():
			observing = false
		case <-ticker.C:
			observe()
		}
	}
	ticker.Stop()
	cancel()

	span.AddEvent("rolling_back")
	e.execute(ctx, span, exp.Rollback, result)
	observe()

	span.AddEvent("validating_assertions")
	result.Failed = failedAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.Failed) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.log.Info().
		Str("experiment", exp.Name).
		Bool("hypothesis_held", result.HypothesisHeld).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("experiment finished")
	return result, nil
}

func (e *Engine) execute(ctx context.Context, span trace.Span, actions []Action, result *Result) {
	for _, a := range actions {
		if err := a.Execute(ctx); err != nil {
			span.RecordError(err)
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: a.Target,
			})
		}
	}
}

// sample records one observation of m. It reports whether the threshold
// held and whether a value was obtained at all.
func (e *Engine) sample(ctx context.Context, m Metric, result *Result) (ok, sampled bool) {
	value, err := m.Query(ctx)
	now := time.Now()
	if err != nil {
		result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: m.Name})
		return false, false
	}
	result.Observations[m.Name] = append(result.Observations[m.Name], DataPoint{Timestamp: now, Value: value})
	if m.Threshold.Holds(value) {
		return true, true
	}
	result.Violations = append(result.Violations, MetricViolation{
		MetricName: m.Name,
		Expected:   m.Threshold.Value,
		Actual:     value,
		Timestamp:  now,
	})
	return false, true
}

func (e *Engine) steadyStateViolations(ctx context.Context, metrics []Metric) []MetricViolation {
	var violations []MetricViolation
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			value = -1
		}
		if err != nil || !m.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: m.Name,
				Expected:   m.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}

func failedAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		points := result.Observations[a.Metric]
		if len(points) == 0 || !a.Condition(points[len(points)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay is an ordered set of experiments run back to back.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
}

// ExecuteGameDay runs every scenario and writes a report to w. It returns
// an error when any hypothesis did not hold.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay, w io.Writer) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)))
	defer span.End()

	fmt.Fprintf(w, "Game day: %s (%s)\n", day.Name, day.Date.Format(time.RFC3339))

	failed := 0
	for i, exp := range day.Scenarios {
		fmt.Fprintf(w, "\n[%d/%d] %s\n  hypothesis: %s\n", i+1, len(day.Scenarios), exp.Name, exp.Hypothesis)

		result, err := e.Run(ctx, exp)
		if err != nil {
			failed++
			fmt.Fprintf(w, "  aborted: %v\n", err)
			continue
		}
		if !result.HypothesisHeld {
			failed++
		}
		WriteResult(w, result)

		if i < len(day.Scenarios)-1 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.pause):
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d experiments failed", failed, len(day.Scenarios))
	}
	return nil
}

func WriteResult(w io.Writer, r *Result) {
	if r.HypothesisHeld {
		fmt.Fprintln(w, "  hypothesis held")
	} else {
		fmt.Fprintln(w, "  hypothesis violated")
		for _, msg := range r.Failed {
			fmt.Fprintf(w, "    - %s\n", msg)
		}
	}
	if len(r.Violations) > 0 {
		fmt.Fprintf(w, "  threshold breaches during fault: %d\n", len(r.Violations))
	}
	if r.MTTR != nil {
		fmt.Fprintf(w, "  mttr: %s\n", *r.MTTR)
	}
	for _, ev := range r.ErrorEvents {
		fmt.Fprintf(w, "  error (%s): %s\n", ev.Component, ev.Error)
	}
	fmt.Fprintf(w, "  duration: %s\n", r.Duration)
}
