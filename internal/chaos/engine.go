// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	BlastRadius float64 // 0.0 to 1.0 (share of the system affected)
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold. Unknown operators
// never hold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action represents a fault injection or recovery action
type Action struct {
	Type       string // concurrent-requests, exhaust-connections, ...
	Target     string
	Parameters map[string]interface{}
	Execute    func(context.Context) error
}

// Assertion validates experiment outcome against the last observation of
// Metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures experiment execution data
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions"`
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

// Engine orchestrates chaos experiments
type Engine struct {
	tracer          trace.Tracer
	logger          *slog.Logger
	out             io.Writer
	observeInterval time.Duration
	pause           time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithOutput sets where game day reports are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithObserveInterval sets how often metrics are sampled during an experiment.
func WithObserveInterval(d time.Duration) Option {
	return func(e *Engine) { e.observeInterval = d }
}

// WithPause sets the wait between game day experiments.
func WithPause(d time.Duration) Option {
	return func(e *Engine) { e.pause = d }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tracer:          otel.Tracer("libraryhub/chaos"),
		logger:          slog.Default(),
		out:             os.Stdout,
		observeInterval: time.Second,
		pause:           30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterExperiment adds an experiment to the test suite
func (e *Engine) RegisterExperiment(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments in registration order.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// RunExperiment executes a single chaos experiment
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
			attribute.Float64("experiment.blast_radius", exp.BlastRadius),
		),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	// Phase 1: Validate steady state
	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	// Phase 2: Inject chaos
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.addError(action.Target, err)
			span.RecordError(err)
		}
	}

	// Phase 3: Observe system behavior
	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	// Phase 4: Rollback chaos injection
	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.addError(action.Target, err)
			span.RecordError(err)
		}
	}

	// Phase 5: Validate assertions
	span.AddEvent("validating_assertions")
	result.FailedAssertions = validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.logger.InfoContext(ctx, "experiment finished",
		"experiment", exp.Name,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"errors", len(result.ErrorEvents),
	)

	return result, nil
}

// observe samples the steady-state metrics until the experiment duration
// has elapsed. It always takes at least one sample.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.observeInterval)
	defer ticker.Stop()

	var recoveryStart time.Time
	recovered := false

	sample := func() {
		for _, metric := range exp.SteadyState {
			value, err := metric.Query(ctx)
			if err != nil {
				result.addError(metric.Name, err)
				continue
			}

			now := time.Now()
			result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})

			if !metric.Threshold.Holds(value) {
				if recoveryStart.IsZero() {
					recoveryStart = now
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: metric.Name,
					Expected:   metric.Threshold.Value,
					Actual:     value,
					Timestamp:  now,
				})
			} else if !recoveryStart.IsZero() && !recovered {
				mttr := now.Sub(recoveryStart)
				result.MTTR = &mttr
				recovered = true
			}
		}
	}

	sample()
	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (e *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)

	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "steady state query failed", "metric", metric.Name, "error", err)
			value = -1
		}
		if err != nil || !metric.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}

	return len(violations) == 0, violations
}

// validateAssertions returns the messages of the assertions that failed.
// An assertion on a metric that was never observed fails.
func validateAssertions(assertions []Assertion, result *Result) []string {
	failed := make([]string, 0)
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Metric]
		if len(observations) == 0 {
			failed = append(failed, fmt.Sprintf("%s (no observations of %s)", assertion.Message, assertion.Metric))
			continue
		}

		finalValue := observations[len(observations)-1].Value
		if !assertion.Condition(finalValue) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}

func (r *Result) addError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{
		Timestamp: time.Now(),
		Error:     err.Error(),
		Component: component,
	})
}

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []Experiment
	Participants []string
}

// ExecuteGameDay runs every scenario in order, printing a report for each.
// A failing experiment does not stop the game day; a cancelled context does.
// The returned error joins the errors of experiments that could not run.
func (e *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
			attribute.Int("gameday.scenarios", len(gameDay.Scenarios)),
		),
	)
	defer span.End()

	fmt.Fprintf(e.out, "🎮 Starting Game Day: %s\n", gameDay.Name)
	fmt.Fprintf(e.out, "📅 Date: %s\n", gameDay.Date.Format(time.RFC3339))
	fmt.Fprintf(e.out, "👥 Participants: %v\n", gameDay.Participants)

	var errs []error
	for i, scenario := range gameDay.Scenarios {
		if i > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.pause):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprintf(e.out, "\n🔬 Experiment %d/%d: %s\n", i+1, len(gameDay.Scenarios), scenario.Name)
		fmt.Fprintf(e.out, "💡 Hypothesis: %s\n", scenario.Hypothesis)

		result, err := e.RunExperiment(ctx, scenario)
		if err != nil {
			fmt.Fprintf(e.out, "❌ Experiment failed: %v\n", err)
			errs = append(errs, fmt.Errorf("%s: %w", scenario.Name, err))
			continue
		}

		e.printResult(result)
	}

	return errors.Join(errs...)
}

func (e *Engine) printResult(result *Result) {
	if result.HypothesisHeld {
		fmt.Fprintf(e.out, "✅ Hypothesis held - System behaved as expected\n")
	} else {
		fmt.Fprintf(e.out, "❌ Hypothesis violated - Unexpected behavior observed\n")
		for _, msg := range result.FailedAssertions {
			fmt.Fprintf(e.out, "   - %s\n", msg)
		}
	}

	if len(result.Violations) > 0 {
		fmt.Fprintf(e.out, "⚠️  Violations detected: %d\n", len(result.Violations))
		for _, v := range result.Violations {
			fmt.Fprintf(e.out, "   - %s: expected %.2f, got %.2f\n", v.MetricName, v.Expected, v.Actual)
		}
	}

	if len(result.ErrorEvents) > 0 {
		fmt.Fprintf(e.out, "🧯 Errors: %d\n", len(result.ErrorEvents))
	}

	if result.MTTR != nil {
		fmt.Fprintf(e.out, "⏱️  MTTR: %s\n", *result.MTTR)
	}

	fmt.Fprintf(e.out, "📊 Duration: %s\n", result.Duration)
}
