// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"libracirc/internal/clients"
)

var ErrSteadyState = errors.New("steady state not met")

// Threshold is the condition a probe value must satisfy.
type Threshold struct {
	Operator string
	Value    float64
}

func (t Threshold) Holds(v float64) (bool, error) {
	switch t.Operator {
	case "==":
		return v == t.Value, nil
	case "!=":
		return v != t.Value, nil
	case "<":
		return v < t.Value, nil
	case "<=":
		return v <= t.Value, nil
	case ">":
		return v > t.Value, nil
	case ">=":
		return v >= t.Value, nil
	default:
		return false, fmt.Errorf("unknown threshold operator %q", t.Operator)
	}
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %g", t.Operator, t.Value)
}

// Probe measures one aspect of the system.
type Probe struct {
	Name      string
	Query     func(ctx context.Context) (float64, error)
	Threshold Threshold
}

// Action is one step of an experiment's method or rollback.
type Action struct {
	Name    string
	Execute func(ctx context.Context) error
}

// Assertion is checked after the method ran.
type Assertion struct {
	Name      string
	Condition func(ctx context.Context) error
}

type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Timeout     time.Duration
}

// Result is the outcome of one experiment.
type Result struct {
	Experiment string        `json:"experiment"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration"`
	Failures   []string      `json:"failures,omitempty"`
}

// Engine runs experiments against a live API and its database.
type Engine struct {
	db          *sqlx.DB
	transport   *clients.Transport
	items       *clients.CatalogClient
	members     *clients.MembershipClient
	loans       *clients.CirculationClient
	logger      *slog.Logger
	experiments []Experiment
}

func NewEngine(db *sqlx.DB, transport *clients.Transport, logger *slog.Logger) *Engine {
	return &Engine{
		db:        db,
		transport: transport,
		items:     clients.NewCatalogClient(transport),
		members:   clients.NewMembershipClient(transport),
		loans:     clients.NewCirculationClient(transport),
		logger:    logger,
	}
}

func (e *Engine) Register(exp Experiment) {
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	return e.experiments
}

// Run executes every registered experiment in order. Each failed
// experiment is reported in its Result; the error is only set when the
// run itself could not proceed.
func (e *Engine) Run(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(e.experiments))
	for _, exp := range e.experiments {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.RunExperiment(ctx, exp))
	}
	return results, nil
}

// RunExperiment checks the steady state, applies the method, rolls back,
// then verifies the steady state and the assertions again.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) Result {
	start := time.Now()
	result := Result{Experiment: exp.Name}
	logger := e.logger.With("experiment", exp.Name)
	logger.Info("experiment started", "hypothesis", exp.Hypothesis)

	if exp.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, exp.Timeout)
		defer cancel()
	}

	fail := func(stage string, err error) {
		result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", stage, err))
		logger.Warn("experiment check failed", "stage", stage, "error", err)
	}

	if err := e.checkSteadyState(ctx, exp.SteadyState); err != nil {
		fail("steady state before", err)
		result.Duration = time.Since(start)
		return result
	}

	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			fail(action.Name, err)
			break
		}
	}
	for _, action := range exp.Rollback {
		if err := action.Execute(context.WithoutCancel(ctx)); err != nil {
			fail("rollback "+action.Name, err)
		}
	}

	if err := e.checkSteadyState(ctx, exp.SteadyState); err != nil {
		fail("steady state after", err)
	}
	for _, assertion := range exp.Validation {
		if err := assertion.Condition(ctx); err != nil {
			fail(assertion.Name, err)
		}
	}

	result.Passed = len(result.Failures) == 0
	result.Duration = time.Since(start)
	logger.Info("experiment finished", "passed", result.Passed, "duration", result.Duration)
	return result
}

func (e *Engine) checkSteadyState(ctx context.Context, probes []Probe) error {
	var errs []error
	for _, p := range probes {
		v, err := p.Query(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("probe %s: %w", p.Name, err))
			continue
		}
		ok, err := p.Threshold.Holds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("probe %s: %w", p.Name, err))
			continue
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s = %g, want %s", ErrSteadyState, p.Name, v, p.Threshold))
		}
	}
	return errors.Join(errs...)
}
