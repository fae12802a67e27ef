package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/cascade"
	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/testutil"
)

// Phases of a step.
const (
	PhaseSetup = "setup"
	PhaseFlow  = "flow"
)

// OutcomeOK marks a step that succeeded.
const OutcomeOK = "ok"

// StepTrace records one executed step and the rules it fired.
type StepTrace struct {
	Seq          int           `json:"seq"`
	Phase        string        `json:"phase"`
	Op           record.OpKind `json:"op"`
	Table        string        `json:"table"`
	Outcome      string        `json:"outcome"`
	ID           any           `json:"id,omitempty"`
	RowsAffected int64         `json:"rows_affected,omitempty"`
	Rules        []RuleFiring  `json:"rules,omitempty"`
}

// RuleFiring is one cascade rule application.
type RuleFiring struct {
	Rule  string `json:"rule"`
	Table string `json:"table"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every assertion held.
	Pass bool `json:"pass"`

	Trace  []StepTrace `json:"trace"`
	Errors []string    `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Firings returns every rule firing in trace order.
func (r *Result) Firings() []RuleFiring {
	var out []RuleFiring
	for _, step := range r.Trace {
		out = append(out, step.Rules...)
	}
	return out
}

// recorder collects rule firings for the step in progress.
type recorder struct {
	mu      sync.Mutex
	firings []RuleFiring
}

func (r *recorder) RuleFired(rule, table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firings = append(r.firings, RuleFiring{Rule: rule, Table: table})
}

func (r *recorder) take() []RuleFiring {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.firings
	r.firings = nil
	return out
}

// Harness executes scenarios against an isolated store.
type Harness struct {
	store    *store.Store
	recorder *recorder
	logger   *zap.Logger
	seq      int
}

// Run executes a scenario in a fresh database and returns the result.
// The returned error reports harness failures (database setup, a failing
// setup step); scenario failures are reported in Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "stockline-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	rec := &recorder{}
	st, err := store.Open(ctx, filepath.Join(dir, "scenario.db"),
		store.WithEngine(cascade.NewDefault(cascade.WithObserver(rec))),
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithIDGenerator(testutil.NewSequentialIDs("id")))
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario store: %w", err)
	}
	defer st.Close()

	h := &Harness{store: st, recorder: rec, logger: zap.NewNop()}
	result := NewResult()

	for i, step := range scenario.Setup {
		trace, err := h.execute(ctx, PhaseSetup, step)
		result.Trace = append(result.Trace, trace)
		if err != nil {
			return nil, fmt.Errorf("setup step %d (%s %s): %w", i, step.Op, step.Table, err)
		}
	}

	for i, step := range scenario.Flow {
		trace, err := h.execute(ctx, PhaseFlow, step)
		result.Trace = append(result.Trace, trace)
		if msg := checkExpect(step, trace, err); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", i, step.Op, step.Table, msg))
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, phase string, step Step) (StepTrace, error) {
	h.seq++
	trace := StepTrace{Seq: h.seq, Phase: phase, Op: step.Op, Table: step.Table}

	res, err := h.store.Transaction(ctx, []record.Op{step.Record()})
	trace.Rules = h.recorder.take()
	if err != nil {
		trace.Outcome = string(errs.CodeOf(err))
		if trace.Outcome == "" {
			trace.Outcome = "ERROR"
		}
		// Rules applied before the failure were rolled back with it.
		trace.Rules = nil
		h.logger.Debug("step failed", zap.Int("seq", trace.Seq), zap.Error(err))
		return trace, err
	}

	trace.Outcome = OutcomeOK
	trace.ID = res[0].ID
	trace.RowsAffected = res[0].RowsAffected
	return trace, nil
}

func checkExpect(step Step, trace StepTrace, err error) string {
	exp := step.Expect
	if exp == nil || exp.Error == "" {
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
	} else {
		if err == nil {
			return fmt.Sprintf("expected error %s, got success", exp.Error)
		}
		if trace.Outcome != exp.Error {
			return fmt.Sprintf("expected error %s, got %v", exp.Error, err)
		}
		return ""
	}

	if exp == nil {
		return ""
	}
	if exp.RowsAffected != nil && *exp.RowsAffected != trace.RowsAffected {
		return fmt.Sprintf("expected %d rows affected, got %d", *exp.RowsAffected, trace.RowsAffected)
	}
	if exp.ID != nil && !record.Equal(exp.ID, trace.ID) {
		return fmt.Sprintf("expected id %v, got %v", exp.ID, trace.ID)
	}
	return ""
}
