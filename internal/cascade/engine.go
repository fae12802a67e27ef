package cascade

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
)

// DefaultMaxDepth is the default limit on nested rule application.
const DefaultMaxDepth = 16

// Timing says whether a rule runs before or after the row is written.
type Timing int

const (
	Before Timing = iota
	After
)

func (t Timing) String() string {
	if t == Before {
		return "before"
	}
	return "after"
}

// Event describes one row write.
//
// Old is nil for inserts, New is nil for deletes. For BEFORE events New holds
// the values about to be written.
type Event struct {
	Table string
	Op    record.OpKind
	Old   record.Row
	New   record.Row

	// Depth is the nesting level: 0 for a caller's write, 1 for a write issued
	// by a rule, and so on.
	Depth int

	// Remote marks a write that applies a row pulled from the remote endpoint.
	Remote bool
}

// Row returns New, or Old when New is nil.
func (ev Event) Row() record.Row {
	if ev.New != nil {
		return ev.New
	}
	return ev.Old
}

// TransitionedTo reports whether col changed to value in this event.
// An insert counts as a transition when New holds value.
func (ev Event) TransitionedTo(col, value string) bool {
	if ev.New == nil || ev.New.String(col) != value {
		return false
	}
	return ev.Old == nil || ev.Old.String(col) != value
}

// Tx is the transactional view rules read and write through.
// Writes issued through it fire rules of their own.
type Tx interface {
	Get(ctx context.Context, table string, id any) (record.Row, error)
	Select(ctx context.Context, table string, q record.Query) ([]record.Row, error)
	Insert(ctx context.Context, table string, fields record.Row) (record.Result, error)
	Update(ctx context.Context, table string, fields record.Row, where record.Predicate) (record.Result, error)
	Delete(ctx context.Context, table string, where record.Predicate) (record.Result, error)
}

// Rule is a named reaction to a write.
type Rule struct {
	Name        string
	Description string
	Table       string
	Timing      Timing
	Op          record.OpKind

	// When filters qualifying events. Nil means always.
	When func(Event) bool

	// LocalOnly rules do not fire for Remote events. A pulled row arrives with
	// the effects these rules would derive already applied on the device that
	// wrote it, including the stock_item counters.
	LocalOnly bool

	Apply func(ctx context.Context, tx Tx, ev Event) error
}

func (r Rule) matches(timing Timing, ev Event) bool {
	if r.Table != ev.Table || r.Timing != timing || r.Op != ev.Op {
		return false
	}
	if r.LocalOnly && ev.Remote {
		return false
	}
	return r.When == nil || r.When(ev)
}

// Observer is notified after each rule applies successfully.
type Observer interface {
	RuleFired(rule, table string)
}

// Engine evaluates rules in declaration order.
//
// INVARIANT: the rules slice is never reordered after construction.
type Engine struct {
	rules    []Rule
	maxDepth int
	observer Observer
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the nesting limit.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over rules. The slice is copied.
func New(rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		rules:    append([]Rule(nil), rules...),
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewDefault creates an Engine with DefaultRules.
func NewDefault(opts ...Option) *Engine {
	return New(DefaultRules(), opts...)
}

// Rules returns a copy of the rules in declaration order.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Fire applies every rule matching (timing, event) in declaration order and
// stops at the first error.
func (e *Engine) Fire(ctx context.Context, tx Tx, timing Timing, ev Event) error {
	if ev.Depth > e.maxDepth {
		return &errs.Error{
			Code:    errs.CodeConstraintViolation,
			Table:   ev.Table,
			Op:      string(ev.Op),
			Rule:    "cascade-depth",
			Message: fmt.Sprintf("cascade depth %d exceeds limit %d", ev.Depth, e.maxDepth),
		}
	}

	for _, r := range e.rules {
		if !r.matches(timing, ev) {
			continue
		}
		if err := r.Apply(ctx, tx, ev); err != nil {
			var de *errs.Error
			if errors.As(err, &de) {
				if de.Rule == "" {
					de.Rule = r.Name
				}
				return err
			}
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		e.logger.Debug("rule fired",
			zap.String("rule", r.Name),
			zap.String("table", ev.Table),
			zap.Int("depth", ev.Depth))
		if e.observer != nil {
			e.observer.RuleFired(r.Name, ev.Table)
		}
	}
	return nil
}
