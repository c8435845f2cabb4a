package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vizflow/internal/domain"
	"vizflow/internal/workflow"
)

// ErrClosed is returned by Update after Close.
var ErrClosed = errors.New("view closed")

// ExecutorResolver picks the engine for a computation config.
// *compute.Resolver implements it.
type ExecutorResolver interface {
	Resolve(ctx context.Context, cfg domain.ComputationConfig) (domain.ComputeExecutor, error)
}

// FieldAnnotator fills in inferred time formats before compilation.
// *fieldexpr.FormatCache implements it.
type FieldAnnotator interface {
	Annotate(ctx context.Context, datasetID string, fields []domain.Field) ([]domain.Field, error)
}

// Result is one committed compute cycle.
type Result struct {
	Seq     uint64
	Request domain.QueryRequest
	Rows    []domain.Row
	// Columns lists the columns the rows carry: group keys and measure keys
	// when aggregated, raw and derived fields otherwise.
	Columns []string
}

// Interaction is a selection or click reported by the renderer.
type Interaction struct {
	DatasetID string
	Values    domain.Row
}

// ViewConfig holds a view's collaborators. Callbacks run serially, never
// concurrently with one another, and must not call back into the View.
type ViewConfig struct {
	DatasetID   string
	Computation domain.ComputationConfig
	Executors   ExecutorResolver
	// Joins is nil for single-dataset views.
	Joins workflow.JoinResolver
	// Formats is optional; without it temporal fields need explicit formats
	// or fall back to automatic parsing.
	Formats       FieldAnnotator
	LimitDebounce time.Duration
	Logger        *slog.Logger
	// Clock stamps Input.Now once per Update when the input carries no
	// time of its own; time.Now when nil.
	Clock func() time.Time

	OnStatus      func(status domain.RenderStatus, err error)
	OnResult      func(Result)
	OnInteraction func(Interaction)
}

// View runs compile-and-execute cycles for one visualization and keeps only
// the latest issued cycle's outcome visible.
type View struct {
	cfg    ViewConfig
	logger *slog.Logger
	seq    Sequencer
	limit  *LimitDebouncer
	wg     sync.WaitGroup

	// emit serializes callbacks and the state they publish.
	emit   sync.Mutex
	status domain.RenderStatus
	result *Result
	err    error
	last   *workflow.Input
	closed bool
}

// NewView creates an idle view.
func NewView(cfg ViewConfig) (*View, error) {
	if cfg.DatasetID == "" {
		return nil, domain.ErrValidation("view requires a dataset id")
	}
	if cfg.Executors == nil {
		return nil, domain.ErrValidation("view requires an executor resolver")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Computation.Mode == "" {
		cfg.Computation = domain.ClientComputation()
	}
	if err := cfg.Computation.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{cfg: cfg, logger: logger.With("dataset", cfg.DatasetID), status: domain.StatusIdle}
	v.limit = NewLimitDebouncer(cfg.LimitDebounce, v.applyLimit)
	return v, nil
}

// Update starts a cycle for in. It reports computing, then compiles
// synchronously: a compile failure is returned and reported as error. On
// success the workflow executes in the background and its outcome commits
// only if no later cycle was issued meanwhile. A failed execution keeps the
// previous result visible.
func (v *View) Update(ctx context.Context, in workflow.Input) error {
	tok, err := v.begin(in)
	if err != nil {
		return err
	}
	if in.Now.IsZero() {
		in.Now = v.cfg.Clock()
	}

	req, exec, err := v.prepare(ctx, in)
	if err != nil {
		v.finish(tok, Result{}, err)
		return err
	}
	if !v.seq.IsCurrent(tok) {
		v.discard(tok)
		return nil
	}

	cols := workflow.Columns(req.Workflow, rawColumns(in.Fields))

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		// Supersession drops the result; it does not abort the call.
		rows, err := exec.Query(context.WithoutCancel(ctx), req)
		v.finish(tok, Result{Request: req, Rows: rows, Columns: cols}, err)
	}()
	return nil
}

// SetLimit changes the row cap of the last Update. Changes within the
// debounce window collapse to the final value before recompiling.
func (v *View) SetLimit(limit int) {
	v.limit.Set(limit)
}

// FlushLimit recompiles immediately with a pending limit change.
func (v *View) FlushLimit() {
	v.limit.Flush()
}

func (v *View) applyLimit(limit int) {
	v.emit.Lock()
	last := v.last
	closed := v.closed
	v.emit.Unlock()
	if last == nil || closed {
		return
	}
	in := *last
	in.Limit = limit
	if err := v.Update(context.Background(), in); err != nil {
		v.logger.Warn("recompile after limit change failed", "limit", limit, "error", err)
	}
}

// Interact forwards a renderer event to the view's interaction callback.
func (v *View) Interact(values domain.Row) {
	v.emit.Lock()
	defer v.emit.Unlock()
	if v.closed || v.cfg.OnInteraction == nil {
		return
	}
	v.cfg.OnInteraction(Interaction{DatasetID: v.cfg.DatasetID, Values: values.Clone()})
}

// Status returns the last reported render status.
func (v *View) Status() domain.RenderStatus {
	v.emit.Lock()
	defer v.emit.Unlock()
	return v.status
}

// Result returns the visible result, if any cycle has committed rows.
func (v *View) Result() (Result, bool) {
	v.emit.Lock()
	defer v.emit.Unlock()
	if v.result == nil {
		return Result{}, false
	}
	return *v.result, true
}

// Err returns the error of the latest committed cycle, or nil.
func (v *View) Err() error {
	v.emit.Lock()
	defer v.emit.Unlock()
	return v.err
}

// Wait blocks until every started execution has returned.
func (v *View) Wait() {
	v.wg.Wait()
}

// Close drops in-flight results and stops accepting updates.
func (v *View) Close() {
	v.emit.Lock()
	v.closed = true
	v.emit.Unlock()
	v.limit.Stop()
	v.seq.Invalidate()
}

func (v *View) begin(in workflow.Input) (Token, error) {
	v.emit.Lock()
	defer v.emit.Unlock()
	if v.closed {
		return Token{}, ErrClosed
	}
	snapshot := in
	v.last = &snapshot
	tok := v.seq.Issue()
	v.report(domain.StatusComputing, nil)
	return tok, nil
}

func (v *View) prepare(ctx context.Context, in workflow.Input) (domain.QueryRequest, domain.ComputeExecutor, error) {
	exec, err := v.cfg.Executors.Resolve(ctx, v.cfg.Computation)
	if err != nil {
		return domain.QueryRequest{}, nil, err
	}
	if v.cfg.Formats != nil {
		fields, err := v.cfg.Formats.Annotate(ctx, v.cfg.DatasetID, in.Fields)
		if err != nil {
			return domain.QueryRequest{}, nil, err
		}
		in.Fields = fields
		in.Dimensions = annotateInUse(in.Dimensions, fields)
		in.Measures = annotateInUse(in.Measures, fields)
	}
	req, err := workflow.Plan(in, v.cfg.DatasetID, v.cfg.Joins)
	if err != nil {
		return domain.QueryRequest{}, nil, err
	}
	return req, exec, nil
}

// annotateInUse replaces view fields with their annotated definitions.
func annotateInUse(inUse, annotated []domain.Field) []domain.Field {
	if len(inUse) == 0 {
		return inUse
	}
	idx := make(map[string]domain.Field, len(annotated))
	for _, f := range annotated {
		idx[f.FID] = f
	}
	out := make([]domain.Field, len(inUse))
	for i, f := range inUse {
		if a, ok := idx[f.FID]; ok {
			f = a
		}
		out[i] = f
	}
	return out
}

func rawColumns(fields []domain.Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !f.IsDerived() {
			out = append(out, f.FID)
		}
	}
	return out
}

func (v *View) finish(tok Token, res Result, err error) {
	v.emit.Lock()
	defer v.emit.Unlock()
	committed := v.seq.Commit(tok, func() {
		if err != nil {
			v.err = err
			v.report(domain.StatusError, err)
			return
		}
		res.Seq = tok.Seq()
		v.result = &res
		v.err = nil
		v.report(domain.StatusRendering, nil)
		if v.cfg.OnResult != nil {
			v.cfg.OnResult(res)
		}
	})
	if !committed {
		v.discardLocked(tok, err)
	}
}

func (v *View) discard(tok Token) {
	v.emit.Lock()
	defer v.emit.Unlock()
	v.discardLocked(tok, nil)
}

func (v *View) discardLocked(tok Token, err error) {
	attrs := []any{"request_seq", tok.Seq(), "current_seq", v.seq.Current()}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	v.logger.Debug("discarding superseded result", attrs...)
}

// report publishes status. Callers hold emit.
func (v *View) report(status domain.RenderStatus, err error) {
	v.status = status
	if v.cfg.OnStatus != nil {
		v.cfg.OnStatus(status, err)
	}
}
