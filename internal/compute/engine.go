package compute

import (
	"fmt"
	"log/slog"
	"time"

	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
	"vizflow/internal/workflow"
)

// Engine executes compiled workflows over in-memory rows. It holds no state
// between calls; the zero value is ready to use.
type Engine struct {
	// Location interprets naive timestamps; UTC when nil.
	Location *time.Location
	Logger   *slog.Logger
}

// Execute runs wf over rows with the zero Engine.
func Execute(rows []domain.Row, fields []domain.Field, wf domain.Workflow) ([]domain.Row, error) {
	return Engine{}.Execute(rows, fields, wf)
}

// Execute runs each step of wf in order. The input rows and field
// definitions are never modified, and equal inputs give equal outputs.
// A reference to a column the rows cannot supply fails with
// UnknownFieldError before any step runs.
func (e Engine) Execute(rows []domain.Row, fields []domain.Field, wf domain.Workflow) ([]domain.Row, error) {
	if err := workflow.Validate(wf, AvailableColumns(rows, fields)); err != nil {
		return nil, err
	}
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	opts := fieldexpr.Options{Location: loc, Logger: e.Logger}

	cur := rows
	for i, s := range wf {
		var err error
		switch st := s.(type) {
		case domain.FilterStep:
			cur, err = applyFilter(cur, st, loc)
		case domain.TransformStep:
			cur, _, err = fieldexpr.Apply(cur, st.FID, st.Expression, opts)
		case domain.AggregateStep:
			cur, err = applyAggregate(cur, st)
		case domain.SortStep:
			cur = applySort(cur, st)
		case domain.LimitStep:
			cur = applyLimit(cur, st)
		case domain.ProjectStep:
			cur = applyProject(cur, st)
		default:
			err = domain.ErrValidation("unsupported step %T", s)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Type(), err)
		}
	}
	// Filter, sort and limit pass caller maps through.
	return cloneRows(cur), nil
}

// AvailableColumns is the set of columns rows can supply: every declared raw
// field plus every key present in any row.
func AvailableColumns(rows []domain.Row, fields []domain.Field) []string {
	seen := map[string]bool{}
	var cols []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, f := range fields {
		if !f.IsDerived() {
			add(f.FID)
		}
	}
	for _, r := range rows {
		for k := range r {
			add(k)
		}
	}
	return cols
}

func cloneRows(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
