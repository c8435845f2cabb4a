package workflow

import (
	"sort"

	"vizflow/internal/domain"
)

// JoinResolver finds the hops from a dataset to the primary dataset.
type JoinResolver interface {
	Primary() string
	Resolve(datasetID string) ([]domain.JoinHop, error)
}

// Plan compiles in and binds it to the primary dataset. Every other dataset
// that a field in use originates from contributes its join path; each
// dataset is joined once. A nil joins means a single-dataset view.
func Plan(in Input, primary string, joins JoinResolver) (domain.QueryRequest, error) {
	wf, err := Compile(in)
	if err != nil {
		return domain.QueryRequest{}, err
	}
	req := domain.QueryRequest{DatasetID: primary, Workflow: wf}

	needed := datasetsInUse(in, primary)
	if len(needed) == 0 {
		return req, nil
	}
	if joins == nil {
		return domain.QueryRequest{}, &domain.JoinPathError{From: needed[0], To: primary, Reason: domain.JoinPathNoPath}
	}

	joined := map[string]bool{primary: true}
	for _, ds := range needed {
		path, err := joins.Resolve(ds)
		if err != nil {
			return domain.QueryRequest{}, err
		}
		for _, hop := range path {
			if joined[hop.From] {
				continue
			}
			joined[hop.From] = true
			req.Joins = append(req.Joins, hop)
		}
	}
	return req, nil
}

func datasetsInUse(in Input, primary string) []string {
	idx := map[string]domain.Field{}
	for _, f := range mergeFields(in) {
		idx[f.FID] = f
	}

	seen := map[string]bool{}
	need := map[string]bool{}
	var visit func(fid string)
	visit = func(fid string) {
		if seen[fid] {
			return
		}
		seen[fid] = true
		f, ok := idx[fid]
		if !ok {
			return
		}
		if f.Dataset != "" && f.Dataset != primary && !f.IsDerived() {
			need[f.Dataset] = true
		}
		for _, ref := range f.Expression.FieldRefs() {
			visit(ref)
		}
	}
	for _, f := range in.Dimensions {
		visit(f.FID)
	}
	for _, f := range in.Measures {
		visit(f.FID)
	}
	for _, f := range in.Filters {
		visit(f.FID)
	}

	out := make([]string, 0, len(need))
	for ds := range need {
		out = append(out, ds)
	}
	sort.Strings(out)
	return out
}
