package compute

import (
	"context"

	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
)

var _ fieldexpr.Sampler = (*ExecutorSampler)(nil)

// ExecutorSampler draws field samples for time-format inference through
// whichever executor serves the dataset.
type ExecutorSampler struct {
	exec domain.ComputeExecutor
}

// NewExecutorSampler creates a sampler over exec.
func NewExecutorSampler(exec domain.ComputeExecutor) *ExecutorSampler {
	return &ExecutorSampler{exec: exec}
}

// Sample returns up to n non-missing values of fid from the first rows of the dataset.
func (s *ExecutorSampler) Sample(ctx context.Context, datasetID, fid string, n int) ([]interface{}, error) {
	rows, err := s.exec.Query(ctx, domain.QueryRequest{
		DatasetID: datasetID,
		Workflow:  domain.Workflow{domain.LimitStep{Limit: n}, domain.ProjectStep{Fields: []string{fid}}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, n)
	for _, r := range rows {
		if v := r[fid]; v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}
