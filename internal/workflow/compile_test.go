package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizflow/internal/domain"
)

func ptr(v float64) *float64 { return &v }

var (
	fieldA = domain.Field{FID: "a", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure}
	fieldB = domain.Field{FID: "b", SemanticType: domain.SemanticNominal, AnalyticType: domain.AnalyticDimension}
	fieldD = domain.Field{FID: "d", SemanticType: domain.SemanticTemporal, AnalyticType: domain.AnalyticDimension}

	fieldABin = domain.Field{
		FID: "a_bin", SemanticType: domain.SemanticOrdinal, AnalyticType: domain.AnalyticDimension, Computed: true,
		Expression: &domain.Expression{Op: domain.OpBin, As: "a_bin", Params: []domain.ExpressionParam{
			{Type: domain.ParamField, Value: "a"},
		}},
	}
	fieldABinLog = domain.Field{
		FID: "a_bin_log", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure, Computed: true,
		Expression: &domain.Expression{Op: domain.OpLog, As: "a_bin_log", Params: []domain.ExpressionParam{
			{Type: domain.ParamField, Value: "a_bin"}, {Type: domain.ParamValue, Value: 10.0},
		}},
	}
	fieldDMonth = domain.Field{
		FID: "d_month", SemanticType: domain.SemanticTemporal, AnalyticType: domain.AnalyticDimension, Computed: true,
		Expression: &domain.Expression{Op: domain.OpDateTimeDrill, As: "d_month", Params: []domain.ExpressionParam{
			{Type: domain.ParamField, Value: "d"}, {Type: domain.ParamValue, Value: "month"},
		}},
	}
)

func allFields() []domain.Field {
	return []domain.Field{fieldA, fieldB, fieldD, fieldABin, fieldABinLog, fieldDMonth}
}

func TestCompile_AggregatedSum(t *testing.T) {
	t.Parallel()

	wf, err := Compile(Input{
		Fields:     allFields(),
		Dimensions: []domain.Field{fieldB},
		Measures:   []domain.Field{fieldA},
		Aggregated: true,
		Sort:       domain.SortNone,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Workflow{
		domain.AggregateStep{
			GroupBy:  []string{"b"},
			Measures: []domain.Measure{{FID: "a", Agg: "sum", As: "a_sum"}},
		},
	}, wf)
}

func TestCompile_StepOrdering(t *testing.T) {
	t.Parallel()

	mean := fieldABinLog
	mean.AggName = domain.AggMean
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	wf, err := Compile(Input{
		Fields: allFields(),
		Filters: []domain.Filter{
			{FID: "a_bin", Rule: domain.FilterRule{Type: domain.RuleRange, Min: ptr(2)}},
			{FID: "a", Rule: domain.FilterRule{Type: domain.RuleRange, Min: ptr(0), MinExclusive: true}},
			{FID: "d", Rule: domain.FilterRule{Type: domain.RuleRelativeTime, Unit: domain.UnitDay, Amount: 7}},
		},
		Dimensions: []domain.Field{fieldDMonth, fieldB},
		Measures:   []domain.Field{mean},
		Aggregated: true,
		Sort:       domain.SortDescending,
		Limit:      20,
		Now:        now,
	})
	require.NoError(t, err)

	var kinds []domain.StepType
	for _, s := range wf {
		kinds = append(kinds, s.Type())
	}
	assert.Equal(t, []domain.StepType{
		domain.StepFilter, domain.StepFilter,
		domain.StepTransform, domain.StepTransform, domain.StepTransform,
		domain.StepFilter,
		domain.StepAggregate, domain.StepSort, domain.StepLimit,
	}, kinds)

	assert.Equal(t, "a", wf[0].(domain.FilterStep).FID)
	relative := wf[1].(domain.FilterStep)
	require.NotNil(t, relative.Rule.Anchor)
	assert.Equal(t, float64(now.UnixMilli()), *relative.Rule.Anchor)

	assert.Equal(t, "d_month", wf[2].(domain.TransformStep).FID)
	assert.Equal(t, "a_bin", wf[3].(domain.TransformStep).FID, "dependencies come first")
	assert.Equal(t, "a_bin_log", wf[4].(domain.TransformStep).FID)
	assert.Equal(t, "a_bin", wf[5].(domain.FilterStep).FID)

	agg := wf[6].(domain.AggregateStep)
	assert.Equal(t, []string{"d_month", "b"}, agg.GroupBy)
	assert.Equal(t, []domain.Measure{{FID: "a_bin_log", Agg: "mean", As: "a_bin_log_mean"}}, agg.Measures)
	assert.Equal(t, domain.SortStep{By: []string{"a_bin_log_mean"}, Direction: domain.SortDescending}, wf[7])
	assert.Equal(t, domain.LimitStep{Limit: 20}, wf[8])

	require.NoError(t, Validate(wf, []string{"a", "b", "d"}))
}

func TestCompile_Deterministic(t *testing.T) {
	t.Parallel()

	in := Input{
		Fields: allFields(),
		Filters: []domain.Filter{
			{FID: "b", Rule: domain.FilterRule{Type: domain.RuleOneOf, Values: []interface{}{"x", "y"}}},
			{FID: "d", Rule: domain.FilterRule{Type: domain.RuleRelativeTime, Unit: domain.UnitDay, Amount: 3}},
		},
		Dimensions: []domain.Field{fieldABin, fieldB},
		Measures:   []domain.Field{fieldA, fieldABinLog},
		Aggregated: true,
		Sort:       domain.SortAscending,
		Limit:      5,
		Now:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	first, err := Compile(in)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := Compile(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestCompile_SharedTransformsEmittedOnce(t *testing.T) {
	t.Parallel()

	wf, err := Compile(Input{
		Fields:     allFields(),
		Dimensions: []domain.Field{fieldABin},
		Measures:   []domain.Field{fieldABinLog},
	})
	require.NoError(t, err)
	require.Len(t, wf, 2)
	assert.Equal(t, "a_bin", wf[0].(domain.TransformStep).FID)
	assert.Equal(t, "a_bin_log", wf[1].(domain.TransformStep).FID)
}

func TestCompile_EmptyView(t *testing.T) {
	t.Parallel()

	wf, err := Compile(Input{Fields: allFields(), Aggregated: true})
	require.NoError(t, err)
	assert.Equal(t, domain.Workflow{domain.AggregateStep{}}, wf, "grand total")

	wf, err = Compile(Input{Fields: allFields()})
	require.NoError(t, err)
	assert.Empty(t, wf, "raw rows")
}

func TestCompile_SortAndLimitDirectives(t *testing.T) {
	t.Parallel()

	t.Run("none adds no sort", func(t *testing.T) {
		t.Parallel()
		wf, err := Compile(Input{Fields: allFields(), Measures: []domain.Field{fieldA}, Sort: domain.SortNone})
		require.NoError(t, err)
		assert.Empty(t, wf)
	})

	t.Run("zero limit is unlimited", func(t *testing.T) {
		t.Parallel()
		wf, err := Compile(Input{Fields: allFields(), Limit: 0})
		require.NoError(t, err)
		assert.Empty(t, wf)
	})

	t.Run("designated field on raw rows", func(t *testing.T) {
		t.Parallel()
		wf, err := Compile(Input{
			Fields: allFields(), Measures: []domain.Field{fieldA},
			Sort: domain.SortAscending, SortBy: []string{"b", "a"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.Workflow{domain.SortStep{By: []string{"b", "a"}, Direction: domain.SortAscending}}, wf)
	})

	t.Run("designated measure sorts by its output key", func(t *testing.T) {
		t.Parallel()
		wf, err := Compile(Input{
			Fields: allFields(), Dimensions: []domain.Field{fieldB}, Measures: []domain.Field{fieldA},
			Aggregated: true, Sort: domain.SortAscending, SortBy: []string{"a"},
		})
		require.NoError(t, err)
		require.Len(t, wf, 2)
		assert.Equal(t, []string{"a_sum"}, wf[1].(domain.SortStep).By)
	})

	t.Run("falls back to dimensions", func(t *testing.T) {
		t.Parallel()
		wf, err := Compile(Input{
			Fields: allFields(), Dimensions: []domain.Field{fieldB}, Aggregated: true, Sort: domain.SortDescending,
		})
		require.NoError(t, err)
		require.Len(t, wf, 2)
		assert.Equal(t, []string{"b"}, wf[1].(domain.SortStep).By)
	})
}

func TestCompile_CountAndExprMeasures(t *testing.T) {
	t.Parallel()

	count := domain.Field{FID: domain.CountFieldID, SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure, AggName: domain.AggSum}
	pre := domain.Field{FID: "a", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure, AggName: domain.AggExpr}

	wf, err := Compile(Input{
		Fields:     allFields(),
		Dimensions: []domain.Field{fieldB},
		Measures:   []domain.Field{count, pre},
		Aggregated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Workflow{domain.AggregateStep{
		GroupBy: []string{"b"},
		Measures: []domain.Measure{
			{FID: domain.CountFieldID, Agg: "sum", As: "gw_count_fid_sum"},
			{FID: "a", Agg: "expr", As: "a"},
		},
	}}, wf)
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()

	cyclic := []domain.Field{
		{FID: "x", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure,
			Expression: &domain.Expression{Op: domain.OpLog, Params: []domain.ExpressionParam{{Type: domain.ParamField, Value: "y"}}}},
		{FID: "y", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure,
			Expression: &domain.Expression{Op: domain.OpLog, Params: []domain.ExpressionParam{{Type: domain.ParamField, Value: "x"}}}},
	}

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()
		_, err := Compile(Input{Fields: cyclic, Measures: cyclic[:1]})
		var cyc *domain.CyclicFieldReferenceError
		assert.ErrorAs(t, err, &cyc)
	})

	t.Run("cycle outside the view", func(t *testing.T) {
		t.Parallel()
		fields := append(allFields(), cyclic...)
		_, err := Compile(Input{Fields: fields, Measures: []domain.Field{fieldA}})
		var cyc *domain.CyclicFieldReferenceError
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, []string{"x", "y", "x"}, cyc.Chain)
	})

	t.Run("derived field over missing field", func(t *testing.T) {
		t.Parallel()
		ghost := domain.Field{FID: "ghost_log", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure,
			Expression: &domain.Expression{Op: domain.OpLog, Params: []domain.ExpressionParam{{Type: domain.ParamField, Value: "ghost"}}}}
		_, err := Compile(Input{Fields: append(allFields(), ghost), Measures: []domain.Field{fieldA}})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, err.Error(), `"ghost"`)
	})

	t.Run("unknown filter field", func(t *testing.T) {
		t.Parallel()
		_, err := Compile(Input{Fields: allFields(), Filters: []domain.Filter{
			{FID: "nope", Rule: domain.FilterRule{Type: domain.RuleOneOf}},
		}})
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("invalid rule", func(t *testing.T) {
		t.Parallel()
		_, err := Compile(Input{Fields: allFields(), Filters: []domain.Filter{
			{FID: "a", Rule: domain.FilterRule{Type: domain.RuleRange}},
		}})
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve)
	})
}

func TestCompile_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	filters := []domain.Filter{{FID: "d", Rule: domain.FilterRule{Type: domain.RuleRelativeTime, Unit: domain.UnitHour, Amount: 1}}}
	dims := []domain.Field{fieldDMonth}
	_, err := Compile(Input{Fields: allFields(), Filters: filters, Dimensions: dims, Now: time.Unix(0, 0)})
	require.NoError(t, err)
	assert.Nil(t, filters[0].Rule.Anchor)
	assert.Len(t, dims[0].Expression.Params, 2)
}

func TestCompile_RelativeTimeNeedsAnchor(t *testing.T) {
	t.Parallel()

	rule := domain.FilterRule{Type: domain.RuleRelativeTime, Unit: domain.UnitDay, Amount: 3}
	in := Input{Fields: allFields(), Filters: []domain.Filter{{FID: "d", Rule: rule}}}

	_, err := Compile(in)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), `"d"`)

	anchor := 1.7e12
	in.Filters[0].Rule.Anchor = &anchor
	wf, err := Compile(in)
	require.NoError(t, err)
	require.Len(t, wf, 1)
	assert.Equal(t, anchor, *wf[0].(domain.FilterStep).Rule.Anchor)
}

func TestCompile_SortErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{
			name: "unknown direction",
			in:   Input{Fields: allFields(), Dimensions: []domain.Field{fieldB}, Sort: "asc"},
		},
		{
			name: "designated field gone after aggregation",
			in: Input{
				Fields: allFields(), Dimensions: []domain.Field{fieldB}, Measures: []domain.Field{fieldA},
				Aggregated: true, Sort: domain.SortAscending, SortBy: []string{"d"},
			},
			field: "d",
		},
		{
			name:  "designated field unknown",
			in:    Input{Fields: allFields(), Sort: domain.SortDescending, SortBy: []string{"nope"}},
			field: "nope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(tt.in)
			require.Error(t, err)
			if tt.field == "" {
				var ve *domain.ValidationError
				assert.ErrorAs(t, err, &ve)
				return
			}
			var ue *domain.UnknownFieldError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.field, ue.Field)
		})
	}

	wf, err := Compile(Input{
		Fields: allFields(), Dimensions: []domain.Field{fieldB}, Measures: []domain.Field{fieldA},
		Aggregated: true, Sort: domain.SortAscending, SortBy: []string{"b"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SortStep{By: []string{"b"}, Direction: domain.SortAscending}, wf[1])
}
