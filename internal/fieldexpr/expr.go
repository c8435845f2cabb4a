package fieldexpr

import (
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"vizflow/internal/domain"
)

const exprMaxSteps = uint64(10_000)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// compileExpr wraps the user source in a function taking the row dict and
// every referenced field whose fid is a valid identifier.
func compileExpr(o Expr) (starlark.Callable, []string, error) {
	params := []string{"row"}
	var bound []string
	for _, fid := range o.Fields {
		if identRe.MatchString(fid) && fid != "row" {
			params = append(params, fid)
			bound = append(bound, fid)
		}
	}
	src := fmt.Sprintf("def __expr(%s):\n    return (%s)\n", strings.Join(params, ", "), strings.TrimSpace(o.Source))

	thread := &starlark.Thread{Name: "field-expr-compile"}
	thread.SetMaxExecutionSteps(exprMaxSteps)
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, "expr.star", src, nil)
	if err != nil {
		return nil, nil, domain.ErrValidation("expr: %v", err)
	}
	fn, ok := globals["__expr"].(starlark.Callable)
	if !ok {
		return nil, nil, domain.ErrValidation("expr: failed to compile expression")
	}
	return fn, bound, nil
}

func exprValues(rows []domain.Row, out string, o Expr) ([]interface{}, Report, error) {
	fn, bound, err := compileExpr(o)
	if err != nil {
		return nil, Report{}, err
	}

	values := make([]interface{}, len(rows))
	var rep Report
	for i, row := range rows {
		dict := starlark.NewDict(len(o.Fields))
		args := make(starlark.Tuple, 0, len(bound)+1)
		args = append(args, dict)
		for _, fid := range o.Fields {
			if err := dict.SetKey(starlark.String(fid), toStarlark(domain.Value(row, fid))); err != nil {
				return nil, Report{}, fmt.Errorf("expr: bind %q: %w", fid, err)
			}
		}
		for _, fid := range bound {
			args = append(args, toStarlark(domain.Value(row, fid)))
		}

		thread := &starlark.Thread{Name: "field-expr-eval"}
		thread.SetMaxExecutionSteps(exprMaxSteps)
		res, err := starlark.Call(thread, fn, args, nil)
		if err != nil {
			rep.Dropped++
			if rep.First == nil {
				rep.First = &domain.DomainError{Op: string(domain.OpExpr), Field: out, Value: err.Error()}
			}
			continue
		}
		v, ok := fromStarlark(res)
		if !ok {
			rep.Dropped++
			continue
		}
		values[i] = v
	}
	return values, rep, nil
}

func toStarlark(v interface{}) starlark.Value {
	if f, ok := domain.AsNumber(v); ok {
		return starlark.Float(f)
	}
	switch x := v.(type) {
	case string:
		return starlark.String(x)
	case bool:
		return starlark.Bool(x)
	}
	return starlark.None
}

func fromStarlark(v starlark.Value) (interface{}, bool) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, true
	case starlark.Bool:
		return bool(x), true
	case starlark.Int:
		f, _ := starlark.AsFloat(x)
		return f, true
	case starlark.Float:
		return float64(x), true
	case starlark.String:
		return string(x), true
	}
	return nil, false
}
