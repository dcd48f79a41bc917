package audit

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter selects records with an optional CEL expression and caps the result size.
//
// The expression sees: id, reason, queue, original_queue, message (strings),
// retries, attempts, death_count, drained_at_ms (ints), malformed (bool)
// and fields (the envelope's extra keys). Example:
//
//	reason == "rejected" && attempts >= 5
type Filter struct {
	Expr  string
	Limit int

	prog cel.Program
}

// NewFilter compiles expr. An empty expression matches everything; a limit
// of zero or less means no limit.
func NewFilter(expr string, limit int) (*Filter, error) {
	f := &Filter{Expr: strings.TrimSpace(expr), Limit: limit}
	if f.Expr == "" {
		return f, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("queue", cel.StringType),
		cel.Variable("original_queue", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("retries", cel.IntType),
		cel.Variable("attempts", cel.IntType),
		cel.Variable("malformed", cel.BoolType),
		cel.Variable("death_count", cel.IntType),
		cel.Variable("drained_at_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}

	ast, iss := env.Compile(f.Expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must be boolean, got %s", ErrInvalidFilter, ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	f.prog = prog
	return f, nil
}

// Match reports whether rec satisfies the expression. A nil filter matches everything.
func (f *Filter) Match(rec Record) (bool, error) {
	if f == nil || f.prog == nil {
		return true, nil
	}

	out, _, err := f.prog.Eval(rec.variables())
	if err != nil {
		return false, fmt.Errorf("audit: evaluating filter on record %s: %w", rec.ID, err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

func (f *Filter) limit() int {
	if f == nil {
		return 0
	}
	return f.Limit
}
