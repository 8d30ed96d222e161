// Package policy provides the CEL-based alert policy filter. A policy
// expression decides whether a scored transaction that already cleared
// the severity gate should actually raise an alert, letting operators
// suppress alerts (low amounts, known categories) without a redeploy.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultExpression admits every candidate alert.
const DefaultExpression = "true"

// Filter evaluates a compiled CEL policy against scored transactions.
type Filter struct {
	mu      sync.RWMutex
	env     *cel.Env
	program cel.Program
	expr    string
}

// NewFilter compiles the policy expression. An empty expression means
// no filtering.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		expr = DefaultExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("isolation_score", cel.DoubleType),
		cel.Variable("density_score", cel.DoubleType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("priority", cel.IntType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("location_city", cel.StringType),
		cel.Variable("device_type", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}

	f := &Filter{env: env}
	if err := f.Reload(expr); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload compiles and swaps in a new policy expression.
func (f *Filter) Reload(expr string) error {
	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile policy: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("policy expression must return bool, got %s", ast.OutputType())
	}
	program, err := f.env.Program(ast)
	if err != nil {
		return fmt.Errorf("create policy program: %w", err)
	}

	f.mu.Lock()
	f.program = program
	f.expr = expr
	f.mu.Unlock()
	return nil
}

// Expression returns the active policy source.
func (f *Filter) Expression() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.expr
}

// Admit reports whether the policy admits an alert for the scored
// transaction. Evaluation errors admit the alert: a broken policy must
// not silently suppress alerts.
func (f *Filter) Admit(tx *domain.Transaction, rec *domain.ScoreRecord) bool {
	f.mu.RLock()
	program := f.program
	f.mu.RUnlock()

	activation := map[string]any{
		"score":             rec.AnomalyScore,
		"isolation_score":   rec.IsolationScore,
		"density_score":     rec.DensityScore,
		"risk_level":        string(rec.RiskLevel),
		"priority":          rec.Priority,
		"amount":            tx.Amount,
		"user_id":           tx.UserID,
		"merchant_category": tx.MerchantCategory,
		"location_city":     tx.LocationCity,
		"device_type":       tx.DeviceType,
		"hour":              tx.Timestamp.Hour(),
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return true
	}
	admitted, ok := out.(types.Bool)
	if !ok {
		return true
	}
	return bool(admitted)
}
