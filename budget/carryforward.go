package budget

import (
	"fmt"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"
)

// CarryforwardInput is the frozen state of a year at closure.
type CarryforwardInput struct {
	Allocated decimal.Decimal
	Spent     decimal.Decimal
	Income    decimal.Decimal
}

func (in CarryforwardInput) params() map[string]interface{} {
	return map[string]interface{}{
		"allocated": in.Allocated.InexactFloat64(),
		"spent":     in.Spent.InexactFloat64(),
		"income":    in.Income.InexactFloat64(),
	}
}

// CarryforwardStrategy computes the amount a closed year carries into the
// next one.
type CarryforwardStrategy interface {
	Name() string
	Carryforward(in CarryforwardInput) (decimal.Decimal, error)
}

// RemainingCarryforward carries unspent allocation: allocated - spent.
type RemainingCarryforward struct{}

func (RemainingCarryforward) Name() string { return "remaining" }

func (RemainingCarryforward) Carryforward(in CarryforwardInput) (decimal.Decimal, error) {
	return in.Allocated.Sub(in.Spent), nil
}

// FormulaCarryforward evaluates an arithmetic expression over allocated,
// spent and income, for example "income > spent ? income - spent : 0".
type FormulaCarryforward struct {
	source string
	expr   *govaluate.EvaluableExpression
}

var carryforwardVariables = map[string]bool{"allocated": true, "spent": true, "income": true}

func NewFormulaCarryforward(source string) (*FormulaCarryforward, error) {
	expr, err := govaluate.NewEvaluableExpression(source)
	if err != nil {
		return nil, &ValidationError{Field: "carryforward.expression", Reason: err.Error()}
	}
	for _, v := range expr.Vars() {
		if !carryforwardVariables[v] {
			return nil, invalid("carryforward.expression", fmt.Sprintf("unknown variable %q", v))
		}
	}
	return &FormulaCarryforward{source: source, expr: expr}, nil
}

func (f *FormulaCarryforward) Name() string { return "formula" }

func (f *FormulaCarryforward) Expression() string { return f.source }

func (f *FormulaCarryforward) Carryforward(in CarryforwardInput) (decimal.Decimal, error) {
	result, err := f.expr.Evaluate(in.params())
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate carryforward %q: %w", f.source, err)
	}
	value, ok := result.(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("carryforward %q returned %T, expected number", f.source, result)
	}
	return decimal.NewFromFloat(value).Round(2), nil
}
