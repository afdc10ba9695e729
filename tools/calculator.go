package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/petasbytes/market-agent/internal/calc"
)

type CalculatorInput struct {
	Expression string `json:"expression" jsonschema_description:"Arithmetic expression, e.g. 100 * 1.05, (250-50)/4 or 15% of 1000."`
}

var CalculatorInputSchema = GenerateSchema[CalculatorInput]()

// Calculator evaluates arithmetic with the safe evaluator in internal/calc.
type Calculator struct{}

func (Calculator) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "calculator",
		Description: "Perform mathematical calculations. Supports + - * / ** %, parentheses and percentages such as '25% of 10000'.",
		InputSchema: CalculatorInputSchema,
		PrimaryArg:  "expression",
	}
}

func (Calculator) Run(_ context.Context, input json.RawMessage) (string, error) {
	var in CalculatorInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", err
	}
	v, err := calc.Evaluate(in.Expression)
	if err != nil {
		code := CodeInvalidExpression
		if errors.Is(err, calc.ErrDivisionByZero) {
			code = CodeDivisionByZero
		}
		return "", &Error{Code: code, Message: err.Error(), Err: err}
	}
	return "Result: " + calc.Format(v), nil
}
