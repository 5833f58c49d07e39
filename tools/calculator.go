package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// CalculatorParams defines the parameters for the calculator tool
type CalculatorParams struct {
	A  float64 `json:"a" description:"First operand"`
	B  float64 `json:"b" description:"Second operand"`
	Op string  `json:"op" schema:"required,enum:add|sub|mul|div" description:"Operation to apply"`
}

// CalculatorTool applies a binary arithmetic operation.
type CalculatorTool struct{}

// NewCalculatorTool creates a new calculator tool
func NewCalculatorTool() Tool {
	return &CalculatorTool{}
}

func (t *CalculatorTool) Name() string {
	return "calculator"
}

func (t *CalculatorTool) Description() string {
	return "Apply an arithmetic operation (add, sub, mul, div) to two numbers"
}

// Parameters returns the parameters struct
func (t *CalculatorTool) Parameters() interface{} {
	return &CalculatorParams{}
}

// Execute applies the operation and returns a JSON result
func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args CalculatorParams
	if err := json.Unmarshal(params, &args); err != nil {
		return "", NewToolError("INVALID_PARAMS", "Failed to parse parameters").
			WithDetail("error", err.Error())
	}

	if err := Validate(&args); err != nil {
		return "", NewToolError("VALIDATION_FAILED", "Parameter validation failed").
			WithDetail("error", err.Error())
	}

	var result float64
	switch args.Op {
	case "add":
		result = args.A + args.B
	case "sub":
		result = args.A - args.B
	case "mul":
		result = args.A * args.B
	case "div":
		if args.B == 0 {
			return "", NewToolError("DIVISION_BY_ZERO", "Cannot divide by zero")
		}
		result = args.A / args.B
	default:
		return "", NewToolError("UNKNOWN_OP", fmt.Sprintf("Unknown operation %q", args.Op))
	}

	out, err := json.Marshal(map[string]float64{"result": result})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
