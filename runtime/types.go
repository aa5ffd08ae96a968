package runtime

import (
	"fmt"
	"strings"
)

// ValueType represents WASM value types
type ValueType int

const (
	ValueTypeI32 ValueType = iota
	ValueTypeI64
	ValueTypeF32
	ValueTypeF64
)

func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// FunctionDefinition is the signature of an exported function.
type FunctionDefinition struct {
	Name        string
	ParamTypes  []ValueType
	ResultTypes []ValueType
}

// Matches reports whether the definition has exactly the given signature.
func (d FunctionDefinition) Matches(params, results []ValueType) bool {
	return equalTypes(d.ParamTypes, params) && equalTypes(d.ResultTypes, results)
}

// Signature renders the definition as "(i32, i32) -> i32".
func (d FunctionDefinition) Signature() string {
	return FormatSignature(d.ParamTypes, d.ResultTypes)
}

// FormatSignature renders a parameter and result list as "(i32) -> ()".
func FormatSignature(params, results []ValueType) string {
	return "(" + joinTypes(params) + ") -> (" + joinTypes(results) + ")"
}

func joinTypes(types []ValueType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

func equalTypes(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
