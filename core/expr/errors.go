package expr

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnsupported is matched by every error reporting an expression that cannot be
// translated, so callers can test with errors.Is(err, expr.ErrUnsupported).
var ErrUnsupported = errors.New("unsupported expression")

// ErrNotConstant is returned by Eval when the tree depends on a lambda parameter.
var ErrNotConstant = errors.New("expression is not constant")

// BadLinqExpressionError reports an expression shape the translator cannot map to SQL.
type BadLinqExpressionError struct {
	Node   Node
	Reason string
}

func (e *BadLinqExpressionError) Error() string {
	if e.Node == nil {
		return fmt.Sprintf("invalid document store query expression: %s", e.Reason)
	}
	return fmt.Sprintf("invalid document store query expression '%s': %s", Format(e.Node), e.Reason)
}

func (e *BadLinqExpressionError) Unwrap() error { return ErrUnsupported }

// BadExpression creates a BadLinqExpressionError for node.
func BadExpression(node Node, format string, args ...any) error {
	return &BadLinqExpressionError{Node: node, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedMethodError reports a method call no parser recognizes.
type UnsupportedMethodError struct {
	Method string
	Node   Node
}

func (e *UnsupportedMethodError) Error() string {
	msg := fmt.Sprintf("document store does not (yet) support Linq operator/method '%s'", e.Method)
	if e.Node != nil {
		msg += fmt.Sprintf(" in expression '%s'", Format(e.Node))
	}
	return msg
}

func (e *UnsupportedMethodError) Unwrap() error { return ErrUnsupported }

// UnsupportedMemberError reports a member chain that cannot be resolved to a locator.
type UnsupportedMemberError struct {
	Node   Node
	Reason string
}

func (e *UnsupportedMemberError) Error() string {
	msg := fmt.Sprintf("unsupported member chain '%s'", Format(e.Node))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *UnsupportedMemberError) Unwrap() error { return ErrUnsupported }

// ConversionError reports a constant that could not be coerced to a member's type.
type ConversionError struct {
	Value  any
	Target reflect.Type
	cause  error
}

// NewConversionError wraps the underlying conversion failure.
func NewConversionError(value any, target reflect.Type, cause error) *ConversionError {
	return &ConversionError{Value: value, Target: target, cause: cause}
}

func (e *ConversionError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("cannot convert %v (%T) to %v", e.Value, e.Value, e.Target)
	}
	return fmt.Sprintf("cannot convert %v (%T) to %v: %v", e.Value, e.Value, e.Target, e.cause)
}

func (e *ConversionError) Unwrap() error { return e.cause }

// InvalidOperationError reports a request that the document type's configuration
// makes impossible, such as a soft-delete filter on a type that is not soft deleted.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string { return e.Reason }

// InvalidOperation creates an InvalidOperationError.
func InvalidOperation(format string, args ...any) error {
	return &InvalidOperationError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidCompiledQueryError reports a compiled query type that cannot be cached.
type InvalidCompiledQueryError struct {
	Type   reflect.Type
	Reason string
}

func (e *InvalidCompiledQueryError) Error() string {
	return fmt.Sprintf("invalid compiled query %v: %s", e.Type, e.Reason)
}
