package helper

import (
	"fmt"
)

// TypedValueOf asserts raw to T.
// Returns an error if the type assertion fails.
func TypedValueOf[T any](raw any) (T, error) {
	val, ok := raw.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected type: %T", raw)
	}
	return val, nil
}

// MustTypedValue is the panic-on-failure variant of TypedValueOf.
// Use when failure means a broken invariant (e.g. a routing table built for T).
func MustTypedValue[T any](raw any) T {
	res, err := TypedValueOf[T](raw)
	if err != nil {
		panic(err)
	}
	return res
}

// Recovered turns a value obtained from recover() into an error wrapping sentinel.
func Recovered(sentinel error, r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return fmt.Errorf("%w: %v", sentinel, r)
}
