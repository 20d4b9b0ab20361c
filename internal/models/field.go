package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field is a value that is either Known or Any. In stored and source data Any
// means the value was not recorded; in a query it means "no constraint".
type Field[T comparable] struct {
	value T
	known bool
}

func Known[T comparable](v T) Field[T] {
	return Field[T]{value: v, known: true}
}

func Any[T comparable]() Field[T] {
	return Field[T]{}
}

// FromPtr maps a nullable column to a Field.
func FromPtr[T comparable](v *T) Field[T] {
	if v == nil {
		return Any[T]()
	}
	return Known(*v)
}

// KnownText trims s and treats a blank result as not recorded.
func KnownText(s string) Field[string] {
	s = strings.TrimSpace(s)
	if s == "" {
		return Any[string]()
	}
	return Known(s)
}

// TrimText applies KnownText to a known value and leaves Any alone.
func TrimText(f Field[string]) Field[string] {
	if v, ok := f.Get(); ok {
		return KnownText(v)
	}
	return f
}

func (f Field[T]) IsKnown() bool { return f.known }

func (f Field[T]) Get() (T, bool) { return f.value, f.known }

// Or returns the value when known and fallback otherwise.
func (f Field[T]) Or(fallback T) T {
	if f.known {
		return f.value
	}
	return fallback
}

// Ptr returns nil for Any, which is how the pgx store writes NULL.
func (f Field[T]) Ptr() *T {
	if !f.known {
		return nil
	}
	v := f.value
	return &v
}

// Matches reports whether a stored value satisfies f used as a query filter.
func (f Field[T]) Matches(stored Field[T]) bool {
	if !f.known {
		return true
	}
	return stored.known && stored.value == f.value
}

func (f Field[T]) String() string {
	if !f.known {
		return "ANY"
	}
	return fmt.Sprint(f.value)
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.known {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Any[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Known(v)
	return nil
}
