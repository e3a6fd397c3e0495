// Package field holds values that a provider may or may not report.
package field

import (
	"fmt"
	"strconv"
	"strings"
)

// Opt is a value that is either present or absent. The zero value is absent.
type Opt[T any] struct {
	value T
	ok    bool
}

// Some returns a present value.
func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, ok: true}
}

// None returns an absent value.
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// FromPtr returns Some(*p), or None when p is nil.
func FromPtr[T any](p *T) Opt[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present reports whether the value is present.
func (o Opt[T]) Present() bool {
	return o.ok
}

// Or returns the value, or fallback when absent.
func (o Opt[T]) Or(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

func (o Opt[T]) String() string {
	if !o.ok {
		return "N/A"
	}
	return fmt.Sprint(o.value)
}

// Map applies fn to a present value.
func Map[T, U any](o Opt[T], fn func(T) U) Opt[U] {
	if !o.ok {
		return None[U]()
	}
	return Some(fn(o.value))
}

// Both returns the two values when both are present.
func Both[A, B any](a Opt[A], b Opt[B]) (A, B, bool) {
	return a.value, b.value, a.ok && b.ok
}

// ParseFloat reads a provider number. Empty strings and the placeholders
// "None", "N/A", "-" and "NaN" are absent.
func ParseFloat(s string) Opt[float64] {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "n/a", "-", "nan", "null":
		return None[float64]()
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return None[float64]()
	}
	return Some(f)
}
