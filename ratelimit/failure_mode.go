package ratelimit

import (
	"fmt"
)

// FailureMode decides about requests when the CounterStore fails.
type FailureMode int

const (
	// FailOpen allows requests when the store fails
	FailOpen FailureMode = iota
	// FailClosed denies requests when the store fails
	FailClosed
)

func (m FailureMode) String() string {
	switch m {
	case FailClosed:
		return "closed"
	default:
		return "open"
	}
}

// ParseFailureMode parses "open" or "closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch s {
	case "open", "":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("invalid failure mode %q (allowed values are: open or closed)", s)
	}
}

// Set implements flag.Value.
func (m *FailureMode) Set(s string) error {
	v, err := ParseFailureMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m *FailureMode) UnmarshalYAML(unmarshal func(any) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}
	return m.Set(value)
}
