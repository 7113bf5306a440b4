package ratelimit

import (
	"testing"

	"gopkg.in/yaml.v2"
)

func TestParseFailureMode(t *testing.T) {
	for _, tt := range []struct {
		input   string
		want    FailureMode
		wantErr bool
	}{
		{"", FailOpen, false},
		{"open", FailOpen, false},
		{"closed", FailClosed, false},
		{"Closed", FailOpen, true},
		{"maybe", FailOpen, true},
	} {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFailureMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFailureModeYAML(t *testing.T) {
	var c struct {
		Mode FailureMode `yaml:"mode"`
	}

	if err := yaml.Unmarshal([]byte("mode: closed"), &c); err != nil {
		t.Fatal(err)
	}
	if c.Mode != FailClosed {
		t.Errorf("expected closed, got %v", c.Mode)
	}

	if err := yaml.Unmarshal([]byte("mode: nope"), &c); err == nil {
		t.Error("expected error")
	}
}
