package config

import (
	"testing"

	"gopkg.in/yaml.v2"

	"github.com/google/go-cmp/cmp"
)

func TestMapFlags(t *testing.T) {
	for _, tt := range []struct {
		name    string
		args    string
		values  map[string]string
		wantErr bool
	}{
		{
			name:    "missing value",
			args:    "X-Dojo",
			wantErr: true,
		},
		{
			name:    "empty value",
			args:    "X-Dojo=",
			wantErr: true,
		},
		{
			name:    "empty key",
			args:    "=pool",
			wantErr: true,
		},
		{
			name:   "single pair",
			args:   "X-Dojo=pool",
			values: map[string]string{"X-Dojo": "pool"},
		},
		{
			name:   "value with equal sign",
			args:   "X-Dojo=pool=cue",
			values: map[string]string{"X-Dojo": "pool=cue"},
		},
		{
			name:   "spaces are trimmed",
			args:   " X-Dojo = pool , X-Table = 8 ",
			values: map[string]string{"X-Dojo": "pool", "X-Table": "8"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m := newMapFlags()

			err := m.Set(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}

			if err == nil && !cmp.Equal(tt.values, m.values) {
				t.Errorf("parse failed:\n%s", cmp.Diff(tt.values, m.values))
			}
		})
	}

	t.Run("string representation is sorted", func(t *testing.T) {
		m := newMapFlags()
		if err := m.Set("b=2,a=1"); err != nil {
			t.Fatal(err)
		}

		if s := m.String(); s != "a=1,b=2" {
			t.Errorf("unexpected string representation: %s", s)
		}
	})

	t.Run("unmarshal yaml", func(t *testing.T) {
		m := newMapFlags()
		if err := yaml.Unmarshal([]byte("X-Dojo: pool\nX-Table: \"8\""), m); err != nil {
			t.Fatal(err)
		}

		if d := cmp.Diff(map[string]string{"X-Dojo": "pool", "X-Table": "8"}, m.Values()); d != "" {
			t.Error(d)
		}
	})

	t.Run("unset values are nil", func(t *testing.T) {
		if v := newMapFlags().Values(); v != nil {
			t.Errorf("expected nil, got %v", v)
		}
	})
}
