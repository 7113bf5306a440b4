package config

import (
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/google/go-cmp/cmp"

	"github.com/dojopool/gatekeeper/ratelimit"
)

func TestPolicyFlags(t *testing.T) {
	for _, tt := range []struct {
		name    string
		args    []string
		want    policyFlags
		wantErr error
	}{
		{
			name: "full policy",
			args: []string{"prefix=/api/auth,max-hits=5,time-window=1m,group=auth,input=reject,block=10m"},
			want: policyFlags{{
				Prefix:      "/api/auth",
				MaxHits:     5,
				TimeWindow:  time.Minute,
				Group:       "auth",
				RejectInput: true,
				Block:       10 * time.Minute,
			}},
		},
		{
			name: "default time window",
			args: []string{"prefix=/api/games,max-hits=30"},
			want: policyFlags{{Prefix: "/api/games", MaxHits: 30, TimeWindow: ratelimit.DefaultTimeWindow}},
		},
		{
			name: "repeated",
			args: []string{"max-hits=200", "prefix=/api/venues,max-hits=10,time-window=10s,input=sanitize"},
			want: policyFlags{
				{MaxHits: 200, TimeWindow: ratelimit.DefaultTimeWindow},
				{Prefix: "/api/venues", MaxHits: 10, TimeWindow: 10 * time.Second},
			},
		},
		{
			name:    "unknown property",
			args:    []string{"prefix=/api,type=client"},
			wantErr: errInvalidPolicyConfig,
		},
		{
			name:    "missing value",
			args:    []string{"prefix"},
			wantErr: errInvalidPolicyConfig,
		},
		{
			name:    "invalid input mode",
			args:    []string{"input=drop"},
			wantErr: errInvalidPolicyConfig,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var p policyFlags

			var err error
			for _, a := range tt.args {
				if err = p.Set(a); err != nil {
					break
				}
			}

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}

			if err != nil {
				t.Fatal(err)
			}

			if d := cmp.Diff(tt.want, p); d != "" {
				t.Errorf("unexpected policies:\n%s", d)
			}
		})
	}

	t.Run("invalid numbers", func(t *testing.T) {
		var p policyFlags
		for _, a := range []string{"max-hits=five", "time-window=1x", "block=forever"} {
			if err := p.Set(a); err == nil {
				t.Errorf("%s: failed to fail", a)
			}
		}
	})

	t.Run("string representation", func(t *testing.T) {
		var p policyFlags
		if err := p.Set("prefix=/api/auth,max-hits=5,group=auth"); err != nil {
			t.Fatal(err)
		}

		const expected = `policy(prefix="/api/auth",max-hits=5,time-window=1m0s,group=auth)`
		if s := p.String(); s != expected {
			t.Errorf("expected %s, got %s", expected, s)
		}
	})

	t.Run("unmarshal yaml", func(t *testing.T) {
		var p policyFlags
		err := yaml.Unmarshal([]byte(`
- prefix: /api/auth
  max-hits: 3
  reject-input: true
- prefix: /api/games
  max-hits: 30
  time-window: 30s
`), &p)
		if err != nil {
			t.Fatal(err)
		}

		want := policyFlags{
			{Prefix: "/api/auth", MaxHits: 3, TimeWindow: ratelimit.DefaultTimeWindow, RejectInput: true},
			{Prefix: "/api/games", MaxHits: 30, TimeWindow: 30 * time.Second},
		}
		if d := cmp.Diff(want, p); d != "" {
			t.Errorf("unexpected policies:\n%s", d)
		}
	})
}
