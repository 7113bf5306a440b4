package gatekeeper

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojopool/gatekeeper/metrics"
	"github.com/dojopool/gatekeeper/metrics/metricstest"
	"github.com/dojopool/gatekeeper/net/redistest"
	"github.com/dojopool/gatekeeper/ratelimit"
	"github.com/dojopool/gatekeeper/security/csrf"
	"github.com/dojopool/gatekeeper/security/headers"
)

func availablePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestGatekeeper(t *testing.T, o Options) (*Gatekeeper, *metricstest.MockMetrics) {
	t.Helper()

	m := &metricstest.MockMetrics{}
	if o.Metrics == nil {
		o.Metrics = m
	}
	if o.Handler == nil && o.Upstream == "" {
		o.Handler = okHandler()
	}
	o.Policies = append(ratelimit.DefaultPolicies(), o.Policies...)

	g, err := New(o)
	require.NoError(t, err)
	t.Cleanup(g.Close)

	return g, m
}

func serve(g *Gatekeeper, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	g.Handler().ServeHTTP(w, r)
	return w
}

func TestParseClientAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/games", nil)
	r.RemoteAddr = "10.0.0.1:4321"
	r.Header.Set("X-Forwarded-For", "192.0.2.1, 198.51.100.7")

	for _, tt := range []struct {
		mode string
		want string
	}{
		{"", "192.0.2.1"},
		{ClientAddrXForwardedFor, "192.0.2.1"},
		{ClientAddrXForwardedForLast, "198.51.100.7"},
		{ClientAddrPeer, "10.0.0.1"},
	} {
		t.Run(tt.mode, func(t *testing.T) {
			ca, err := ParseClientAddr(tt.mode, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ca.Lookuper.Lookup(r))
			assert.Equal(t, tt.want, ca.Addr(r).String())
		})
	}

	_, err := ParseClientAddr("forwarded", nil)
	assert.Error(t, err)
}

func TestParseUpstream(t *testing.T) {
	for _, s := range []string{"http://localhost:3000", "https://api.dojopool.com/base"} {
		_, err := ParseUpstream(s)
		assert.NoError(t, err, s)
	}

	for _, s := range []string{"", "localhost:3000", "ftp://files.dojopool.com", "http://", "://x"} {
		_, err := ParseUpstream(s)
		assert.Error(t, err, s)
	}
}

func TestNewErrors(t *testing.T) {
	for _, tt := range []struct {
		name    string
		options Options
	}{
		{"no upstream", Options{}},
		{"invalid upstream", Options{Upstream: "localhost:3000"}},
		{"invalid store", Options{Handler: okHandler(), RatelimitStore: "memcached"}},
		{"invalid client address", Options{Handler: okHandler(), ClientAddr: "forwarded"}},
		{"invalid blocked cidr", Options{Handler: okHandler(), BlockedCIDRs: []string{"10.0.0.0/33"}}},
		{"invalid trusted proxy", Options{Handler: okHandler(), TrustedProxies: []string{"proxy"}}},
		{"invalid origin", Options{Handler: okHandler(), AllowedOrigins: []string{"https://dojopool.com/path"}}},
		{"invalid policy", Options{Handler: okHandler(), Policies: []ratelimit.Policy{{Prefix: "/api/x"}}}},
		{"invalid action policy", Options{
			Handler:        okHandler(),
			ActionPolicies: map[string]ratelimit.Policy{"create-game": {MaxHits: 1}},
		}},
		{"redis without address", Options{Handler: okHandler(), RatelimitStore: StoreRedis}},
		{"valkey without address", Options{Handler: okHandler(), RatelimitStore: StoreValkey}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			tt.options.Metrics = &metricstest.MockMetrics{}
			g, err := New(tt.options)
			if err == nil {
				g.Close()
				t.Fatal("failed to fail")
			}
		})
	}

	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoUpstream)
}

func TestRateLimit(t *testing.T) {
	g, m := newTestGatekeeper(t, Options{})

	request := func() *http.Request {
		r := httptest.NewRequest("GET", "/api/auth/session", nil)
		r.Header.Set("X-Forwarded-For", "192.0.2.1")
		return r
	}

	for i := range 5 {
		rsp := serve(g, request())
		require.Equal(t, http.StatusOK, rsp.Code, "request %d", i+1)
		assert.Equal(t, "5", rsp.Header().Get(ratelimit.LimitHeader))
		assert.Equal(t, fmt.Sprint(4-i), rsp.Header().Get(ratelimit.RemainingHeader))
	}

	rsp := serve(g, request())
	assert.Equal(t, http.StatusTooManyRequests, rsp.Code)
	assert.NotEmpty(t, rsp.Header().Get(ratelimit.RetryAfterHeader))
	assert.Equal(t, "nosniff", rsp.Header().Get(headers.ContentTypeOptionsHeader))

	assert.Equal(t, int64(5), m.Counter(metrics.KeyAllowed))
	assert.Equal(t, int64(1), m.Counter(fmt.Sprintf(metrics.KeyDecision, "rate_limited")))

	// other clients have their own quota
	r := request()
	r.Header.Set("X-Forwarded-For", "192.0.2.2")
	assert.Equal(t, http.StatusOK, serve(g, r).Code)

	// paths outside of the prefix are not gated
	for range 10 {
		r := httptest.NewRequest("GET", "/index.html", nil)
		r.Header.Set("X-Forwarded-For", "192.0.2.1")
		rsp := serve(g, r)
		require.Equal(t, http.StatusOK, rsp.Code)
		assert.Empty(t, rsp.Header().Get(ratelimit.LimitHeader))
		assert.NotEmpty(t, rsp.Header().Get(headers.CSPHeader))
	}
}

func TestBlockedAndBypass(t *testing.T) {
	g, _ := newTestGatekeeper(t, Options{
		BlockedCIDRs:    []string{"198.51.100.0/24"},
		BypassAllowlist: []string{"203.0.113.10"},
		Policies:        []ratelimit.Policy{{Prefix: "/api/venues", MaxHits: 1, TimeWindow: time.Minute}},
	})

	r := httptest.NewRequest("GET", "/api/venues", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.3")
	assert.Equal(t, http.StatusForbidden, serve(g, r).Code)

	for range 3 {
		r := httptest.NewRequest("GET", "/api/venues", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.10")
		assert.Equal(t, http.StatusOK, serve(g, r).Code)
	}
}

func TestUpstreamProxy(t *testing.T) {
	var (
		gotBody string
		gotXFF  string
		gotHost string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotHost = r.Host
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	g, _ := newTestGatekeeper(t, Options{Upstream: upstream.URL, ClientAddr: ClientAddrPeer})

	entry, err := g.CSRF().Issue(context.Background(), "session-1")
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/api/games", strings.NewReader(`{"name":"<script>alert(1)</script>friday"}`))
	r.Host = "app.dojopool.com"
	r.RemoteAddr = "192.0.2.1:4321"
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set(csrf.SessionHeader, "session-1")
	r.Header.Set(csrf.TokenHeader, entry.Token)

	rsp := serve(g, r)
	require.Equal(t, http.StatusOK, rsp.Code, rsp.Body.String())
	assert.Equal(t, `{"ok":true}`, rsp.Body.String())
	assert.Equal(t, "29", rsp.Header().Get(ratelimit.RemainingHeader))
	assert.NotEmpty(t, rsp.Header().Get(headers.HSTSHeader))

	assert.NotContains(t, gotBody, "<script")
	assert.Contains(t, gotBody, "friday")
	assert.Equal(t, "192.0.2.1", gotXFF)
	assert.Equal(t, "app.dojopool.com", gotHost)

	t.Run("missing csrf token is not forwarded", func(t *testing.T) {
		gotBody = ""
		r := httptest.NewRequest("POST", "/api/games", strings.NewReader(`{"name":"x"}`))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set(csrf.SessionHeader, "session-1")

		assert.Equal(t, http.StatusForbidden, serve(g, r).Code)
		assert.Empty(t, gotBody)
	})

	t.Run("upstream down", func(t *testing.T) {
		down, _ := newTestGatekeeper(t, Options{Upstream: "http://127.0.0.1:1"})
		r := httptest.NewRequest("GET", "/api/games", nil)
		assert.Equal(t, http.StatusBadGateway, serve(down, r).Code)
	})
}

func TestHeadersReplaceHandlerValues(t *testing.T) {
	t.Run("upstream", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headers.FrameOptionsHeader, "SAMEORIGIN")
			w.Header().Set(ratelimit.RemainingHeader, "999")
			w.Header().Set("X-Upstream", "pool")
		}))
		defer upstream.Close()

		g, _ := newTestGatekeeper(t, Options{Upstream: upstream.URL})

		r := httptest.NewRequest("GET", "/api/games", nil)
		r.Header.Set("X-Forwarded-For", "192.0.2.1")
		rsp := serve(g, r)

		require.Equal(t, http.StatusOK, rsp.Code)
		assert.Equal(t, []string{"DENY"}, rsp.Header().Values(headers.FrameOptionsHeader))
		assert.Equal(t, []string{"29"}, rsp.Header().Values(ratelimit.RemainingHeader))
		assert.Equal(t, "pool", rsp.Header().Get("X-Upstream"))
	})

	t.Run("handler", func(t *testing.T) {
		g, _ := newTestGatekeeper(t, Options{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headers.FrameOptionsHeader, "ALLOWALL")
			w.Header().Del(headers.CSPHeader)
			w.Header().Del(ratelimit.LimitHeader)
			w.Write([]byte("ok"))
		})})

		r := httptest.NewRequest("GET", "/api/venues", nil)
		r.Header.Set("X-Forwarded-For", "192.0.2.1")
		rsp := serve(g, r)

		require.Equal(t, http.StatusOK, rsp.Code)
		assert.Equal(t, "DENY", rsp.Header().Get(headers.FrameOptionsHeader))
		assert.NotEmpty(t, rsp.Header().Get(headers.CSPHeader))
		assert.Equal(t, "30", rsp.Header().Get(ratelimit.LimitHeader))
	})
}

func TestCORS(t *testing.T) {
	g, _ := newTestGatekeeper(t, Options{
		EnableCORS:     true,
		AllowedOrigins: []string{"https://app.dojopool.com"},
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("OPTIONS", "/api/games", nil)
		r.Header.Set("Origin", origin)
		r.Header.Set("Access-Control-Request-Method", "POST")
		r.Header.Set("Access-Control-Request-Headers", csrf.TokenHeader)
		return serve(g, r)
	}

	rsp := preflight("https://app.dojopool.com")
	assert.Equal(t, http.StatusNoContent, rsp.Code)
	assert.Equal(t, "https://app.dojopool.com", rsp.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rsp.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "DENY", rsp.Header().Get(headers.FrameOptionsHeader))
	assert.Equal(t, "nosniff", rsp.Header().Get(headers.ContentTypeOptionsHeader))
	assert.NotEmpty(t, rsp.Header().Get(headers.CSPHeader))

	rsp = preflight("https://evil.example")
	assert.Empty(t, rsp.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rsp.Header().Get(headers.CSPHeader))

	r := httptest.NewRequest("GET", "/api/games", nil)
	r.Header.Set("Origin", "https://app.dojopool.com")
	rsp = serve(g, r)
	assert.Equal(t, http.StatusOK, rsp.Code)
	exposed := strings.ToLower(rsp.Header().Get("Access-Control-Expose-Headers"))
	assert.Contains(t, exposed, strings.ToLower(ratelimit.RemainingHeader))
}

func TestActionLimiter(t *testing.T) {
	g, _ := newTestGatekeeper(t, Options{
		ActionPolicies: map[string]ratelimit.Policy{
			"create-game": {MaxHits: 2, TimeWindow: time.Hour},
		},
	})

	ctx := context.Background()
	a := g.ActionLimiter()
	for i := range 2 {
		d, err := a.Allow(ctx, "user-1", "create-game")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "action %d", i+1)
	}

	d, err := a.Allow(ctx, "user-1", "create-game")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = a.Allow(ctx, "user-1", "join-game")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ratelimit.DefaultMaxHits, d.Limit)
}

func TestSupportListener(t *testing.T) {
	g, _ := newTestGatekeeper(t, Options{
		Metrics: metrics.NewCodaHale(metrics.Options{}),
	})

	serve(g, httptest.NewRequest("GET", "/api/games", nil))

	w := httptest.NewRecorder()
	g.SupportHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), metrics.KeyAllowed)
}

func TestRunWithShutdown(t *testing.T) {
	address := fmt.Sprintf("127.0.0.1:%d", availablePort(t))
	support := fmt.Sprintf("127.0.0.1:%d", availablePort(t))

	sig := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- RunWithShutdown(Options{
			Address:         address,
			SupportListener: support,
			Handler:         okHandler(),
			Metrics:         &metricstest.MockMetrics{},
		}, sig)
	}()

	require.Eventually(t, func() bool {
		rsp, err := http.Get("http://" + address + "/api/games")
		if err != nil {
			return false
		}
		rsp.Body.Close()
		return rsp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	sig <- syscall.SIGTERM

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("gatekeeper did not shut down")
	}
}

func TestRedisStore(t *testing.T) {
	addr, done := redistest.NewTestRedis(t)
	defer done()

	o := Options{
		RatelimitStore: StoreRedis,
		RedisAddrs:     []string{addr},
		Policies:       []ratelimit.Policy{{Prefix: "/api/tournaments", MaxHits: 2, TimeWindow: time.Minute}},
	}

	// two instances share the counters
	g1, _ := newTestGatekeeper(t, o)
	g2, _ := newTestGatekeeper(t, o)

	request := func() *http.Request {
		r := httptest.NewRequest("GET", "/api/tournaments", nil)
		r.Header.Set("X-Forwarded-For", "192.0.2.1")
		return r
	}

	assert.Equal(t, http.StatusOK, serve(g1, request()).Code)
	assert.Equal(t, http.StatusOK, serve(g2, request()).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(g1, request()).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(g2, request()).Code)

	t.Run("csrf tokens are shared", func(t *testing.T) {
		e, err := g1.CSRF().Issue(context.Background(), "session-2")
		require.NoError(t, err)

		ok, err := g2.CSRF().Validate(context.Background(), "session-2", e.Token)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
