package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/netip"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"go4.org/netipx"
	"golang.org/x/sync/errgroup"

	"github.com/dojopool/gatekeeper/logging"
	"github.com/dojopool/gatekeeper/metrics"
	"github.com/dojopool/gatekeeper/net"
	"github.com/dojopool/gatekeeper/pipeline"
	"github.com/dojopool/gatekeeper/ratelimit"
	"github.com/dojopool/gatekeeper/ratelimitbypass"
	"github.com/dojopool/gatekeeper/security/csrf"
	"github.com/dojopool/gatekeeper/security/headers"
	"github.com/dojopool/gatekeeper/security/input"
	"github.com/dojopool/gatekeeper/security/origin"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreValkey = "valkey"

	ClientAddrXForwardedFor     = "x-forwarded-for"
	ClientAddrXForwardedForLast = "x-forwarded-for-last"
	ClientAddrPeer              = "peer"
	ClientAddrTrustedProxy      = "trusted-proxy"

	defaultSweepInterval       = time.Minute
	defaultShutdownGracePeriod = 10 * time.Second
	storeAvailableTimeout      = 30 * time.Second
	corsMaxAge                 = 300
)

var ErrNoUpstream = errors.New("no upstream, set Options.Upstream or Options.Handler")

// Options to start the gatekeeper.
type Options struct {
	// Network address that the gatekeeper should listen on.
	Address string

	// URL of the application receiving the requests that pass.
	Upstream string

	// Handler receives the requests that pass instead of an
	// upstream proxy, used when the gatekeeper is embedded.
	Handler http.Handler

	// Network address of the /metrics endpoint, empty disables
	// the support listener.
	SupportListener string

	ReadTimeoutServer       time.Duration
	ReadHeaderTimeoutServer time.Duration
	WriteTimeoutServer      time.Duration
	IdleTimeoutServer       time.Duration
	MaxHeaderBytes          int

	// Time to finish in flight requests on shutdown.
	ShutdownGracePeriod time.Duration

	// Output file of the application log, stderr when empty.
	ApplicationLogOutput      string
	ApplicationLogLevel       log.Level
	ApplicationLogPrefix      string
	ApplicationLogJSONEnabled bool

	// Output file of the access log, stderr when empty.
	AccessLogOutput      string
	AccessLogDisabled    bool
	AccessLogJSONEnabled bool

	// Metrics overrides the backend selected by MetricsFlavours.
	Metrics                  metrics.Metrics
	MetricsFlavours          []string
	MetricsPrefix            string
	EnableRuntimeMetrics     bool
	MetricsUseExpDecaySample bool

	// Tracer of the remote store queries, defaults to the global
	// tracer.
	Tracer opentracing.Tracer

	// Policies of the rate limiter, a policy without prefix
	// replaces the default one.
	Policies []ratelimit.Policy

	// ActionPolicies limit semantic actions per user, see
	// Gatekeeper.ActionLimiter. Actions without own policy use the
	// default policy.
	ActionPolicies map[string]ratelimit.Policy

	// RatelimitStore is one of memory, redis or valkey. The CSRF
	// tokens are kept in the same kind of store.
	RatelimitStore string

	FailureMode ratelimit.FailureMode

	// ClientAddr selects how clients are identified: x-forwarded-for
	// (default), x-forwarded-for-last, peer or trusted-proxy.
	ClientAddr     string
	TrustedProxies []string

	DisableStoreBreaker bool
	StoreBreaker        ratelimit.BreakerSettings

	RedisAddrs        []string
	RedisPassword     string
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
	RedisPoolTimeout  time.Duration
	RedisMinConns     int
	RedisMaxConns     int

	ValkeyAddrs    []string
	ValkeyUsername string
	ValkeyPassword string

	PathPrefix     string
	Methods        []string
	ContentTypes   []string
	MaxBodySize    int64
	BlockedCIDRs   []string
	AllowedOrigins []string

	// EnableCORS answers CORS requests of the allowed origins.
	EnableCORS bool

	// InputRules are checked in addition to the default rules.
	InputRules []input.Rule

	CSRFTokenTTL  time.Duration
	CSRFTokenPath string
	SecureCookies bool

	SecurityHeaders headers.Options

	// Rate limit bypass is enabled with a secret or an allowlist.
	BypassSecret      string
	BypassTokenExpiry time.Duration
	BypassAllowlist   []string
}

// Gatekeeper holds the components built from Options.
type Gatekeeper struct {
	options  Options
	log      logging.Logger
	metrics  metrics.Metrics
	store    ratelimit.CounterStore
	blocks   *ratelimit.BlockList
	limiter  *ratelimit.Limiter
	actions  *ratelimit.ActionLimiter
	csrf     *csrf.Service
	pipeline *pipeline.Pipeline
	handler  http.Handler
	support  *http.ServeMux
	quit     chan struct{}
	closers  []func()
}

// ClientAddr identifies clients by address.
type ClientAddr struct {
	Lookuper ratelimit.Lookuper
	Addr     func(*http.Request) netip.Addr
}

// ParseClientAddr returns the client identification selected by mode.
func ParseClientAddr(mode string, trusted *netipx.IPSet) (ClientAddr, error) {
	switch mode {
	case ClientAddrXForwardedFor, "":
		return ClientAddr{ratelimit.XForwardedForLookuper{}, net.RemoteAddr}, nil
	case ClientAddrXForwardedForLast:
		return ClientAddr{ratelimit.XForwardedForLastLookuper{}, net.RemoteAddrFromLast}, nil
	case ClientAddrPeer:
		return ClientAddr{ratelimit.PeerLookuper{}, net.PeerAddr}, nil
	case ClientAddrTrustedProxy:
		return ClientAddr{
			Lookuper: ratelimit.TrustedProxyLookuper{Trusted: trusted},
			Addr: func(r *http.Request) netip.Addr {
				return net.TrustedRemoteAddr(r, trusted)
			},
		}, nil
	default:
		return ClientAddr{}, fmt.Errorf("invalid client address mode: %q (allowed values are: x-forwarded-for, x-forwarded-for-last, peer or trusted-proxy)", mode)
	}
}

// ParseUpstream parses an absolute http or https URL.
func ParseUpstream(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream: %q", s)
	}

	return u, nil
}

func initLog(o Options) error {
	var (
		logOutput       io.Writer
		accessLogOutput io.Writer
		err             error
	)

	if o.ApplicationLogOutput != "" {
		logOutput, err = os.OpenFile(o.ApplicationLogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
	}

	if !o.AccessLogDisabled && o.AccessLogOutput != "" {
		accessLogOutput, err = os.OpenFile(o.AccessLogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      logOutput,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		AccessLogOutput:           accessLogOutput,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})

	return nil
}

func (g *Gatekeeper) initMetrics() {
	if g.options.Metrics != nil {
		g.metrics = g.options.Metrics
		return
	}

	g.metrics = metrics.Init(metrics.Options{
		Format:               metrics.ParseMetricsKind(strings.Join(g.options.MetricsFlavours, ",")),
		Prefix:               g.options.MetricsPrefix,
		EnableRuntimeMetrics: g.options.EnableRuntimeMetrics,
		UseExpDecaySample:    g.options.MetricsUseExpDecaySample,
	})
}

// initStores creates the counter and the token store of the
// configured kind.
func (g *Gatekeeper) initStores() (csrf.TokenStore, error) {
	o := g.options
	tracer := o.Tracer
	if tracer == nil {
		tracer = opentracing.GlobalTracer()
	}

	var tokens csrf.TokenStore
	switch o.RatelimitStore {
	case StoreMemory, "":
		g.store = ratelimit.NewMemoryStore(ratelimit.MemoryStoreOptions{})
		tokens = csrf.NewMemoryTokenStore()
	case StoreRedis:
		client, err := net.NewRedisRingClient(&net.RedisOptions{
			Addrs:        o.RedisAddrs,
			Password:     o.RedisPassword,
			DialTimeout:  o.RedisDialTimeout,
			ReadTimeout:  o.RedisReadTimeout,
			WriteTimeout: o.RedisWriteTimeout,
			PoolTimeout:  o.RedisPoolTimeout,
			MinIdleConns: o.RedisMinConns,
			MaxIdleConns: o.RedisMaxConns,
			Metrics:      g.metrics,
			Tracer:       tracer,
			Log:          g.log,
		})
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeAvailableTimeout)
		defer cancel()
		if !client.RingAvailable(ctx) {
			g.log.Warn("Redis is not available, the rate limiter starts in failure mode")
		}

		client.StartMetricsCollection()
		g.store = ratelimit.NewRedisStore(client)
		tokens = csrf.NewRedisTokenStore(client)
	case StoreValkey:
		client, err := net.NewValkeyClient(&net.ValkeyOptions{
			Addrs:    o.ValkeyAddrs,
			Username: o.ValkeyUsername,
			Password: o.ValkeyPassword,
			Metrics:  g.metrics,
			Tracer:   tracer,
			Log:      g.log,
		})
		if err != nil {
			return nil, err
		}

		g.store = ratelimit.NewValkeyStore(client)
		tokens = csrf.NewValkeyTokenStore(client)
	default:
		return nil, fmt.Errorf("invalid ratelimit store: %q", o.RatelimitStore)
	}

	if !o.DisableStoreBreaker {
		s := o.StoreBreaker
		if s.Name == "" {
			s.Name = o.RatelimitStore
		}
		g.store = ratelimit.NewBreakerStore(g.store, s)
	}

	return tokens, nil
}

func (g *Gatekeeper) upstream() (http.Handler, error) {
	if g.options.Handler != nil {
		return g.options.Handler, nil
	}

	if g.options.Upstream == "" {
		return nil, ErrNoUpstream
	}

	u, err := ParseUpstream(g.options.Upstream)
	if err != nil {
		return nil, err
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.log.Errorf("Failed to forward request to %s: %v", u.Host, err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}

// New creates the gatekeeper components. The returned Gatekeeper needs
// to be closed.
func New(o Options) (*Gatekeeper, error) {
	g := &Gatekeeper{
		options: o,
		log:     &logging.DefaultLog{},
		quit:    make(chan struct{}),
	}

	next, err := g.upstream()
	if err != nil {
		return nil, err
	}

	g.initMetrics()

	trusted, err := net.ParseIPCIDRs(o.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	clientAddr, err := ParseClientAddr(o.ClientAddr, trusted)
	if err != nil {
		return nil, err
	}

	blocked, err := net.ParseIPCIDRs(o.BlockedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("invalid blocked addresses: %w", err)
	}

	originValidator, err := origin.New(o.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	registry, err := ratelimit.NewRegistry(ratelimit.DefaultPolicy(), o.Policies...)
	if err != nil {
		return nil, err
	}

	tokens, err := g.initStores()
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, g.store.Close, tokens.Close)

	g.actions, err = ratelimit.NewActionLimiter(g.store, registry.Global(), o.ActionPolicies)
	if err != nil {
		g.Close()
		return nil, err
	}

	g.blocks = ratelimit.NewBlockList(nil)
	g.limiter = ratelimit.NewLimiter(ratelimit.Options{
		Registry:    registry,
		Store:       g.store,
		Lookuper:    clientAddr.Lookuper,
		FailureMode: o.FailureMode,
		BlockList:   g.blocks,
		Metrics:     g.metrics,
		Log:         g.log,
	})

	g.csrf = csrf.New(csrf.Options{
		Store:    tokens,
		TokenTTL: o.CSRFTokenTTL,
		Metrics:  g.metrics,
		Log:      g.log,
	})

	var bypass pipeline.Bypasser
	if o.BypassSecret != "" || len(o.BypassAllowlist) > 0 {
		v, err := ratelimitbypass.NewValidator(ratelimitbypass.Config{
			SecretKey:   o.BypassSecret,
			TokenExpiry: o.BypassTokenExpiry,
			IPAllowlist: o.BypassAllowlist,
			Addr:        clientAddr.Addr,
		})
		if err != nil {
			g.Close()
			return nil, err
		}
		bypass = v
	}

	securityHeaders := headers.New(o.SecurityHeaders)
	g.pipeline = pipeline.New(pipeline.Options{
		Limiter:       g.limiter,
		Bypass:        bypass,
		Origin:        originValidator,
		CSRF:          g.csrf,
		Input:         input.New(o.InputRules...),
		Headers:       securityHeaders,
		BlockedAddrs:  blocked,
		Addr:          clientAddr.Addr,
		Methods:       o.Methods,
		ContentTypes:  o.ContentTypes,
		MaxBodySize:   o.MaxBodySize,
		PathPrefix:    o.PathPrefix,
		CSRFTokenPath: o.CSRFTokenPath,
		SecureCookies: o.SecureCookies,
		Metrics:       g.metrics,
		Log:           g.log,
	})

	h := g.pipeline.Handler(next)
	if o.EnableCORS {
		// preflights are answered by the cors handler
		h = securityHeaders.Handler(g.cors(originValidator).Handler(h))
	}
	g.handler = logging.NewHandler(h)

	g.support = http.NewServeMux()
	g.metrics.RegisterHandler("/metrics", g.support)

	go g.sweep(defaultSweepInterval)
	return g, nil
}

func (g *Gatekeeper) cors(v *origin.Validator) *cors.Cors {
	methods := g.options.Methods
	if len(methods) == 0 {
		methods = pipeline.DefaultMethods
	}

	return cors.New(cors.Options{
		AllowOriginFunc:  v.Allowed,
		AllowedMethods:   methods,
		AllowedHeaders:   []string{"Accept", "Content-Type", csrf.TokenHeader, csrf.SessionHeader, ratelimitbypass.DefaultBypassHeader},
		ExposedHeaders:   []string{ratelimit.LimitHeader, ratelimit.RemainingHeader, ratelimit.ResetHeader, ratelimit.RetryAfterHeader},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	})
}

// sweep drops expired blocks and CSRF tokens until Close is called.
func (g *Gatekeeper) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.quit:
			return
		case <-ticker.C:
			g.blocks.Sweep()
			if _, err := g.csrf.Sweep(context.Background()); err != nil {
				g.log.Errorf("Failed to sweep csrf tokens: %v", err)
			}
		}
	}
}

// Handler returns the gated handler, including the access log.
func (g *Gatekeeper) Handler() http.Handler { return g.handler }

// SupportHandler serves the metrics.
func (g *Gatekeeper) SupportHandler() http.Handler { return g.support }

func (g *Gatekeeper) Limiter() *ratelimit.Limiter { return g.limiter }

// ActionLimiter shares the counter store of the request rate limiter.
func (g *Gatekeeper) ActionLimiter() *ratelimit.ActionLimiter { return g.actions }

func (g *Gatekeeper) CSRF() *csrf.Service { return g.csrf }

// Close stops the background sweep and closes the stores.
func (g *Gatekeeper) Close() {
	select {
	case <-g.quit:
		return
	default:
		close(g.quit)
	}

	for _, c := range g.closers {
		c()
	}
}

func (g *Gatekeeper) server(addr string, h http.Handler) *http.Server {
	o := g.options
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       o.ReadTimeoutServer,
		ReadHeaderTimeout: o.ReadHeaderTimeoutServer,
		WriteTimeout:      o.WriteTimeoutServer,
		IdleTimeout:       o.IdleTimeoutServer,
		MaxHeaderBytes:    o.MaxHeaderBytes,
	}
}

func listenAndServe(srv *http.Server) error {
	log.Infof("Listen on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunWithShutdown serves until a signal is received on sig or a
// listener fails.
func RunWithShutdown(o Options, sig <-chan os.Signal) error {
	g, err := New(o)
	if err != nil {
		return err
	}
	defer g.Close()

	servers := []*http.Server{g.server(o.Address, g.Handler())}
	if o.SupportListener != "" {
		servers = append(servers, g.server(o.SupportListener, g.SupportHandler()))
	}

	grace := o.ShutdownGracePeriod
	if grace <= 0 {
		grace = defaultShutdownGracePeriod
	}

	eg, ctx := errgroup.WithContext(context.Background())
	for _, srv := range servers {
		eg.Go(func() error { return listenAndServe(srv) })
	}

	eg.Go(func() error {
		select {
		case s := <-sig:
			log.Infof("Got shutdown signal %v, wait %s for in flight requests", s, grace)
		case <-ctx.Done():
		}

		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return eg.Wait()
}

// Run initializes the logging and serves until SIGTERM or SIGINT.
func Run(o Options) error {
	if err := initLog(o); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sig)

	return RunWithShutdown(o, sig)
}
