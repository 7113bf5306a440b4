package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/dojopool/gatekeeper"
	"github.com/dojopool/gatekeeper/net"
	"github.com/dojopool/gatekeeper/pipeline"
	"github.com/dojopool/gatekeeper/ratelimit"
	"github.com/dojopool/gatekeeper/security/csrf"
	"github.com/dojopool/gatekeeper/security/headers"
	"github.com/dojopool/gatekeeper/security/origin"
)

type Config struct {
	ConfigFile string        `yaml:"-"`
	Flags      *flag.FlagSet `yaml:"-"`

	// generic:
	Address         string `yaml:"address"`
	Upstream        string `yaml:"upstream"`
	SupportListener string `yaml:"support-listener"`
	PrintVersion    bool   `yaml:"version"`

	// logging, metrics:
	ApplicationLog            string    `yaml:"application-log"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLog                 string    `yaml:"access-log"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`
	MetricsFlavour            *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix             string    `yaml:"metrics-prefix"`
	RuntimeMetrics            bool      `yaml:"runtime-metrics"`
	MetricsUseExpDecaySample  bool      `yaml:"metrics-exp-decay-sample"`

	// server:
	ReadTimeoutServer       time.Duration `yaml:"read-timeout-server"`
	ReadHeaderTimeoutServer time.Duration `yaml:"read-header-timeout-server"`
	WriteTimeoutServer      time.Duration `yaml:"write-timeout-server"`
	IdleTimeoutServer       time.Duration `yaml:"idle-timeout-server"`
	MaxHeaderBytes          int           `yaml:"max-header-bytes"`
	ShutdownGracePeriod     time.Duration `yaml:"shutdown-grace-period"`

	// rate limiting:
	Policies               policyFlags           `yaml:"policies"`
	DisableDefaultPolicies bool                  `yaml:"disable-default-policies"`
	RatelimitStore         string                `yaml:"ratelimit-store"`
	RatelimitFailureMode   ratelimit.FailureMode `yaml:"ratelimit-failure-mode"`
	ClientAddr             string                `yaml:"client-addr"`
	TrustedProxies         *listFlag             `yaml:"trusted-proxies"`
	DisableStoreBreaker    bool                  `yaml:"disable-store-breaker"`
	StoreBreakerFailures   int                   `yaml:"store-breaker-failures"`
	StoreBreakerTimeout    time.Duration         `yaml:"store-breaker-timeout"`
	StoreBreakerHalfOpen   int                   `yaml:"store-breaker-half-open-requests"`

	// redis, valkey:
	RedisURLs         *listFlag     `yaml:"redis-urls"`
	RedisPassword     string        `yaml:"redis-password"`
	RedisDialTimeout  time.Duration `yaml:"redis-dial-timeout"`
	RedisReadTimeout  time.Duration `yaml:"redis-read-timeout"`
	RedisWriteTimeout time.Duration `yaml:"redis-write-timeout"`
	RedisPoolTimeout  time.Duration `yaml:"redis-pool-timeout"`
	RedisMinConns     int           `yaml:"redis-min-conns"`
	RedisMaxConns     int           `yaml:"redis-max-conns"`
	ValkeyURLs        *listFlag     `yaml:"valkey-urls"`
	ValkeyUsername    string        `yaml:"valkey-username"`
	ValkeyPassword    string        `yaml:"valkey-password"`

	// request checks:
	PathPrefix     string    `yaml:"path-prefix"`
	Methods        *listFlag `yaml:"methods"`
	ContentTypes   *listFlag `yaml:"content-types"`
	MaxBodySize    int64     `yaml:"max-body-size"`
	BlockedCIDRs   *listFlag `yaml:"blocked-cidrs"`
	AllowedOrigins *listFlag `yaml:"allowed-origins"`
	EnableCORS     bool      `yaml:"enable-cors"`
	InputRules     ruleFlags `yaml:"input-rules"`

	// csrf:
	CSRFTokenTTL  time.Duration `yaml:"csrf-token-ttl"`
	CSRFTokenPath string        `yaml:"csrf-token-path"`
	SecureCookies bool          `yaml:"secure-cookies"`

	// security headers:
	CSP                   headers.CSPSources `yaml:"csp-sources"`
	HSTSMaxAge            time.Duration      `yaml:"hsts-max-age"`
	HSTSIncludeSubdomains bool               `yaml:"hsts-include-subdomains"`
	HSTSPreload           bool               `yaml:"hsts-preload"`
	ReferrerPolicy        string             `yaml:"referrer-policy"`
	DisabledFeatures      *listFlag          `yaml:"disabled-features"`
	CustomHeaders         *mapFlags          `yaml:"custom-headers"`

	// bypass:
	BypassSecret      string        `yaml:"bypass-secret"`
	BypassTokenExpiry time.Duration `yaml:"bypass-token-expiry"`
	BypassAllowlist   *listFlag     `yaml:"bypass-allowlist"`
}

const (
	defaultAddress              = ":9090"
	defaultSupportListener      = ":9911"
	defaultMetricsPrefix        = "gatekeeper."
	defaultApplicationLogPrefix = "[APP]"
	defaultApplicationLogLevel  = "INFO"
	defaultShutdownGracePeriod  = 10 * time.Second

	// environment keys:
	configFileEnv     = "GATEKEEPER_CONFIG"
	redisPasswordEnv  = "GATEKEEPER_REDIS_PASSWORD"
	valkeyPasswordEnv = "GATEKEEPER_VALKEY_PASSWORD"
	bypassSecretEnv   = "GATEKEEPER_BYPASS_SECRET"
)

var errInvalidInputRule = errors.New("invalid input rule, expected format name=expression")

func NewConfig() *Config {
	cfg := new(Config)
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus")
	cfg.TrustedProxies = commaListFlag()
	cfg.RedisURLs = commaListFlag()
	cfg.ValkeyURLs = commaListFlag()
	cfg.Methods = commaListFlag()
	cfg.ContentTypes = commaListFlag()
	cfg.BlockedCIDRs = commaListFlag()
	cfg.AllowedOrigins = commaListFlag()
	cfg.DisabledFeatures = commaListFlag()
	cfg.CustomHeaders = newMapFlags()
	cfg.BypassAllowlist = commaListFlag()

	flag := flag.NewFlagSet("", flag.ExitOnError)

	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml), defaults to the "+configFileEnv+" environment variable")

	// generic:
	flag.StringVar(&cfg.Address, "address", defaultAddress, "network address that gatekeeper should listen on")
	flag.StringVar(&cfg.Upstream, "upstream", "", "URL of the application that receives the requests passing the gatekeeper")
	flag.StringVar(&cfg.SupportListener, "support-listener", defaultSupportListener, "network address used for exposing the /metrics endpoint. An empty value disables support endpoint.")
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print gatekeeper version")

	// logging, metrics:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", defaultApplicationLogLevel, "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.AccessLog, "access-log", "", "output file for the access log, When not set, /dev/stderr is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale' and 'prometheus', you can select both of them")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", defaultMetricsPrefix, "allows setting a custom path prefix for metrics export")
	flag.BoolVar(&cfg.RuntimeMetrics, "runtime-metrics", true, "enables reporting the Go runtime statistics exposed in the runtime package")
	flag.BoolVar(&cfg.MetricsUseExpDecaySample, "metrics-exp-decay-sample", false, "use exponentially decaying sample in timers")

	// server:
	flag.DurationVar(&cfg.ReadTimeoutServer, "read-timeout-server", 5*time.Minute, "set ReadTimeout for http server connections")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", 60*time.Second, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.WriteTimeoutServer, "write-timeout-server", 60*time.Second, "set WriteTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", 60*time.Second, "set IdleTimeout for http server connections")
	flag.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", 1<<20, "set MaxHeaderBytes for http server connections")
	flag.DurationVar(&cfg.ShutdownGracePeriod, "shutdown-grace-period", defaultShutdownGracePeriod, "time to finish in flight requests after receiving a termination signal")

	// rate limiting:
	flag.Var(&cfg.Policies, "policy", policyUsage)
	flag.BoolVar(&cfg.DisableDefaultPolicies, "disable-default-policies", false, "do not install the built-in per route policies")
	flag.StringVar(&cfg.RatelimitStore, "ratelimit-store", gatekeeper.StoreMemory, "counter store of the rate limiter: memory, redis or valkey")
	flag.Var(&cfg.RatelimitFailureMode, "ratelimit-failure-mode", "decision when the counter store fails: open allows the request, closed rejects it")
	flag.StringVar(&cfg.ClientAddr, "client-addr", gatekeeper.ClientAddrXForwardedFor, "how the client address is resolved: x-forwarded-for, x-forwarded-for-last, peer or trusted-proxy")
	flag.Var(cfg.TrustedProxies, "trusted-proxies", "CIDRs of the proxies whose X-Forwarded-For header is honored with -client-addr=trusted-proxy")
	flag.BoolVar(&cfg.DisableStoreBreaker, "disable-store-breaker", false, "do not wrap the counter store with a circuit breaker")
	flag.IntVar(&cfg.StoreBreakerFailures, "store-breaker-failures", ratelimit.DefaultBreakerFailures, "consecutive store failures that open the breaker")
	flag.DurationVar(&cfg.StoreBreakerTimeout, "store-breaker-timeout", ratelimit.DefaultBreakerTimeout, "time the store breaker stays open")
	flag.IntVar(&cfg.StoreBreakerHalfOpen, "store-breaker-half-open-requests", ratelimit.DefaultBreakerHalfOpenRequests, "probing requests allowed while the store breaker is half open")

	// redis, valkey:
	flag.Var(cfg.RedisURLs, "redis-urls", "Redis URLs as comma separated list, used by the redis counter and token stores")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password, defaults to the "+redisPasswordEnv+" environment variable")
	flag.DurationVar(&cfg.RedisDialTimeout, "redis-dial-timeout", net.DefaultDialTimeout, "Redis dial timeout")
	flag.DurationVar(&cfg.RedisReadTimeout, "redis-read-timeout", net.DefaultReadTimeout, "Redis socket read timeout")
	flag.DurationVar(&cfg.RedisWriteTimeout, "redis-write-timeout", net.DefaultWriteTimeout, "Redis socket write timeout")
	flag.DurationVar(&cfg.RedisPoolTimeout, "redis-pool-timeout", net.DefaultPoolTimeout, "Redis get connection from pool timeout")
	flag.IntVar(&cfg.RedisMinConns, "redis-min-conns", net.DefaultMinConns, "Redis minimum number of idle connections")
	flag.IntVar(&cfg.RedisMaxConns, "redis-max-conns", net.DefaultMaxConns, "Redis maximum number of idle connections")
	flag.Var(cfg.ValkeyURLs, "valkey-urls", "Valkey URLs as comma separated list, used by the valkey counter and token stores")
	flag.StringVar(&cfg.ValkeyUsername, "valkey-username", "", "Valkey username")
	flag.StringVar(&cfg.ValkeyPassword, "valkey-password", "", "Valkey password, defaults to the "+valkeyPasswordEnv+" environment variable")

	// request checks:
	flag.StringVar(&cfg.PathPrefix, "path-prefix", pipeline.DefaultPathPrefix, "requests below this path prefix are gated, others only get the security headers")
	flag.Var(cfg.Methods, "methods", "allowed request methods, defaults to GET, HEAD, OPTIONS, POST, PUT, PATCH and DELETE")
	flag.Var(cfg.ContentTypes, "content-types", "allowed media types of request bodies, defaults to JSON, form and multipart")
	flag.Int64Var(&cfg.MaxBodySize, "max-body-size", pipeline.DefaultMaxBodySize, "maximum request body size in bytes")
	flag.Var(cfg.BlockedCIDRs, "blocked-cidrs", "client addresses or CIDRs that are always rejected")
	flag.Var(cfg.AllowedOrigins, "allowed-origins", "allowed request origins: https://host, host or *.domain")
	flag.BoolVar(&cfg.EnableCORS, "enable-cors", false, "answer CORS requests for the allowed origins")
	flag.Var(&cfg.InputRules, "input-rule", inputRuleUsage)

	// csrf:
	flag.DurationVar(&cfg.CSRFTokenTTL, "csrf-token-ttl", csrf.DefaultTokenTTL, "lifetime of issued CSRF tokens")
	flag.StringVar(&cfg.CSRFTokenPath, "csrf-token-path", pipeline.DefaultCSRFTokenPath, "path of the CSRF token endpoint")
	flag.BoolVar(&cfg.SecureCookies, "secure-cookies", true, "set the Secure attribute on the session and CSRF cookies")

	// security headers:
	flag.Var(newYamlFlag(&cfg.CSP), "csp-sources", "additional Content-Security-Policy sources in YAML, e.g. {script-src: [https://cdn.example.org]}")
	flag.DurationVar(&cfg.HSTSMaxAge, "hsts-max-age", 365*24*time.Hour, "max-age of the Strict-Transport-Security header")
	flag.BoolVar(&cfg.HSTSIncludeSubdomains, "hsts-include-subdomains", true, "add includeSubDomains to the Strict-Transport-Security header")
	flag.BoolVar(&cfg.HSTSPreload, "hsts-preload", false, "add preload to the Strict-Transport-Security header")
	flag.StringVar(&cfg.ReferrerPolicy, "referrer-policy", "", "value of the Referrer-Policy header, defaults to strict-origin-when-cross-origin")
	flag.Var(cfg.DisabledFeatures, "disabled-features", "browser features disabled by the Permissions-Policy header, defaults to camera, microphone and geolocation")
	flag.Var(cfg.CustomHeaders, "custom-headers", "additional response headers as comma separated Name=value pairs")

	// bypass:
	flag.StringVar(&cfg.BypassSecret, "bypass-secret", "", "HS256 secret of rate limit bypass tokens, defaults to the "+bypassSecretEnv+" environment variable. Bypass is disabled without secret and allowlist")
	flag.DurationVar(&cfg.BypassTokenExpiry, "bypass-token-expiry", time.Hour, "lifetime of generated bypass tokens")
	flag.Var(cfg.BypassAllowlist, "bypass-allowlist", "client addresses or CIDRs exempt from rate limiting")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	switch c.RatelimitStore {
	case gatekeeper.StoreMemory:
	case gatekeeper.StoreRedis:
		if len(c.RedisURLs.Values()) == 0 {
			return errors.New("redis store requires redis-urls")
		}
	case gatekeeper.StoreValkey:
		if len(c.ValkeyURLs.Values()) == 0 {
			return errors.New("valkey store requires valkey-urls")
		}
	default:
		return fmt.Errorf("invalid ratelimit store: %q (allowed values are: memory, redis or valkey)", c.RatelimitStore)
	}

	if _, err := gatekeeper.ParseClientAddr(c.ClientAddr, nil); err != nil {
		return err
	}

	for _, p := range c.Policies {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	for name, l := range map[string]*listFlag{
		"trusted-proxies":  c.TrustedProxies,
		"blocked-cidrs":    c.BlockedCIDRs,
		"bypass-allowlist": c.BypassAllowlist,
	} {
		if _, err := net.ParseIPCIDRs(l.Values()); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if _, err := origin.New(c.AllowedOrigins.Values()); err != nil {
		return err
	}

	if c.MaxBodySize <= 0 {
		return fmt.Errorf("invalid max-body-size: %d", c.MaxBodySize)
	}

	if !strings.HasPrefix(c.PathPrefix, "/") {
		return fmt.Errorf("invalid path-prefix: %q", c.PathPrefix)
	}

	if c.Upstream != "" {
		if _, err := gatekeeper.ParseUpstream(c.Upstream); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile == "" {
		c.ConfigFile = os.Getenv(configFileEnv)
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		// policies given on the command line are applied again below
		c.Policies = nil
		c.InputRules = nil

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)

	c.parseEnv()
	return nil
}

func (c *Config) parseEnv() {
	// secrets from the environment, unless set earlier on the command line or in the config file
	if c.RedisPassword == "" {
		c.RedisPassword = os.Getenv(redisPasswordEnv)
	}
	if c.ValkeyPassword == "" {
		c.ValkeyPassword = os.Getenv(valkeyPasswordEnv)
	}
	if c.BypassSecret == "" {
		c.BypassSecret = os.Getenv(bypassSecretEnv)
	}
}

// ToOptions converts the parsed config to the options of
// gatekeeper.Run.
func (c *Config) ToOptions() gatekeeper.Options {
	policies := []ratelimit.Policy(c.Policies)
	if !c.DisableDefaultPolicies {
		policies = append(ratelimit.DefaultPolicies(), policies...)
	}

	return gatekeeper.Options{
		Address:                 c.Address,
		Upstream:                c.Upstream,
		SupportListener:         c.SupportListener,
		ReadTimeoutServer:       c.ReadTimeoutServer,
		ReadHeaderTimeoutServer: c.ReadHeaderTimeoutServer,
		WriteTimeoutServer:      c.WriteTimeoutServer,
		IdleTimeoutServer:       c.IdleTimeoutServer,
		MaxHeaderBytes:          c.MaxHeaderBytes,
		ShutdownGracePeriod:     c.ShutdownGracePeriod,

		ApplicationLogOutput:      c.ApplicationLog,
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogOutput:           c.AccessLog,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,
		MetricsFlavours:           c.MetricsFlavour.Values(),
		MetricsPrefix:             c.MetricsPrefix,
		EnableRuntimeMetrics:      c.RuntimeMetrics,
		MetricsUseExpDecaySample:  c.MetricsUseExpDecaySample,

		Policies:            policies,
		RatelimitStore:      c.RatelimitStore,
		FailureMode:         c.RatelimitFailureMode,
		ClientAddr:          c.ClientAddr,
		TrustedProxies:      c.TrustedProxies.Values(),
		DisableStoreBreaker: c.DisableStoreBreaker,
		StoreBreaker: ratelimit.BreakerSettings{
			Name:             c.RatelimitStore,
			Failures:         c.StoreBreakerFailures,
			Timeout:          c.StoreBreakerTimeout,
			HalfOpenRequests: c.StoreBreakerHalfOpen,
		},

		RedisAddrs:        c.RedisURLs.Values(),
		RedisPassword:     c.RedisPassword,
		RedisDialTimeout:  c.RedisDialTimeout,
		RedisReadTimeout:  c.RedisReadTimeout,
		RedisWriteTimeout: c.RedisWriteTimeout,
		RedisPoolTimeout:  c.RedisPoolTimeout,
		RedisMinConns:     c.RedisMinConns,
		RedisMaxConns:     c.RedisMaxConns,
		ValkeyAddrs:       c.ValkeyURLs.Values(),
		ValkeyUsername:    c.ValkeyUsername,
		ValkeyPassword:    c.ValkeyPassword,

		PathPrefix:     c.PathPrefix,
		Methods:        c.Methods.Values(),
		ContentTypes:   c.ContentTypes.Values(),
		MaxBodySize:    c.MaxBodySize,
		BlockedCIDRs:   c.BlockedCIDRs.Values(),
		AllowedOrigins: c.AllowedOrigins.Values(),
		EnableCORS:     c.EnableCORS,
		InputRules:     c.InputRules,

		CSRFTokenTTL:  c.CSRFTokenTTL,
		CSRFTokenPath: c.CSRFTokenPath,
		SecureCookies: c.SecureCookies,

		SecurityHeaders: headers.Options{
			CSP: c.CSP,
			HSTS: headers.HSTS{
				MaxAge:            c.HSTSMaxAge,
				IncludeSubdomains: c.HSTSIncludeSubdomains,
				Preload:           c.HSTSPreload,
			},
			ReferrerPolicy:   c.ReferrerPolicy,
			DisabledFeatures: c.DisabledFeatures.Values(),
			Custom:           c.CustomHeaders.Values(),
		},

		BypassSecret:      c.BypassSecret,
		BypassTokenExpiry: c.BypassTokenExpiry,
		BypassAllowlist:   c.BypassAllowlist.Values(),
	}
}
