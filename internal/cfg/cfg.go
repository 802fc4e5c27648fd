package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names by FillFromEnv.
const EnvPrefix = "BDWEB_"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// DefaultAllowedOrigins are the public origins of the brand's sites.
var DefaultAllowedOrigins = []string{
	"https://bobbiedigital.com",
	"https://www.bobbiedigital.com",
	"http://bobbiedigital.com",
	"http://www.bobbiedigital.com",
	"https://www.bodigi.site",
	"http://www.bodigi.site",
	"https://www.w2b.base44.app",
	"http://www.w2b.base44.app",
}

type App struct {
	Env string

	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort     int
	AdminPort    int
	TrustedHops  int
	MaxBodyBytes int64
	DrainDelay   time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64

	AllowedOrigins string

	RateLimitWindow time.Duration
	RateLimitMax    int
	RateLimitStore  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	ContactEmail string
	ContactPhone string
	BodigiURL    string
	W2BURL       string

	StaticDir            string
	EnableContentUpdates bool
	ContentSSMParam      string
	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSigningKeyARN string
	ContentPollInterval  time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.Env, "env", EnvDevelopment, "development|production")

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 3000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted proxies in front of the server (0 uses the socket peer)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 10<<10, "maximum request body size in bytes")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 0, "time to fail readiness before stopping listeners on shutdown")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the OTLP endpoint (local collector)")

	fs.StringVar(&c.AllowedOrigins, "allowed-origins", strings.Join(DefaultAllowedOrigins, ","), "comma separated CORS origins honored in production")

	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", 15*time.Minute, "rate limit window length")
	fs.IntVar(&c.RateLimitMax, "rate-limit-max", 100, "requests allowed per client per window")
	fs.StringVar(&c.RateLimitStore, "rate-limit-store", StoreMemory, "memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "127.0.0.1:6379", "redis address (host:port) for -rate-limit-store=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")

	fs.StringVar(&c.ContactEmail, "contact-email", "support@bodigi-digital.com", "contact email returned by /api/contact")
	fs.StringVar(&c.ContactPhone, "contact-phone", "(937)303-1858", "contact phone returned by /api/contact")
	fs.StringVar(&c.BodigiURL, "bodigi-url", "http://www.bodigi.site", "BoDiGi app url")
	fs.StringVar(&c.W2BURL, "w2b-url", "http://www.w2b.base44.app", "Where_2_Begin app url")

	fs.StringVar(&c.StaticDir, "static-dir", "dist/public", "local build output served when no bundle is loaded")
	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", false, "Enable loading and refreshing content bundles from S3/SSM")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "/app/bobbiedigital-web/content/release/id", "ssm parameter name to get content bundle hash from")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "s3 bucket name to get content bundle from")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "apps/bobbiedigital-web/content/bundles", "s3 prefix (key) to get content bundle from")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for content bundle signature verification (optional)")
	fs.DurationVar(&c.ContentPollInterval, "content-poll-interval", 30*time.Second, "how often to check SSM for a new bundle")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// LegacyEnv maps the environment variable names of the previous Node
// deployment to flags. Convert, when set, turns the legacy value into the
// flag's syntax.
type LegacyEnv struct {
	Name    string
	Flag    string
	Convert func(string) (string, error)
}

// LegacyEnvAliases are honored so existing deployment manifests keep working.
var LegacyEnvAliases = []LegacyEnv{
	{Name: "PORT", Flag: "http-port"},
	{Name: "NODE_ENV", Flag: "env"},
	{Name: "ALLOWED_ORIGINS", Flag: "allowed-origins"},
	{Name: "RATE_LIMIT_WINDOW_MS", Flag: "rate-limit-window", Convert: millisToDuration},
	{Name: "RATE_LIMIT_MAX_REQUESTS", Flag: "rate-limit-max"},
	{Name: "CONTACT_EMAIL", Flag: "contact-email"},
}

func millisToDuration(v string) (string, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return "", err
	}
	return (time.Duration(ms) * time.Millisecond).String(), nil
}

// FillFromLegacyEnv applies LegacyEnvAliases. A legacy name is used only
// when the flag was not passed on the CLI and its PREFIX_ variable is unset.
// Precedence: cli flag > prefixed env var > legacy env var > default.
func FillFromLegacyEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for _, a := range LegacyEnvAliases {
		val, ok := os.LookupEnv(a.Name)
		if !ok || explicit[a.Flag] || fs.Lookup(a.Flag) == nil {
			continue
		}
		key := prefix + strings.ReplaceAll(strings.ToUpper(a.Flag), "-", "_")
		if _, set := os.LookupEnv(key); set {
			if logf != nil {
				logf("env %s overrides legacy %s", key, a.Name)
			}
			continue
		}
		if a.Convert != nil {
			conv, err := a.Convert(val)
			if err != nil {
				if logf != nil {
					logf("flag -%s: ignoring invalid legacy env %s=%q: %v", a.Flag, a.Name, val, err)
				}
				continue
			}
			val = conv
		}
		prev := fs.Lookup(a.Flag).Value.String()
		if err := fs.Set(a.Flag, val); err != nil {
			_ = fs.Set(a.Flag, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid legacy env %s=%q: %v", a.Flag, a.Name, val, err)
			}
		}
	}
}

// Origins splits AllowedOrigins, trimming blanks and trailing slashes. An
// empty setting yields the defaults.
func (c App) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultAllowedOrigins...)
	}
	return out
}

func (c App) IsProduction() bool { return c.Env == EnvProduction }

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("invalid ENV %q (must be %s|%s)", c.Env, EnvDevelopment, EnvProduction))
	}

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be >= 0)", c.TrustedHops))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be > 0)", c.MaxBodyBytes))
	}
	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_DELAY %s (must be >= 0)", c.DrainDelay))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	for _, o := range c.Origins() {
		if u, err := url.Parse(o); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("ALLOWED_ORIGINS entry %q must be scheme://host[:port]", o))
		}
	}

	// Rate limiting
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_WINDOW %s (must be > 0)", c.RateLimitWindow))
	}
	if c.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_MAX %d (must be >= 1)", c.RateLimitMax))
	}
	switch c.RateLimitStore {
	case StoreMemory:
	case StoreRedis:
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 {
			errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be >= 0)", c.RedisDB))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_STORE %q (must be %s|%s)", c.RateLimitStore, StoreMemory, StoreRedis))
	}

	if c.EnableContentUpdates {
		if c.ContentSSMParam == "" {
			errs = append(errs, fmt.Errorf("CONTENT_SSM_PARAM is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentS3Bucket == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_BUCKET is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentS3Prefix == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_PREFIX is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentPollInterval < time.Second {
			errs = append(errs, fmt.Errorf("CONTENT_POLL_INTERVAL must be at least 1s (got %s)", c.ContentPollInterval))
		}
	}

	return errors.Join(errs...)
}
