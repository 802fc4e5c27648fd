package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-redis/redis/v8"

	"github.com/bobbiedigital/bobbiedigital-web/internal/cfg"
	"github.com/bobbiedigital/bobbiedigital-web/internal/content"
	"github.com/bobbiedigital/bobbiedigital-web/internal/cryptoutil"
	"github.com/bobbiedigital/bobbiedigital-web/internal/health"
	"github.com/bobbiedigital/bobbiedigital-web/internal/httpmw"
	"github.com/bobbiedigital/bobbiedigital-web/internal/opshttp"
	"github.com/bobbiedigital/bobbiedigital-web/internal/ratelimit"
	"github.com/bobbiedigital/bobbiedigital-web/internal/siteapi"
	"github.com/bobbiedigital/bobbiedigital-web/internal/sitehandler"
	"github.com/bobbiedigital/bobbiedigital-web/internal/webassets"

	"github.com/bobbiedigital/bobbiedigital-web/internal/httpserver"
	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
	"github.com/bobbiedigital/bobbiedigital-web/internal/metrics"
	"github.com/bobbiedigital/bobbiedigital-web/internal/otelx"
	"github.com/bobbiedigital/bobbiedigital-web/internal/prof"
	v "github.com/bobbiedigital/bobbiedigital-web/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// flags win over BDWEB_* env vars, then the legacy PORT/NODE_ENV style
	// names, then defaults
	envLog := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, envLog)
	cfg.FillFromLegacyEnv(flag.CommandLine, cfg.EnvPrefix, envLog)

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Env:               conf.Env,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"env", conf.Env,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"rate_limit_window", conf.RateLimitWindow.String(),
		"rate_limit_max", conf.RateLimitMax,
		"rate_limit_store", conf.RateLimitStore,
		"static_dir", conf.StaticDir,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_content_updates", conf.EnableContentUpdates,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"env":       conf.Env,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Env:       conf.Env,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	// content: S3 bundle, then local build output, then the embedded seed
	contentMgr := content.NewManager()
	var contentLoader *content.Loader
	if conf.EnableContentUpdates {
		contentLoader = newContentLoader(ctx, L, conf)
		if contentLoader != nil {
			if err := contentLoader.LoadIntoManager(ctx, contentMgr); err != nil {
				L.Error(ctx, err, "failed to load content bundle, falling back to local content")
			} else {
				L.Info(ctx, "loaded content bundle from S3", "content_hash", contentMgr.ContentHash())
			}
		}
	}
	if _, ok := contentMgr.Get(); !ok {
		loadLocalContent(ctx, L, conf.StaticDir, contentMgr)
	}
	if snap, ok := contentMgr.Get(); ok {
		m.SetContent(string(snap.Meta.Source), snap.Meta.SHA256, snap.LoadedAt)
	} else {
		L.Warn(ctx, "no site content available, serving maintenance page")
	}

	if contentLoader != nil {
		watcher := content.NewWatcher(content.WatcherOptions{
			Logger:       L,
			Loader:       contentLoader,
			Manager:      contentMgr,
			PollInterval: conf.ContentPollInterval,
			Metrics:      m,
			OnSwap: func(snap *content.Snapshot) {
				m.SetContent(string(snap.Meta.Source), snap.Meta.SHA256, snap.LoadedAt)
			},
		})
		go func() { _ = watcher.Run(ctx) }()
	}

	siteHandler, err := sitehandler.New(&sitehandler.Options{
		Logger:     L,
		Content:    contentMgr,
		FallbackFS: webassets.FallbackFS(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	api := siteapi.NewAPI(
		siteapi.NewContactInfo(conf.ContactEmail, conf.ContactPhone, conf.BodigiURL, conf.W2BURL),
		contentMgr,
		L,
	)

	var gate health.ShutdownGate
	probes := []health.Probe{
		gate.Probe(),
		health.CheckFunc(func(context.Context) error { return contentMgr.ReadyErr() }),
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if conf.RateLimitStore == cfg.StoreRedis {
		rs := ratelimit.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		}), "")
		defer func() { _ = rs.Close() }()
		if err := rs.Ping(ctx); err != nil {
			// the limiter fails open, so a late redis is not fatal
			L.Warn(ctx, "redis not reachable at startup", "redis_addr", conf.RedisAddr, "error", err)
		}
		probes = append(probes, health.WithTimeout("redis", 2*time.Second, health.CheckFunc(rs.Ping)))
		store = rs
	}
	readiness := health.All(probes...)

	limiter := ratelimit.New(store,
		ratelimit.WithWindow(conf.RateLimitWindow),
		ratelimit.WithMax(conf.RateLimitMax),
		ratelimit.WithLogger(L),
		// probes and health checks are never throttled
		ratelimit.WithSkip(ratelimit.SkipPaths("/health")),
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
		// log once per client per window, count every denial
		ratelimit.WithOnFirstDenied(func(ip string, rec ratelimit.Record) {
			m.IncRateLimitThrottled()
			L.Warn(ctx, "rate limit triggered", "ip", ip, "reset_at", rec.ResetAt)
		}),
		ratelimit.WithOnStoreError(func(error) {
			m.IncRateLimitStoreError()
		}),
		ratelimit.WithOnSweep(m.AddRateLimitSwept),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:         L,
		Port:           conf.HTTPPort,
		Production:     conf.IsProduction(),
		AllowedOrigins: conf.Origins(),
		ClientIPOpts:   httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes:   conf.MaxBodyBytes,
		UseRecoverMW:   true,
		OnPanic:        m.IncHttpPanic,
		MetricsMW:      m.Middleware,
		RateLimitMW:    limiter.Middleware,
		APIRoutes:      api.RegisterRoutes,
		SiteHandler:    siteHandler,
		ContentInfo:    contentMgr,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}

	// admin listener: metrics, liveness/readiness and optional pprof.
	// it must never be exposed through the load balancer.
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	L.Info(ctx, "server started",
		"url", fmt.Sprintf("http://localhost:%d", conf.HTTPPort),
		"content_source", contentMgr.ContentSource(),
	)

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness first so the load balancer stops routing to us
	gate.Set("draining")
	if conf.DrainDelay > 0 {
		L.Info(bg, "draining before closing listeners", "drain_delay", conf.DrainDelay.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.DrainDelay):
		case <-forceCh:
			L.Warn(bg, "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	exitCode := 0
	if err := siteHTTPStop(bg); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			L.Error(bg, err, "forced shutdown, in-flight requests did not finish in time")
		} else {
			L.Error(bg, err, "site http server shutdown")
		}
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(bg, httpserver.DefaultShutdownTimeout)
	defer cancel()
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete", "exit_code", exitCode)
	_ = lg.Sync()
	os.Exit(exitCode)
}

// newContentLoader returns nil when the loader cannot be built; the site
// then runs on local content without hot updates.
func newContentLoader(ctx context.Context, L log.Logger, conf cfg.App) *content.Loader {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config, content updates disabled")
		return nil
	}

	var verifier content.SignatureVerifier
	if conf.ContentSigningKeyARN != "" {
		verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.ContentSigningKeyARN)
	}

	loader, err := content.NewLoader(ctx, content.LoaderOptions{
		Logger:    L,
		SSMParam:  conf.ContentSSMParam,
		S3Bucket:  conf.ContentS3Bucket,
		S3Prefix:  conf.ContentS3Prefix,
		Verifier:  verifier,
		AWSConfig: &awsCfg,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create content loader, content updates disabled")
		return nil
	}
	return loader
}

// loadLocalContent prefers the build output directory and falls back to the
// seed site compiled into the binary.
func loadLocalContent(ctx context.Context, L log.Logger, dir string, mgr *content.Manager) {
	snap, err := content.LoadDir(dir)
	if err == nil {
		mgr.Set(*snap)
		L.Info(ctx, "serving site from static dir", "static_dir", dir)
		return
	}
	L.Warn(ctx, "static dir unusable, trying embedded seed site", "static_dir", dir, "error", err)

	seedFS, ok := webassets.SeedSiteFS()
	if !ok {
		return
	}
	snap, err = content.LoadFS(seedFS, content.SourceSeed)
	if err != nil {
		L.Error(ctx, err, "embedded seed site is invalid")
		return
	}
	mgr.Set(*snap)
	L.Info(ctx, "serving embedded seed site")
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return conn.Close()
}
