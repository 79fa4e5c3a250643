package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/viant/afs"

	"admission-sidecar/internal/config"
	"admission-sidecar/internal/logging"
	"admission-sidecar/internal/metrics"
	"admission-sidecar/internal/tracing"
	"admission-sidecar/sidecar/admission"
	"admission-sidecar/sidecar/admission/application"
	"admission-sidecar/sidecar/admission/domain"
	"admission-sidecar/sidecar/admission/infra"
)

func main() {
	opts, err := config.Load(pflag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger, syncLogs, err := logging.New(opts.LogLevel, opts.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}

	if err := run(opts, logger); err != nil {
		logger.Error(err, "sidecar stopped")
		syncLogs()
		os.Exit(1)
	}
	syncLogs()
}

func run(opts *config.Options, logger logr.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	servers, err := opts.ServerSet()
	if err != nil {
		return err
	}

	if err := metrics.InitMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if opts.MetricsAddr != "" {
		startMetricsServer(ctx, opts.MetricsAddr, logger.WithName("metrics"))
	}

	shutdownTracing, err := tracing.Setup(opts.TracingExporter, nil)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	profiles, err := infra.LoadProfiles(ctx, afs.New(), opts.ProfilesURL)
	if err != nil {
		return err
	}
	state := infra.NewLiveState(servers, domain.NewWhitelist(profiles.Keys(), servers))

	records, closeRecords, err := recordSink(ctx, opts)
	if err != nil {
		return err
	}
	defer closeRecords()

	// contadores em memória ficam sempre ligados e são resumidos na saída
	tally := infra.NewMemoryRecordSink()
	records = infra.MultiRecordSink{tally, records}
	defer func() {
		total := tally.Total()
		logger.Info("completed tasks",
			"completed", total.Completed,
			"totalActual", total.TotalActual.String(),
			"overExpected", total.OverExpected,
			"servers", len(tally.ByServer()))
	}()

	diagnostics := infra.NewDiagnosticLimiter(opts.DiagnosticsRPS, opts.DiagnosticsBurst)
	diagnostics.StartJanitor(ctx)

	tailOpts := []infra.TailOption{infra.WithPollRate(opts.TailPollRate)}
	if opts.FromStart {
		tailOpts = append(tailOpts, infra.WithFromStart())
	}
	tail, err := infra.OpenTailer(opts.AccessLog, tailOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = tail.Close() }()

	srv := &admission.Server{
		Addr: opts.ListenAddr,
		Publisher: &application.Publisher{
			Engine: application.Engine{
				State:     state,
				Profiles:  profiles,
				Predictor: predictor(opts),
				SLO:       opts.SLO,
				Logger:    logger.WithName("engine"),
			},
			Artifact: infra.FileArtifact{Path: opts.ArtifactPath},
			Logger:   logger.WithName("publisher"),
		},
		Logger: logger.WithName("control"),
	}
	if _, err := srv.Listen(ctx); err != nil {
		return err
	}

	sc := &admission.Sidecar{
		Ingestor: &application.Ingestor{
			Profiles:    profiles,
			Workload:    state,
			Servers:     servers,
			Records:     records,
			Diagnostics: diagnostics,
			Logger:      logger.WithName("ingestor"),
		},
		Source: tail,
		Server: srv,
		Logger: logger,
	}
	if opts.SamplerURL != "" {
		sc.Poller = application.Poller{
			Sampler:  infra.NewHTTPSampler(opts.SamplerURL, opts.SamplerTimeout),
			Store:    state,
			Servers:  servers,
			Window:   opts.SamplingWindow,
			Interval: opts.PollInterval,
			Pool:     infra.NewChanPool(opts.SamplingParallelism),
			Logger:   logger.WithName("poller"),
		}
	} else {
		logger.Info("cpu sampling disabled: no sampler url")
	}

	logger.Info("smartdrop sidecar starting",
		"listenAddr", opts.ListenAddr,
		"artifact", opts.ArtifactPath,
		"accessLog", opts.AccessLog,
		"servers", servers.String(),
		"tasks", len(profiles.Keys()),
		"slo", opts.SLO.String(),
		"predictor", opts.PredictorKind)

	return sc.Run(ctx)
}

func predictor(opts *config.Options) domain.Predictor {
	if opts.PredictorKind == config.PredictorHTTP {
		return infra.NewHTTPPredictor(opts.PredictorURL, opts.PredictorTimeout)
	}
	return infra.AnalyticPredictor{CPUWeight: opts.PredictorCPUWeight}
}

// recordSink monta o log de conclusões a partir das opções (arquivo e/ou redis).
func recordSink(ctx context.Context, opts *config.Options) (domain.RecordSink, func(), error) {
	var (
		sinks   infra.MultiRecordSink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if opts.RecordsFile != "" {
		fs, err := infra.OpenFileRecordSink(opts.RecordsFile)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, fs)
		closers = append(closers, func() { _ = fs.Close() })
	}

	if opts.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		closers = append(closers, func() { _ = rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("redis records ping: %w", err)
		}

		sinks = append(sinks, infra.NewRedisRecordSink(
			rdb,
			infra.WithRecordPrefix(opts.RedisPrefix),
			infra.WithRecordTTL(opts.RedisTTL),
			infra.WithRecordBucket(opts.RedisBucket),
		))
	}

	if len(sinks) == 0 {
		return nil, closeAll, nil
	}
	return sinks, closeAll, nil
}

func startMetricsServer(ctx context.Context, addr string, logger logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "metrics server error")
		}
	}()
}
