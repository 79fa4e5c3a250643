// Package config monta as opções do sidecar: padrões vindos do ambiente
// (SMARTDROP_*), arquivo YAML opcional e flags de linha de comando.
//
// Precedência: padrão < ambiente < arquivo < flag explícita.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"admission-sidecar/sidecar/admission/domain"
)

const (
	PredictorAnalytic = "analytic"
	PredictorHTTP     = "http"

	TracingNone   = ""
	TracingStdout = "stdout"
)

type Options struct {
	ConfigFile string `yaml:"-"`

	ListenAddr   string `yaml:"listenAddr"`
	ArtifactPath string `yaml:"artifactPath"`
	ProfilesURL  string `yaml:"profilesURL"`
	AccessLog    string `yaml:"accessLog"`
	FromStart    bool   `yaml:"fromStart"`
	Servers      string `yaml:"servers"`

	SLO                 time.Duration `yaml:"slo"`
	SamplingWindow      time.Duration `yaml:"samplingWindow"`
	PollInterval        time.Duration `yaml:"pollInterval"`
	SamplingParallelism int           `yaml:"samplingParallelism"`
	TailPollRate        float64       `yaml:"tailPollRate"`

	PredictorKind      string        `yaml:"predictorKind"`
	PredictorURL       string        `yaml:"predictorURL"`
	PredictorCPUWeight float64       `yaml:"predictorCPUWeight"`
	PredictorTimeout   time.Duration `yaml:"predictorTimeout"`

	SamplerURL     string        `yaml:"samplerURL"`
	SamplerTimeout time.Duration `yaml:"samplerTimeout"`

	RecordsFile   string        `yaml:"recordsFile"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	RedisPrefix   string        `yaml:"redisPrefix"`
	RedisTTL      time.Duration `yaml:"redisTTL"`
	RedisBucket   string        `yaml:"redisBucket"`

	DiagnosticsRPS   float64 `yaml:"diagnosticsRPS"`
	DiagnosticsBurst int     `yaml:"diagnosticsBurst"`

	MetricsAddr     string `yaml:"metricsAddr"`
	TracingExporter string `yaml:"tracingExporter"`
	LogLevel        string `yaml:"logLevel"`
	LogDevelopment  bool   `yaml:"logDevelopment"`
}

// NewOptions devolve as opções com os padrões, já sobrescritos pelo ambiente.
func NewOptions() *Options {
	return &Options{
		ConfigFile: os.Getenv("SMARTDROP_CONFIG"),

		ListenAddr:   getenvDefault("SMARTDROP_LISTEN_ADDR", "smartdrop:8080"),
		ArtifactPath: getenvDefault("SMARTDROP_ARTIFACT", "/Whitelist/whitelist.csv"),
		ProfilesURL:  getenvDefault("SMARTDROP_PROFILES", "task_profiles.csv"),
		AccessLog:    getenvDefault("SMARTDROP_ACCESS_LOG", "access.log"),
		FromStart:    getenvBoolDefault("SMARTDROP_FROM_START", false),
		Servers:      getenvDefault("SMARTDROP_SERVERS", ""),

		SLO:                 getenvDurationDefault("SMARTDROP_SLO", time.Second),
		SamplingWindow:      getenvDurationDefault("SMARTDROP_SAMPLING_WINDOW", 1250*time.Millisecond),
		PollInterval:        getenvDurationDefault("SMARTDROP_POLL_INTERVAL", 0),
		SamplingParallelism: getenvIntDefault("SMARTDROP_SAMPLING_PARALLELISM", 0),
		TailPollRate:        getenvFloatDefault("SMARTDROP_TAIL_POLL_RATE", 20),

		PredictorKind:      getenvDefault("SMARTDROP_PREDICTOR", PredictorAnalytic),
		PredictorURL:       getenvDefault("SMARTDROP_PREDICTOR_URL", ""),
		PredictorCPUWeight: getenvFloatDefault("SMARTDROP_PREDICTOR_CPU_WEIGHT", 0),
		PredictorTimeout:   getenvDurationDefault("SMARTDROP_PREDICTOR_TIMEOUT", 2*time.Second),

		SamplerURL:     getenvDefault("SMARTDROP_SAMPLER_URL", ""),
		SamplerTimeout: getenvDurationDefault("SMARTDROP_SAMPLER_TIMEOUT", 2*time.Second),

		RecordsFile:   getenvDefault("SMARTDROP_RECORDS_FILE", "records.csv"),
		RedisAddr:     getenvDefault("SMARTDROP_REDIS_ADDR", ""),
		RedisPassword: os.Getenv("SMARTDROP_REDIS_PASSWORD"),
		RedisDB:       getenvIntDefault("SMARTDROP_REDIS_DB", 0),
		RedisPrefix:   getenvDefault("SMARTDROP_REDIS_PREFIX", "smartdrop:records"),
		RedisTTL:      getenvDurationDefault("SMARTDROP_REDIS_TTL", 24*time.Hour),
		RedisBucket:   getenvDefault("SMARTDROP_REDIS_BUCKET", "minute"),

		DiagnosticsRPS:   getenvFloatDefault("SMARTDROP_DIAGNOSTICS_RPS", 1),
		DiagnosticsBurst: getenvIntDefault("SMARTDROP_DIAGNOSTICS_BURST", 5),

		MetricsAddr:     getenvDefault("SMARTDROP_METRICS_ADDR", ""),
		TracingExporter: getenvDefault("SMARTDROP_TRACING", TracingNone),
		LogLevel:        getenvDefault("SMARTDROP_LOG_LEVEL", "info"),
		LogDevelopment:  getenvBoolDefault("SMARTDROP_LOG_DEVELOPMENT", false),
	}
}

// AddFlags registra as flags usando os valores atuais como padrão.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "YAML file with options (flags still win).")

	fs.StringVar(&o.ListenAddr, "listen-addr", o.ListenAddr, "Control socket address for the load balancer.")
	fs.StringVar(&o.ArtifactPath, "artifact", o.ArtifactPath, "Path of the published whitelist file.")
	fs.StringVar(&o.ProfilesURL, "profiles", o.ProfilesURL, "Task profile table (path or afs URL, e.g. file://, mem://).")
	fs.StringVar(&o.AccessLog, "access-log", o.AccessLog, "Load balancer access log to tail.")
	fs.BoolVar(&o.FromStart, "from-start", o.FromStart, "Read the access log from the beginning instead of the end.")
	fs.StringVar(&o.Servers, "servers", o.Servers, "Comma-separated single-character server ids, in order (e.g. A,B,C).")

	fs.DurationVar(&o.SLO, "slo", o.SLO, "Maximum acceptable response time.")
	fs.DurationVar(&o.SamplingWindow, "sampling-window", o.SamplingWindow, "Interval between the two CPU readings of a cycle.")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Pause between CPU sampling cycles.")
	fs.IntVar(&o.SamplingParallelism, "sampling-parallelism", o.SamplingParallelism, "Concurrent server samplings (0 = one per server).")
	fs.Float64Var(&o.TailPollRate, "tail-poll-rate", o.TailPollRate, "Access log polls per second at end of file.")

	fs.StringVar(&o.PredictorKind, "predictor", o.PredictorKind, "Predictor backend: analytic or http.")
	fs.StringVar(&o.PredictorURL, "predictor-url", o.PredictorURL, "Base URL of the prediction service (predictor=http).")
	fs.Float64Var(&o.PredictorCPUWeight, "predictor-cpu-weight", o.PredictorCPUWeight, "CPU inflation weight of the analytic predictor.")
	fs.DurationVar(&o.PredictorTimeout, "predictor-timeout", o.PredictorTimeout, "HTTP timeout of the prediction service.")

	fs.StringVar(&o.SamplerURL, "sampler-url", o.SamplerURL, "Base URL of the CPU telemetry endpoint (empty disables sampling).")
	fs.DurationVar(&o.SamplerTimeout, "sampler-timeout", o.SamplerTimeout, "HTTP timeout of the telemetry endpoint.")

	fs.StringVar(&o.RecordsFile, "records-file", o.RecordsFile, "CSV file for completed-task records (empty disables).")
	fs.StringVar(&o.RedisAddr, "redis-addr", o.RedisAddr, "Redis address for completed-task counters (empty disables).")
	fs.StringVar(&o.RedisPassword, "redis-password", o.RedisPassword, "Redis password.")
	fs.IntVar(&o.RedisDB, "redis-db", o.RedisDB, "Redis database.")
	fs.StringVar(&o.RedisPrefix, "redis-prefix", o.RedisPrefix, "Key prefix for redis counters.")
	fs.DurationVar(&o.RedisTTL, "redis-ttl", o.RedisTTL, "TTL of redis time buckets.")
	fs.StringVar(&o.RedisBucket, "redis-bucket", o.RedisBucket, "Redis time bucket: minute or none.")

	fs.Float64Var(&o.DiagnosticsRPS, "diagnostics-rps", o.DiagnosticsRPS, "Diagnostics per second allowed per error reason.")
	fs.IntVar(&o.DiagnosticsBurst, "diagnostics-burst", o.DiagnosticsBurst, "Diagnostic burst per error reason.")

	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "Address for the Prometheus /metrics endpoint (empty disables).")
	fs.StringVar(&o.TracingExporter, "tracing", o.TracingExporter, "Trace exporter: empty or stdout.")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error).")
	fs.BoolVar(&o.LogDevelopment, "log-development", o.LogDevelopment, "Human-readable console logs.")
}

// LoadFile aplica um arquivo YAML sobre as opções atuais.
// Campos ausentes no arquivo mantêm o valor corrente.
func (o *Options) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Load registra as flags em fs, faz o parse de args, aplica o arquivo de
// configuração (se houver) e reaplica as flags passadas explicitamente.
func Load(fs *pflag.FlagSet, args []string) (*Options, error) {
	o := NewOptions()
	o.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.ConfigFile != "" {
		explicit := map[string]string{}
		fs.Visit(func(f *pflag.Flag) { explicit[f.Name] = f.Value.String() })
		if err := o.LoadFile(o.ConfigFile); err != nil {
			return nil, err
		}
		for name, v := range explicit {
			if err := fs.Set(name, v); err != nil {
				return nil, fmt.Errorf("reapply --%s: %w", name, err)
			}
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// ServerSet interpreta Servers ("A,B,C" ou "ABC").
func (o *Options) ServerSet() (domain.ServerSet, error) {
	raw := strings.TrimSpace(o.Servers)
	if raw == "" {
		return nil, errors.New("servers is required")
	}
	var parts []string
	if strings.Contains(raw, ",") {
		parts = strings.Split(raw, ",")
	} else {
		parts = strings.Split(raw, "")
	}

	var (
		out  domain.ServerSet
		errs error
	)
	for _, p := range parts {
		id := domain.ServerID(strings.TrimSpace(p))
		switch {
		case !id.Valid():
			errs = multierr.Append(errs, fmt.Errorf("invalid server id %q (one character, not %q or ',')", id, domain.EmptyServerSet))
		case out.Contains(id):
			errs = multierr.Append(errs, fmt.Errorf("duplicate server id %q", id))
		default:
			out = append(out, id)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

// Validate junta todos os problemas em um único erro.
func (o *Options) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if _, err := o.ServerSet(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if strings.TrimSpace(o.ListenAddr) == "" {
		add("listen-addr is required")
	}
	if strings.TrimSpace(o.ArtifactPath) == "" {
		add("artifact is required")
	}
	if strings.TrimSpace(o.ProfilesURL) == "" {
		add("profiles is required")
	}
	if strings.TrimSpace(o.AccessLog) == "" {
		add("access-log is required")
	}
	if o.SLO <= 0 {
		add("slo must be > 0")
	}
	if o.SamplingWindow <= 0 {
		add("sampling-window must be > 0")
	}
	if o.PollInterval < 0 {
		add("poll-interval must be >= 0")
	}
	if o.SamplingParallelism < 0 {
		add("sampling-parallelism must be >= 0")
	}
	if o.TailPollRate <= 0 {
		add("tail-poll-rate must be > 0")
	}
	switch o.PredictorKind {
	case PredictorAnalytic:
		if o.PredictorCPUWeight < 0 {
			add("predictor-cpu-weight must be >= 0")
		}
	case PredictorHTTP:
		if strings.TrimSpace(o.PredictorURL) == "" {
			add("predictor-url is required when predictor=http")
		}
	default:
		add("unknown predictor %q (want %s or %s)", o.PredictorKind, PredictorAnalytic, PredictorHTTP)
	}
	if o.RedisAddr != "" && o.RedisBucket != "minute" && o.RedisBucket != "none" {
		add("redis-bucket must be minute or none")
	}
	if o.DiagnosticsBurst < 0 {
		add("diagnostics-burst must be >= 0")
	}
	if o.TracingExporter != TracingNone && o.TracingExporter != TracingStdout {
		add("unknown tracing exporter %q", o.TracingExporter)
	}
	if _, err := zapcore.ParseLevel(o.LogLevel); err != nil {
		add("log-level: %v", err)
	}
	return errs
}
