package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./data/intel.db" description:"Path to the sqlite database holding published snapshots"`
	TopicsDir string `long:"topics-dir" env:"TOPICS_DIR" default:"./topics" description:"Directory containing topic configuration files"`

	// HTTP server
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Refresh scheduling
	WorkerCount       int `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Maximum number of refresh cycles running at once"`
	SchedulerInterval int `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"1800" description:"Refresh interval in seconds"`
	CycleDeadline     int `long:"cycle-deadline" env:"CYCLE_DEADLINE" default:"300" description:"Wall-clock deadline of one refresh cycle in seconds"`

	// Inference backend
	InferenceURL      string   `long:"inference-url" env:"INFERENCE_URL" default:"http://localhost:11434" description:"Base URL of the Ollama compatible backend"`
	FastModel         string   `long:"fast-model" env:"FAST_MODEL" default:"qwen2.5:7b" description:"Primary model for short requests"`
	PowerfulModel     string   `long:"powerful-model" env:"POWERFUL_MODEL" default:"gpt-oss:20b" description:"Primary model for long requests"`
	FallbackModels    []string `long:"fallback-model" env:"FALLBACK_MODELS" env-delim:"," default:"llama3.2" default:"phi3.5" description:"Ordered fallback models (repeat flag or comma separated env)"`
	FastTimeout       int      `long:"fast-timeout" env:"FAST_TIMEOUT" default:"60" description:"Per-attempt budget for the fast model in seconds"`
	PowerfulTimeout   int      `long:"powerful-timeout" env:"POWERFUL_TIMEOUT" default:"240" description:"Per-attempt budget for the powerful model in seconds"`
	ColdStartGrace    int      `long:"cold-start-grace" env:"COLD_START_GRACE" default:"90" description:"Extra seconds allowed while a model is being loaded"`
	KeepAlive         int      `long:"keep-alive" env:"KEEP_ALIVE" default:"600" description:"Seconds the backend keeps a model loaded after use"`
	MaxRetries        int      `long:"max-retries" env:"MAX_RETRIES" default:"2" description:"Retries after a transient inference failure"`
	RetryBaseDelay    int      `long:"retry-base-delay" env:"RETRY_BASE_DELAY" default:"5000" description:"First retry delay in milliseconds, doubled on every retry"`
	RetryMaxDelay     int      `long:"retry-max-delay" env:"RETRY_MAX_DELAY" default:"60" description:"Upper bound of a retry delay in seconds"`
	FallbackThreshold int      `long:"fallback-threshold" env:"FALLBACK_THRESHOLD" default:"3" description:"Consecutive failed calls before switching to the next model"`
	RequestsPerMinute int      `long:"requests-per-minute" env:"REQUESTS_PER_MINUTE" default:"60" description:"Inference request rate limit (0 disables)"`

	// Enrichment
	EnrichTimeout     int    `long:"enrich-timeout" env:"ENRICH_TIMEOUT" default:"15" description:"Per-attempt budget of enrichment requests in seconds"`
	EnrichConcurrency int    `long:"enrich-concurrency" env:"ENRICH_CONCURRENCY" default:"2" description:"Enrichment requests in flight across all topics"`
	TargetLanguage    string `long:"target-language" env:"TARGET_LANGUAGE" default:"Spanish" description:"Language titles are translated into"`

	// Categorization and cache
	BreakingWindow int `long:"breaking-window" env:"BREAKING_WINDOW" default:"48" description:"Maximum age in hours of a breaking item"`
	MaxBreaking    int `long:"max-breaking" env:"MAX_BREAKING" default:"10" description:"Maximum breaking items per topic"`
	MaxRecent      int `long:"max-recent" env:"MAX_RECENT" default:"10" description:"Maximum recent items per topic"`
	MaxPopular     int `long:"max-popular" env:"MAX_POPULAR" default:"10" description:"Maximum popular items per topic"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Intel/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		TopicsDir:         raw.TopicsDir,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		CycleDeadline:     raw.CycleDeadline,
		InferenceURL:      raw.InferenceURL,
		FastModel:         raw.FastModel,
		PowerfulModel:     raw.PowerfulModel,
		FallbackModels:    raw.FallbackModels,
		FastTimeout:       raw.FastTimeout,
		PowerfulTimeout:   raw.PowerfulTimeout,
		ColdStartGrace:    raw.ColdStartGrace,
		KeepAlive:         raw.KeepAlive,
		MaxRetries:        raw.MaxRetries,
		RetryBaseDelay:    raw.RetryBaseDelay,
		RetryMaxDelay:     raw.RetryMaxDelay,
		FallbackThreshold: raw.FallbackThreshold,
		RequestsPerMinute: raw.RequestsPerMinute,
		EnrichTimeout:     raw.EnrichTimeout,
		EnrichConcurrency: raw.EnrichConcurrency,
		TargetLanguage:    raw.TargetLanguage,
		BreakingWindow:    raw.BreakingWindow,
		MaxBreaking:       raw.MaxBreaking,
		MaxRecent:         raw.MaxRecent,
		MaxPopular:        raw.MaxPopular,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	positiveFields := map[string]int{
		"worker count":       c.WorkerCount,
		"scheduler interval": c.SchedulerInterval,
		"cycle deadline":     c.CycleDeadline,
		"fast timeout":       c.FastTimeout,
		"powerful timeout":   c.PowerfulTimeout,
		"enrich timeout":     c.EnrichTimeout,
		"enrich concurrency": c.EnrichConcurrency,
		"fallback threshold": c.FallbackThreshold,
		"breaking window":    c.BreakingWindow,
	}
	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	nonNegativeFields := map[string]int{
		"cold start grace":    c.ColdStartGrace,
		"keep alive":          c.KeepAlive,
		"max retries":         c.MaxRetries,
		"retry base delay":    c.RetryBaseDelay,
		"retry max delay":     c.RetryMaxDelay,
		"requests per minute": c.RequestsPerMinute,
		"max breaking":        c.MaxBreaking,
		"max recent":          c.MaxRecent,
		"max popular":         c.MaxPopular,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if c.FastModel == "" || c.PowerfulModel == "" {
		return fmt.Errorf("fast and powerful models are required")
	}

	return nil
}

// FastChain is the fast model followed by the configured fallbacks.
func (c *Cfg) FastChain() []string {
	return append([]string{c.FastModel}, c.FallbackModels...)
}

// PowerfulChain falls back to the fast model before the shared fallbacks.
func (c *Cfg) PowerfulChain() []string {
	return append([]string{c.PowerfulModel, c.FastModel}, c.FallbackModels...)
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}
