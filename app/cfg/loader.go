package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
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
	DBPath string `long:"db-path" env:"DB_PATH" default:"./feedpress.db" description:"SQLite database file"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed source files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://press.example.com)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"3" description:"Number of background workers for feed tasks"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"300" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	RunOnce           bool   `long:"run-once" env:"RUN_ONCE" description:"Ingest feeds, process one batch and exit"`

	// Pipeline
	BatchSize        int     `long:"batch-size" env:"BATCH_SIZE" default:"10" description:"Maximum queue items processed per run"`
	PublishThreshold float64 `long:"publish-threshold" env:"PUBLISH_THRESHOLD" default:"0.75" description:"Minimum composite score for public visibility"`
	PublishMode      string  `long:"publish-mode" env:"PUBLISH_MODE" default:"draft" choice:"auto" choice:"draft" choice:"off" description:"auto publishes accepted items, draft never does, off scores without posting"`
	MaxRegenerations int     `long:"max-regenerations" env:"MAX_REGENERATIONS" default:"3" description:"Regeneration attempts per item after failed validation"`
	ExtractTimeout   int     `long:"extract-timeout" env:"EXTRACT_TIMEOUT" default:"30" description:"Article fetch timeout in seconds"`
	StaleAfter       int     `long:"stale-after" env:"STALE_AFTER" default:"3600" description:"Seconds after which a processing item is considered abandoned"`
	ReliabilityFile  string  `long:"reliability-file" env:"RELIABILITY_FILE" description:"YAML file overriding source reliability scores"`

	// Generation backend
	GeminiAPIKey string `long:"gemini-api-key" env:"GEMINI_API_KEY" description:"Gemini API key (required)"`
	GeminiModel  string `long:"gemini-model" env:"GEMINI_MODEL" default:"gemini-1.5-flash" description:"Gemini model name"`
	GeminiRPM    int    `long:"gemini-rpm" env:"GEMINI_RPM" default:"15" description:"Gemini requests per minute"`
	Language     string `long:"language" env:"LANGUAGE" default:"en" description:"Target language for generated documents"`

	// Publication target
	WPURL         string `long:"wp-url" env:"WP_URL" description:"WordPress site URL (required)"`
	WPUser        string `long:"wp-user" env:"WP_USER" description:"WordPress user (required)"`
	WPAppPassword string `long:"wp-app-password" env:"WP_APP_PASSWORD" description:"WordPress application password (required)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Feedpress/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	return parse(nil)
}

// parse reads flags from args, or from os.Args when args is nil.
func parse(args []string) (*Cfg, error) {
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
		FeedsDir:          raw.FeedsDir,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		RunOnce:           raw.RunOnce,
		BatchSize:         raw.BatchSize,
		PublishThreshold:  raw.PublishThreshold,
		PublishMode:       PublishMode(raw.PublishMode),
		MaxRegenerations:  raw.MaxRegenerations,
		ExtractTimeout:    time.Duration(raw.ExtractTimeout) * time.Second,
		StaleAfter:        time.Duration(raw.StaleAfter) * time.Second,
		ReliabilityFile:   raw.ReliabilityFile,
		GeminiAPIKey:      raw.GeminiAPIKey,
		GeminiModel:       raw.GeminiModel,
		GeminiRPM:         raw.GeminiRPM,
		Language:          raw.Language,
		WPURL:             raw.WPURL,
		WPUser:            raw.WPUser,
		WPAppPassword:     raw.WPAppPassword,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

// Validate reports configuration problems that must abort a run before any
// queue item is touched.
func (c *Cfg) Validate() error {
	var errs []error

	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("gemini API key is required"))
	}
	if c.PublishMode != PublishModeOff {
		if c.WPURL == "" {
			errs = append(errs, errors.New("WordPress URL is required"))
		} else if u, err := url.Parse(c.WPURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("WordPress URL is invalid: %q", c.WPURL))
		}
		if c.WPUser == "" || c.WPAppPassword == "" {
			errs = append(errs, errors.New("WordPress credentials are required"))
		}
	}
	if c.PublishThreshold < 0 || c.PublishThreshold > 1 {
		errs = append(errs, fmt.Errorf("publish threshold must be within [0,1], got %v", c.PublishThreshold))
	}
	switch c.PublishMode {
	case PublishModeAuto, PublishModeDraft, PublishModeOff:
	default:
		errs = append(errs, fmt.Errorf("publish mode must be auto, draft or off, got %q", c.PublishMode))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.MaxRegenerations < 0 {
		errs = append(errs, errors.New("max regenerations must be non-negative"))
	}

	return errors.Join(errs...)
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
