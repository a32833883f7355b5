package cfg

import "time"

type PublishMode string

const (
	PublishModeAuto  PublishMode = "auto"
	PublishModeDraft PublishMode = "draft"
	PublishModeOff   PublishMode = "off"
)

type Cfg struct {
	// Storage
	DBPath string

	// Application configuration
	FeedsDir          string
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string
	RunOnce           bool

	// Pipeline
	BatchSize        int
	PublishThreshold float64
	PublishMode      PublishMode
	MaxRegenerations int
	ExtractTimeout   time.Duration
	StaleAfter       time.Duration
	ReliabilityFile  string

	// Generation backend
	GeminiAPIKey string
	GeminiModel  string
	GeminiRPM    int
	Language     string

	// Publication target
	WPURL         string
	WPUser        string
	WPAppPassword string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
