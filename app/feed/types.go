package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title           string
	Link            string
	Description     string
	ImageURL        string
	Language        string
	FeedPublishedAt *time.Time
}

type Item struct {
	GUID         string
	Title        string
	Link         string // canonical form, see CanonicalURL
	Description  string
	Content      string
	PublishedAt  *time.Time
	Authors      []string // "email (name)" or "name"
	Categories   []string
	URLHash      string
	IsFiltered   bool
	FilterReason string
}

// ExtractedContent is the cleaned article the pipeline generates from.
type ExtractedContent struct {
	URL           string
	Title         string
	Text          string
	Excerpt       string
	Byline        string
	SiteName      string
	PublishedTime *time.Time
}

// Configuration types

type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	URL      string         `yaml:"url"`
	Category string         `yaml:"category"`
	Settings ConfigSettings `yaml:"settings"`
	Filters  []ConfigFilter `yaml:"filters"`
}

type ConfigSettings struct {
	Enabled         bool `yaml:"enabled"`
	RefreshInterval int  `yaml:"refresh_interval"` // seconds
	MaxItems        int  `yaml:"max_items"`
	Timeout         int  `yaml:"timeout"` // seconds
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}
