package api

import (
	"context"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/feed"
	"github.com/lysyi3m/feedpress/app/pipeline"
	"github.com/lysyi3m/feedpress/app/tasks"
)

type GeneratorInterface interface {
	Run(channel feed.Channel, articles []database.Article) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// Runner is the pipeline surface the API drives.
type Runner interface {
	RunBatch(ctx context.Context, maxItems int) (pipeline.Summary, error)
	LastReport() *pipeline.Report
}

var _ Runner = (*pipeline.Orchestrator)(nil)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Repositories struct {
	Feeds        database.FeedRepository
	Queue        database.QueueRepository
	Articles     database.ArticleRepository
	Publications database.PublicationRepository
}

type Handler struct {
	repos       Repositories
	store       Pinger
	generator   GeneratorInterface
	configCache *feed.ConfigCache
	runner      Runner
	scheduler   tasks.TaskSchedulerInterface
	channel     feed.Channel
	batchSize   int
}
