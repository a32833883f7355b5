package tasks

import (
	"context"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/pipeline"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application to manage background ingestion and pipeline
// runs.
//
//	scheduler := NewScheduler(configCache, feedRepo, dedupIndex, orchestrator, httpClient, parser, filterer, settings)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewRunPipelineTask(orchestrator, 10, time.Hour))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	Stats() Stats
}

// Deduplicator gates feed entries before they enter the queue.
type Deduplicator interface {
	Admit(ctx context.Context, c database.Candidate) (database.Admission, error)
}

type BatchRunner interface {
	RunBatch(ctx context.Context, maxItems int) (pipeline.Summary, error)
}
