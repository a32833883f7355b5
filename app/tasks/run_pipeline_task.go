package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feedpress/app/pipeline"
)

// RunPipelineTask processes one batch of pending queue items. It is never
// retried by the scheduler; the next tick starts a fresh batch.
type RunPipelineTask struct {
	Task
	runner    BatchRunner
	batchSize int
}

func NewRunPipelineTask(runner BatchRunner, batchSize int, timeout time.Duration) *RunPipelineTask {
	task := NewTask(TaskTypeRunPipeline, "")
	task.MaxRetries = 0
	task.Timeout = timeout

	return &RunPipelineTask{
		Task:      task,
		runner:    runner,
		batchSize: batchSize,
	}
}

func (t *RunPipelineTask) Execute(ctx context.Context) error {
	summary, err := t.runner.RunBatch(ctx, t.batchSize)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		slog.Debug("Pipeline run skipped, another run holds the lock")
		return nil
	}
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	slog.Info("Task completed",
		"type", "RunPipeline",
		"duration", t.GetDuration(),
		"processed", summary.Processed,
		"published", summary.Published,
		"failed", summary.Failed)

	return nil
}
