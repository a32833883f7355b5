// Package pipeline drives queue items through extraction, generation,
// validation with bounded regeneration, scoring and publication.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/feedpress/app/cfg"
	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/document"
	"github.com/lysyi3m/feedpress/app/feed"
	"github.com/lysyi3m/feedpress/app/publisher"
	"github.com/lysyi3m/feedpress/app/scorer"
	"github.com/lysyi3m/feedpress/app/validator"
)

const (
	LockName = "pipeline"

	AbandonedReason = "abandoned in processing by an interrupted run"
)

// ErrRunInProgress is returned by RunBatch when another run holds the lock.
var ErrRunInProgress = errors.New("another pipeline run is in progress")

var errCancelled = errors.New("run cancelled")

type Stage string

const (
	StageExtract  Stage = "extract"
	StageGenerate Stage = "generate"
	StageValidate Stage = "validate"
	StageScore    Stage = "score"
	StagePublish  Stage = "publish"
)

// StageError is a per-item failure. Its message is stored verbatim as the
// item's last error.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Extractor interface {
	Run(ctx context.Context, pageURL string) (*feed.ExtractedContent, error)
}

type Generator interface {
	Generate(ctx context.Context, src *feed.ExtractedContent) (*document.Document, error)
	Regenerate(ctx context.Context, src *feed.ExtractedContent, prior *document.Document, feedback string) (*document.Document, error)
}

type Validator interface {
	Validate(ctx context.Context, doc *document.Document, sourceText string) (validator.Result, error)
}

type Scorer interface {
	Score(ctx context.Context, doc *document.Document, meta *feed.ExtractedContent, item database.QueueItem, threshold float64) (scorer.Result, error)
}

type Thumbnailer interface {
	Render(doc *document.Document, category string) ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, doc *document.Document, thumbnail []byte, mode cfg.PublishMode, shouldPublish bool) (publisher.Outcome, error)
}

// Deps are the collaborators of an Orchestrator. Publisher and Thumbnailer
// may be nil when the publish mode is off.
type Deps struct {
	Queue       database.QueueRepository
	Locks       database.RunLockRepository
	Extractor   Extractor
	Generator   Generator
	Validator   Validator
	Scorer      Scorer
	Thumbnailer Thumbnailer
	Publisher   Publisher
}

type Options struct {
	Threshold        float64
	Mode             cfg.PublishMode
	MaxRegenerations int
	StaleAfter       time.Duration
	LockTTL          time.Duration
	ExtractTimeout   time.Duration
	CallTimeout      time.Duration
	PublishTimeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		Threshold:        scorer.DefaultThreshold,
		Mode:             cfg.PublishModeDraft,
		MaxRegenerations: 3,
		StaleAfter:       time.Hour,
		LockTTL:          30 * time.Minute,
		ExtractTimeout:   30 * time.Second,
		CallTimeout:      2 * time.Minute,
		PublishTimeout:   time.Minute,
	}
}

type Summary struct {
	Processed int `json:"processed"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
}

// Report describes the most recent run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Recovered  int64     `json:"recovered"`
	Summary    Summary   `json:"summary"`
	Error      string    `json:"error,omitempty"`
}

type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time

	mu   sync.Mutex
	last *Report
}

func New(deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// LastReport returns the report of the most recent finished run, or nil.
func (o *Orchestrator) LastReport() *Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

// RunBatch processes up to maxItems pending items, oldest first. Per-item
// failures are recorded on the item and counted; the returned error is
// reserved for conditions that make the whole run impossible.
func (o *Orchestrator) RunBatch(ctx context.Context, maxItems int) (Summary, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: o.now().UTC()}

	summary, err := o.runBatch(ctx, report, maxItems)

	report.Summary = summary
	report.FinishedAt = o.now().UTC()
	if err != nil {
		report.Error = err.Error()
	}
	if !errors.Is(err, ErrRunInProgress) {
		o.mu.Lock()
		o.last = report
		o.mu.Unlock()
	}

	return summary, err
}

func (o *Orchestrator) runBatch(ctx context.Context, report *Report, maxItems int) (Summary, error) {
	var summary Summary

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	acquired, err := o.deps.Locks.Acquire(ctx, LockName, report.RunID, o.opts.LockTTL)
	if err != nil {
		return summary, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return summary, ErrRunInProgress
	}
	defer func() {
		if err := o.deps.Locks.Release(context.WithoutCancel(ctx), LockName, report.RunID); err != nil {
			slog.Error("Failed to release run lock", "run_id", report.RunID, "error", err)
		}
	}()

	recovered, err := o.deps.Queue.RecoverStale(ctx, o.opts.StaleAfter, AbandonedReason)
	if err != nil {
		return summary, fmt.Errorf("failed to recover stale items: %w", err)
	}
	report.Recovered = recovered
	if recovered > 0 {
		slog.Warn("Recovered abandoned items", "run_id", report.RunID, "count", recovered)
	}

	items, err := o.deps.Queue.ListPending(ctx, maxItems)
	if err != nil {
		return summary, fmt.Errorf("failed to list pending items: %w", err)
	}

	slog.Info("Run started", "run_id", report.RunID, "pending", len(items), "max", maxItems)

	for _, item := range items {
		if ctx.Err() != nil {
			slog.Info("Run cancelled, stopping before next item", "run_id", report.RunID, "remaining", len(items)-summary.Processed)
			break
		}

		// Renewing the lease keeps a long batch from being taken over.
		held, err := o.deps.Locks.Acquire(ctx, LockName, report.RunID, o.opts.LockTTL)
		if err != nil {
			return summary, fmt.Errorf("failed to renew run lock: %w", err)
		}
		if !held {
			return summary, fmt.Errorf("run lock lost to another owner")
		}

		claimed, err := o.deps.Queue.Claim(ctx, item.ID)
		if err != nil {
			return summary, err
		}
		if !claimed {
			slog.Debug("Item no longer pending, skipping", "item_id", item.ID)
			continue
		}

		summary.Processed++
		status, err := o.processItem(ctx, item)
		if err != nil {
			return summary, err
		}

		switch status {
		case database.StatusPublished:
			summary.Published++
		case database.StatusFailed:
			summary.Failed++
		}
	}

	slog.Info("Run finished",
		"run_id", report.RunID,
		"processed", summary.Processed,
		"published", summary.Published,
		"failed", summary.Failed,
		"duration", o.now().Sub(report.StartedAt))

	return summary, nil
}

// processItem runs every stage for one claimed item and persists the terminal
// status. Stages run on a context detached from run cancellation so the
// current stage can finish; cancellation is observed between stages. The
// returned error is a store failure and aborts the run.
func (o *Orchestrator) processItem(runCtx context.Context, item database.QueueItem) (database.QueueStatus, error) {
	started := o.now()
	ctx := context.WithoutCancel(runCtx)

	fail := func(stageErr *StageError) (database.QueueStatus, error) {
		slog.Warn("Item failed", "item_id", item.ID, "stage", string(stageErr.Stage), "error", stageErr.Err)
		if err := o.deps.Queue.MarkFailed(ctx, item.ID, stageErr.Error()); err != nil {
			return "", fmt.Errorf("failed to record failure of %s: %w", item.ID, err)
		}
		return database.StatusFailed, nil
	}

	content, stageErr := o.extract(ctx, item)
	if stageErr != nil {
		return fail(stageErr)
	}

	if runCtx.Err() != nil {
		return fail(&StageError{Stage: StageGenerate, Err: errCancelled})
	}

	doc, stageErr := o.produce(runCtx, ctx, item, content)
	if stageErr != nil {
		return fail(stageErr)
	}

	if runCtx.Err() != nil {
		return fail(&StageError{Stage: StageScore, Err: errCancelled})
	}

	scoreCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	score, err := o.deps.Scorer.Score(scoreCtx, doc, content, item, o.opts.Threshold)
	cancel()
	if err != nil {
		return fail(&StageError{Stage: StageScore, Err: err})
	}

	slog.Debug("Item scored", "item_id", item.ID, "score", score.Score, "should_publish", score.ShouldPublish)

	if o.opts.Mode == cfg.PublishModeOff {
		if err := o.deps.Queue.MarkCompleted(ctx, item.ID); err != nil {
			return "", fmt.Errorf("failed to complete %s: %w", item.ID, err)
		}
		slog.Info("Item completed without publishing", "item_id", item.ID, "score", score.Score, "duration", o.now().Sub(started))
		return database.StatusCompleted, nil
	}

	if runCtx.Err() != nil {
		return fail(&StageError{Stage: StagePublish, Err: errCancelled})
	}

	return o.publish(ctx, item, doc, score, started)
}

func (o *Orchestrator) extract(ctx context.Context, item database.QueueItem) (*feed.ExtractedContent, *StageError) {
	extractCtx, cancel := context.WithTimeout(ctx, o.opts.ExtractTimeout)
	defer cancel()

	content, err := o.deps.Extractor.Run(extractCtx, item.URL)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	if content == nil || strings.TrimSpace(content.Text) == "" {
		return nil, &StageError{Stage: StageExtract, Err: feed.ErrNoContent}
	}
	return content, nil
}

// produce returns the first document that is well-formed and passes
// validation. Every Regenerate call counts against MaxRegenerations, and two
// malformed outputs in a row fail the item.
func (o *Orchestrator) produce(runCtx, ctx context.Context, item database.QueueItem, src *feed.ExtractedContent) (*document.Document, *StageError) {
	var (
		prior         *document.Document
		feedback      string
		regenerations int
		malformed     int
	)

	for {
		if runCtx.Err() != nil {
			stage := StageGenerate
			if feedback != "" {
				stage = StageValidate
			}
			return nil, &StageError{Stage: stage, Err: errCancelled}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		var doc *document.Document
		var err error
		if prior == nil {
			doc, err = o.deps.Generator.Generate(callCtx, src)
		} else {
			regenerations++
			slog.Info("Regenerating document", "item_id", item.ID, "attempt", regenerations, "max", o.opts.MaxRegenerations)
			doc, err = o.deps.Generator.Regenerate(callCtx, src, prior, feedback)
		}
		cancel()

		if err != nil {
			if !errors.Is(err, document.ErrMalformed) {
				return nil, &StageError{Stage: StageGenerate, Err: err}
			}
			malformed++
			if malformed >= 2 {
				return nil, &StageError{Stage: StageGenerate, Err: fmt.Errorf("generator returned malformed output twice: %w", err)}
			}
			if prior != nil && regenerations >= o.opts.MaxRegenerations {
				return nil, &StageError{Stage: StageGenerate, Err: err}
			}
			slog.Warn("Malformed generator output, retrying", "item_id", item.ID, "error", err)
			continue
		}

		prior = doc

		if problems := doc.Problems(); len(problems) > 0 {
			malformed++
			if malformed >= 2 || regenerations >= o.opts.MaxRegenerations {
				return nil, &StageError{Stage: StageGenerate, Err: doc.Check()}
			}
			slog.Warn("Generated document is not well-formed", "item_id", item.ID, "problems", len(problems))
			feedback = validator.SchemaFeedback(problems)
			continue
		}
		malformed = 0

		validateCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		result, err := o.deps.Validator.Validate(validateCtx, doc, src.Text)
		cancel()
		if err != nil {
			return nil, &StageError{Stage: StageValidate, Err: err}
		}

		if result.Valid {
			slog.Debug("Document passed validation",
				"item_id", item.ID,
				"regenerations", regenerations,
				"fact_accuracy", result.FactAccuracy,
				"similarity", result.Similarity,
				"citation_ratio", result.CitationRatio)
			return doc, nil
		}

		if regenerations >= o.opts.MaxRegenerations {
			return nil, &StageError{
				Stage: StageValidate,
				Err:   fmt.Errorf("validation failed after %d regenerations: %s", regenerations, strings.Join(result.Violations, "; ")),
			}
		}

		slog.Info("Document failed validation", "item_id", item.ID, "violations", strings.Join(result.Violations, "; "))
		feedback = validator.GenerateFeedback(result)
	}
}

// publish sends the document to the sink and records the attempt. The
// record, the article and the status change are written in one transaction.
func (o *Orchestrator) publish(ctx context.Context, item database.QueueItem, doc *document.Document, score scorer.Result, started time.Time) (database.QueueStatus, error) {
	var thumbnail []byte
	if o.deps.Thumbnailer != nil {
		data, err := o.deps.Thumbnailer.Render(doc, item.Category)
		if err != nil {
			slog.Warn("Thumbnail rendering failed", "item_id", item.ID, "error", err)
		} else {
			thumbnail = data
		}
	}

	status := publisher.Status(o.opts.Mode, score.ShouldPublish)
	record := database.PublicationRecord{
		ID:          uuid.NewString(),
		QueueItemID: item.ID,
		Action:      database.PublishAction(status),
		CreatedAt:   o.now().UTC(),
	}

	publishCtx, cancel := context.WithTimeout(ctx, o.opts.PublishTimeout)
	outcome, err := o.deps.Publisher.Publish(publishCtx, doc, thumbnail, o.opts.Mode, score.ShouldPublish)
	cancel()

	if err != nil {
		stageErr := &StageError{Stage: StagePublish, Err: err}
		record.Error = err.Error()
		record.Response = outcome.Response
		var apiErr *publisher.Error
		if errors.As(err, &apiErr) {
			record.Response = apiErr.Body
		}

		slog.Warn("Item failed", "item_id", item.ID, "stage", string(StagePublish), "error", err)
		if err := o.deps.Queue.FailPublication(ctx, record, stageErr.Error()); err != nil {
			return "", fmt.Errorf("failed to record publication failure of %s: %w", item.ID, err)
		}
		return database.StatusFailed, nil
	}

	record.Success = true
	record.PostID = outcome.PostID
	record.PostURL = outcome.PostURL
	record.Response = outcome.Response

	var article *database.Article
	if score.ShouldPublish {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("failed to encode document of %s: %w", item.ID, err)
		}
		article = &database.Article{
			ID:           uuid.NewString(),
			QueueItemID:  item.ID,
			Title:        doc.Title,
			Category:     item.Category,
			SourceURL:    item.URL,
			SourceDomain: sourceDomain(item),
			Score:        score.Score,
			Document:     string(encoded),
			PostStatus:   postStatus(outcome, status),
			PostID:       outcome.PostID,
			PostURL:      outcome.PostURL,
			PublishedAt:  o.now().UTC(),
		}
	}

	if err := o.deps.Queue.CompletePublication(ctx, record, article); err != nil {
		return "", fmt.Errorf("failed to record publication of %s: %w", item.ID, err)
	}

	slog.Info("Item published",
		"item_id", item.ID,
		"status", postStatus(outcome, status),
		"post_id", outcome.PostID,
		"score", score.Score,
		"duration", o.now().Sub(started))

	return database.StatusPublished, nil
}

func postStatus(outcome publisher.Outcome, requested string) string {
	if outcome.Status != "" {
		return outcome.Status
	}
	return requested
}

func sourceDomain(item database.QueueItem) string {
	u, err := url.Parse(item.CanonicalURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
