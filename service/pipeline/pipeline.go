package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rewind-fm/rewind/models"
	"github.com/rewind-fm/rewind/service/parser"
	"github.com/rewind-fm/rewind/service/resolver"
)

// DefaultMaxAttempts bounds the retries of a single step.
const DefaultMaxAttempts = 3

// JobStore persists the durable state of pipeline runs.
type JobStore interface {
	CreateJob(job *models.Job) error
	UpdateJobProgress(jobID, stage string, progress int) error
	CompleteJob(jobID string) error
	FailJob(jobID, message string) error
}

// StatsStore persists the aggregation output.
type StatsStore interface {
	SaveStatistics(userID int64, stats *models.Statistics) error
	DeleteStatistics(userID int64) error
}

// MetadataResolver enriches video ids with song metadata.
type MetadataResolver interface {
	Resolve(ctx context.Context, videoIDs []string) (map[string]*models.SongMetadata, resolver.Stats, error)
}

// Aggregator folds events and metadata into a summary.
type Aggregator interface {
	Aggregate(ctx context.Context, events []models.PlayEvent, metadata map[string]*models.SongMetadata) (*models.Statistics, error)
}

// Pipeline drives an upload through parse, resolve, aggregate and save,
// recording progress on the job after each step. Every step is
// idempotent, so a failed run can simply be submitted again.
type Pipeline struct {
	jobs        JobStore
	stats       StatsStore
	parser      *parser.Parser
	resolver    MetadataResolver
	aggregator  Aggregator
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Logger
}

func New(jobs JobStore, stats StatsStore, p *parser.Parser, r MetadataResolver, a Aggregator, maxAttempts int) *Pipeline {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Pipeline{
		jobs:        jobs,
		stats:       stats,
		parser:      p,
		resolver:    r,
		aggregator:  a,
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      log.New(os.Stdout, "pipeline: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// Start creates a job for the payload and runs it in the background.
// The returned id can be polled immediately.
func (p *Pipeline) Start(userID int64, payload []byte) (string, error) {
	jobID, err := newJobID()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}

	job := &models.Job{
		ID:     jobID,
		UserID: userID,
		Status: models.JobPending,
	}
	if err := p.jobs.CreateJob(job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	go func() {
		if err := p.Run(context.Background(), jobID, userID, payload); err != nil {
			p.logger.Printf("Job %s failed: %v", jobID, err)
		}
	}()

	return jobID, nil
}

// Run executes the pipeline synchronously. Each step is retried up to
// maxAttempts times; when a step is exhausted the job is marked failed
// and the error returned.
func (p *Pipeline) Run(ctx context.Context, jobID string, userID int64, payload []byte) error {
	var result *parser.Result
	if err := p.step(ctx, jobID, models.StageParse, 0, func() error {
		parsed, err := p.parser.ParsePayload(payload)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	}); err != nil {
		return err
	}
	p.logger.Printf("Job %s parsed %d plays from %d records (%d skipped with errors)",
		jobID, len(result.Events), result.TotalSeen, len(result.Errors))

	var metadata map[string]*models.SongMetadata
	if err := p.step(ctx, jobID, models.StageResolve, 25, func() error {
		resolved, stats, err := p.resolver.Resolve(ctx, videoIDs(result.Events))
		if err != nil {
			return err
		}
		metadata = resolved
		p.logger.Printf("Job %s resolved %d ids: %d cached, %d fetched, %d not found",
			jobID, stats.Requested, stats.Cached, stats.Fetched, stats.NotFound)
		return nil
	}); err != nil {
		return err
	}

	var summary *models.Statistics
	if err := p.step(ctx, jobID, models.StageAggregate, 60, func() error {
		aggregated, err := p.aggregator.Aggregate(ctx, result.Events, metadata)
		if err != nil {
			return err
		}
		summary = aggregated
		return nil
	}); err != nil {
		return err
	}

	// Delete-then-save makes a rerun replace the previous summary
	// instead of stacking on top of it.
	if err := p.step(ctx, jobID, models.StageSave, 90, func() error {
		if err := p.stats.DeleteStatistics(userID); err != nil {
			return err
		}
		return p.stats.SaveStatistics(userID, summary)
	}); err != nil {
		return err
	}

	if err := p.jobs.CompleteJob(jobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	p.logger.Printf("Job %s completed: %d listens aggregated", jobID, summary.TotalListens)
	return nil
}

// step records the stage being entered, runs fn with retries, and on
// exhaustion marks the job failed. entryProgress is the share of work
// already completed by the previous steps.
func (p *Pipeline) step(ctx context.Context, jobID, stage string, entryProgress int, fn func() error) error {
	if err := p.jobs.UpdateJobProgress(jobID, stage, entryProgress); err != nil {
		// Losing a progress write is not worth losing the run.
		p.logger.Printf("Job %s: failed to record stage %s: %v", jobID, stage, err)
	}

	if err := p.withRetry(ctx, jobID, stage, fn); err != nil {
		if failErr := p.jobs.FailJob(jobID, fmt.Sprintf("%s: %v", stage, err)); failErr != nil {
			p.logger.Printf("Job %s: failed to record failure: %v", jobID, failErr)
		}
		return fmt.Errorf("%s step failed: %w", stage, err)
	}
	return nil
}

func (p *Pipeline) withRetry(ctx context.Context, jobID, stage string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			return nil
		}
		p.logger.Printf("Job %s %s attempt %d/%d failed: %v", jobID, stage, attempt, p.maxAttempts, err)

		if attempt < p.maxAttempts {
			select {
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func videoIDs(events []models.PlayEvent) []string {
	ids := make([]string, 0, len(events))
	for _, event := range events {
		if event.VideoID != "" {
			ids = append(ids, event.VideoID)
		}
	}
	return ids
}

func newJobID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
