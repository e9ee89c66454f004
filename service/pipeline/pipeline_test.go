package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewind-fm/rewind/models"
	"github.com/rewind-fm/rewind/service/parser"
	"github.com/rewind-fm/rewind/service/resolver"
)

const validPayload = `[{
	"header": "YouTube Music",
	"title": "Watched Real Artist - Good Song",
	"titleUrl": "https://music.youtube.com/watch?v=abcdefghijk",
	"subtitles": [{"name": "Real Artist - Topic"}],
	"time": "2024-03-01T20:00:00Z"
}]`

type progressRecord struct {
	stage    string
	progress int
}

type fakeJobs struct {
	mu        sync.Mutex
	created   []*models.Job
	progress  []progressRecord
	completed chan string
	failures  []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{completed: make(chan string, 1)}
}

func (f *fakeJobs) CreateJob(job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobs) UpdateJobProgress(jobID, stage string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progressRecord{stage, progress})
	return nil
}

func (f *fakeJobs) CompleteJob(jobID string) error {
	f.completed <- jobID
	return nil
}

func (f *fakeJobs) FailJob(jobID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, message)
	return nil
}

type fakeStats struct {
	mu      sync.Mutex
	calls   []string
	saveErr error
}

func (f *fakeStats) SaveStatistics(userID int64, stats *models.Statistics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "save")
	return f.saveErr
}

func (f *fakeStats) DeleteStatistics(userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete")
	return nil
}

type fakeResolver struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (f *fakeResolver) Resolve(ctx context.Context, videoIDs []string) (map[string]*models.SongMetadata, resolver.Stats, error) {
	f.mu.Lock()
	f.calls++
	failing := f.calls <= f.failures
	f.mu.Unlock()

	if failing {
		return nil, resolver.Stats{}, errors.New("provider unavailable")
	}
	return map[string]*models.SongMetadata{}, resolver.Stats{Requested: len(videoIDs)}, nil
}

type fakeAggregator struct{}

func (f *fakeAggregator) Aggregate(ctx context.Context, events []models.PlayEvent, metadata map[string]*models.SongMetadata) (*models.Statistics, error) {
	return &models.Statistics{TotalListens: len(events), GeneratedAt: time.Now()}, nil
}

func newTestPipeline(jobs *fakeJobs, stats *fakeStats, r *fakeResolver, maxAttempts int) *Pipeline {
	p := New(jobs, stats, parser.New(), r, &fakeAggregator{}, maxAttempts)
	p.retryDelay = 0
	return p
}

func TestRunSuccess(t *testing.T) {
	jobs := newFakeJobs()
	stats := &fakeStats{}
	p := newTestPipeline(jobs, stats, &fakeResolver{}, 3)

	if err := p.Run(context.Background(), "job1", 1, []byte(validPayload)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantProgress := []progressRecord{
		{models.StageParse, 0},
		{models.StageResolve, 25},
		{models.StageAggregate, 60},
		{models.StageSave, 90},
	}
	if len(jobs.progress) != len(wantProgress) {
		t.Fatalf("recorded %d progress updates, want %d: %+v", len(jobs.progress), len(wantProgress), jobs.progress)
	}
	for i, want := range wantProgress {
		if jobs.progress[i] != want {
			t.Errorf("progress[%d] = %+v, want %+v", i, jobs.progress[i], want)
		}
	}

	select {
	case id := <-jobs.completed:
		if id != "job1" {
			t.Errorf("completed job %q, want job1", id)
		}
	default:
		t.Error("job was never completed")
	}

	// The old summary is removed before the new one lands.
	if len(stats.calls) != 2 || stats.calls[0] != "delete" || stats.calls[1] != "save" {
		t.Errorf("stats calls = %v, want [delete save]", stats.calls)
	}
}

func TestRunTerminalParseFailure(t *testing.T) {
	jobs := newFakeJobs()
	p := newTestPipeline(jobs, &fakeStats{}, &fakeResolver{}, 1)

	err := p.Run(context.Background(), "job1", 1, []byte(`{"not": "an array"}`))
	if err == nil {
		t.Fatal("Run() with malformed payload should fail")
	}

	if len(jobs.failures) != 1 {
		t.Fatalf("recorded %d failures, want 1", len(jobs.failures))
	}
	if !strings.HasPrefix(jobs.failures[0], models.StageParse+":") {
		t.Errorf("failure message = %q, want %s prefix", jobs.failures[0], models.StageParse)
	}
}

func TestRunRetriesTransientFailure(t *testing.T) {
	jobs := newFakeJobs()
	r := &fakeResolver{failures: 2}
	p := newTestPipeline(jobs, &fakeStats{}, r, 3)

	if err := p.Run(context.Background(), "job1", 1, []byte(validPayload)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r.calls != 3 {
		t.Errorf("resolver called %d times, want 3", r.calls)
	}
	if len(jobs.failures) != 0 {
		t.Errorf("job failed despite eventual success: %v", jobs.failures)
	}
}

func TestRunFailsAfterExhaustedRetries(t *testing.T) {
	jobs := newFakeJobs()
	r := &fakeResolver{failures: 10}
	p := newTestPipeline(jobs, &fakeStats{}, r, 2)

	err := p.Run(context.Background(), "job1", 1, []byte(validPayload))
	if err == nil {
		t.Fatal("Run() should fail when retries are exhausted")
	}
	if r.calls != 2 {
		t.Errorf("resolver called %d times, want 2", r.calls)
	}
	if len(jobs.failures) != 1 || !strings.HasPrefix(jobs.failures[0], models.StageResolve+":") {
		t.Errorf("failures = %v, want one %s failure", jobs.failures, models.StageResolve)
	}
}

func TestStart(t *testing.T) {
	jobs := newFakeJobs()
	p := newTestPipeline(jobs, &fakeStats{}, &fakeResolver{}, 3)

	jobID, err := p.Start(1, []byte(validPayload))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if jobID == "" {
		t.Fatal("Start() returned empty job id")
	}
	if len(jobs.created) != 1 || jobs.created[0].ID != jobID {
		t.Fatalf("created jobs = %+v, want one with id %s", jobs.created, jobID)
	}
	if jobs.created[0].Status != models.JobPending {
		t.Errorf("initial status = %q, want %q", jobs.created[0].Status, models.JobPending)
	}

	select {
	case id := <-jobs.completed:
		if id != jobID {
			t.Errorf("completed job %q, want %q", id, jobID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestStartUniqueJobIDs(t *testing.T) {
	jobs := newFakeJobs()
	jobs.completed = make(chan string, 10)
	p := newTestPipeline(jobs, &fakeStats{}, &fakeResolver{}, 3)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		jobID, err := p.Start(1, []byte(`[]`))
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if seen[jobID] {
			t.Fatalf("duplicate job id %s", jobID)
		}
		seen[jobID] = true
	}
}
