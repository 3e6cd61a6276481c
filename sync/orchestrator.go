package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-banksync/connector"
	"github.com/goliatone/go-banksync/core"
)

const (
	JobModeInitial     = "initial"
	JobModeIncremental = "incremental"
	JobModeWebhook     = "webhook"

	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

var ErrJobNotFound = errors.New("sync: job not found")

// Job is one scheduled sync run for a connection. Checkpoint holds
// the cursor value the run finished on.
type Job struct {
	ID                   string
	Provider             core.Provider
	ConnectionExternalID string
	Mode                 string
	Status               string
	Checkpoint           string
	Attempts             int
	LastError            string
	NextAttemptAt        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Metadata             map[string]any
}

type JobStore interface {
	Create(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, job Job) (Job, error)
}

// Syncer is the slice of the connector service the orchestrator
// drives. *connector.Service satisfies it.
type Syncer interface {
	SyncConnection(ctx context.Context, in connector.SyncInput) (connector.SyncOutcome, error)
}

// Orchestrator queues sync jobs and runs them one at a time through
// the connector. It never syncs the same connection concurrently from
// a single Run call; callers own broader serialization.
type Orchestrator struct {
	Jobs   JobStore
	Syncer Syncer
	Now    func() time.Time
}

func NewOrchestrator(jobs JobStore, syncer Syncer) *Orchestrator {
	return &Orchestrator{
		Jobs:   jobs,
		Syncer: syncer,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Enqueue creates a queued job for the connection. Mode defaults to
// incremental.
func (o *Orchestrator) Enqueue(ctx context.Context, provider core.Provider, connectionExternalID string, mode string, metadata map[string]any) (Job, error) {
	if o == nil || o.Jobs == nil {
		return Job{}, fmt.Errorf("sync: orchestrator requires a job store")
	}
	providerID := strings.TrimSpace(string(provider))
	connectionExternalID = strings.TrimSpace(connectionExternalID)
	if providerID == "" || connectionExternalID == "" {
		return Job{}, fmt.Errorf("sync: provider and connection external id are required")
	}
	mode = strings.TrimSpace(strings.ToLower(mode))
	if mode == "" {
		mode = JobModeIncremental
	}
	switch mode {
	case JobModeInitial, JobModeIncremental, JobModeWebhook:
	default:
		return Job{}, fmt.Errorf("sync: unknown job mode %q", mode)
	}

	now := o.now()
	job := Job{
		ID:                   uuid.NewString(),
		Provider:             core.Provider(providerID),
		ConnectionExternalID: connectionExternalID,
		Mode:                 mode,
		Status:               JobStatusQueued,
		CreatedAt:            now,
		UpdatedAt:            now,
		Metadata:             mergeAnyMap(nil, metadata),
	}
	return o.Jobs.Create(ctx, job)
}

// Run executes one queued job. Success records the advanced cursor as
// the checkpoint; failure records the cause and leaves the job
// re-runnable via Resume. Rate-limit failures carry the provider's
// retry hint into NextAttemptAt.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (Job, error) {
	if o == nil || o.Jobs == nil || o.Syncer == nil {
		return Job{}, fmt.Errorf("sync: orchestrator requires a job store and a syncer")
	}
	job, err := o.Jobs.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return Job{}, err
	}
	if job.Status != JobStatusQueued {
		return Job{}, fmt.Errorf("sync: job %s is %s, not queued", job.ID, job.Status)
	}

	job.Status = JobStatusRunning
	job.UpdatedAt = o.now()
	job, err = o.Jobs.Update(ctx, job)
	if err != nil {
		return Job{}, err
	}

	outcome, syncErr := o.Syncer.SyncConnection(ctx, connector.SyncInput{
		Provider:             job.Provider,
		ConnectionExternalID: job.ConnectionExternalID,
	})
	now := o.now()
	if syncErr != nil {
		job.Status = JobStatusFailed
		job.Attempts++
		job.LastError = syncErr.Error()
		job.UpdatedAt = now
		if retryAt, ok := retryHint(syncErr, now); ok {
			job.NextAttemptAt = &retryAt
		}
		updated, updateErr := o.Jobs.Update(ctx, job)
		if updateErr != nil {
			return Job{}, errors.Join(syncErr, updateErr)
		}
		return updated, syncErr
	}

	job.Status = JobStatusSucceeded
	job.Checkpoint = outcome.Cursor.Cursor
	job.LastError = ""
	job.NextAttemptAt = nil
	job.UpdatedAt = now
	job.Metadata = mergeAnyMap(job.Metadata, map[string]any{
		"added":    len(outcome.Delta.Added),
		"modified": len(outcome.Delta.Modified),
		"removed":  len(outcome.Delta.RemovedProviderTransactionIDs),
	})
	return o.Jobs.Update(ctx, job)
}

// Resume requeues a failed job. Succeeded jobs are left alone.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	if o == nil || o.Jobs == nil {
		return fmt.Errorf("sync: orchestrator requires a job store")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("sync: job id is required")
	}
	job, err := o.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case JobStatusSucceeded:
		return nil
	case JobStatusFailed:
		job.Status = JobStatusQueued
	default:
		return fmt.Errorf("sync: job %s is %s, not resumable", job.ID, job.Status)
	}
	job.UpdatedAt = o.now()
	_, err = o.Jobs.Update(ctx, job)
	return err
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func retryHint(err error, now time.Time) (time.Time, bool) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorRateLimited {
		return time.Time{}, false
	}
	ms, ok := rich.Metadata["retry_after_ms"].(int64)
	if !ok || ms <= 0 {
		return time.Time{}, false
	}
	return now.Add(time.Duration(ms) * time.Millisecond), true
}

func mergeAnyMap(left map[string]any, right map[string]any) map[string]any {
	if len(left) == 0 && len(right) == 0 {
		return map[string]any{}
	}
	merged := map[string]any{}
	for key, value := range left {
		merged[key] = value
	}
	for key, value := range right {
		merged[key] = value
	}
	return merged
}

// MemoryJobStore keeps jobs in process. Suitable for tests and
// single-node deployments.
type MemoryJobStore struct {
	mu    sync.RWMutex
	items map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{items: map[string]Job{}}
}

func (s *MemoryJobStore) Create(_ context.Context, job Job) (Job, error) {
	if s == nil {
		return Job{}, fmt.Errorf("sync: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[job.ID]; exists {
		return Job{}, fmt.Errorf("sync: job %s already exists", job.ID)
	}
	s.items[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (Job, error) {
	if s == nil {
		return Job{}, fmt.Errorf("sync: job store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Update(_ context.Context, job Job) (Job, error) {
	if s == nil {
		return Job{}, fmt.Errorf("sync: job store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[job.ID]; !ok {
		return Job{}, ErrJobNotFound
	}
	s.items[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

func cloneJob(job Job) Job {
	cloned := job
	cloned.Metadata = mergeAnyMap(job.Metadata, nil)
	if job.NextAttemptAt != nil {
		value := *job.NextAttemptAt
		cloned.NextAttemptAt = &value
	}
	return cloned
}

var _ JobStore = (*MemoryJobStore)(nil)
var _ Syncer = (*connector.Service)(nil)
