package core

import (
	"context"
	"io"
	"time"

	"github.com/leadforge/leadforge/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// Enqueue moves an uploaded job to pending so a worker can reserve it,
	// committing startLine to the job's log in the same transaction.
	// Returns false when the job was not in the uploaded status.
	Enqueue(ctx context.Context, id, startLine string) (bool, error)
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id, resultKey string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	AppendLog(ctx context.Context, id, line string) error
	Logs(ctx context.Context, id string) ([]string, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// CacheRepository defines the interface for byte-oriented cache operations.
type CacheRepository interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// FormatTracker records observed email format usage per company domain and
// reports the dominant format for a domain.
type FormatTracker interface {
	RecordFormat(ctx context.Context, domain, localPattern string) error
	DominantFormat(ctx context.Context, domain string) (string, error)
}

// FileStore persists uploaded and processed workbooks.
type FileStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadSeekCloser, error)
}
