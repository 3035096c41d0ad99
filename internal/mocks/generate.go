// Package mocks provides mock implementations for testing the leadforge job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, Enqueue, ReserveNext, WaitForNotification, Heartbeat, Complete, Fail, AppendLog, Logs, Stats
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/leadforge/leadforge/internal/core JobRepository

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Set, Get, Delete
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/leadforge/leadforge/internal/core CacheRepository

// Generate mock for FormatTracker interface from internal/core package.
// This creates MockFormatTracker with methods for all FormatTracker interface methods:
// RecordFormat, DominantFormat
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=format_tracker_mock.go github.com/leadforge/leadforge/internal/core FormatTracker

// Generate mock for FileStore interface from internal/core package.
// This creates MockFileStore with methods for all FileStore interface methods:
// Write, Read, Exists, Open
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=file_store_mock.go github.com/leadforge/leadforge/internal/core FileStore
