// Package core provides the business logic contracts for the leadforge pipeline system.
package core

import (
	"github.com/leadforge/leadforge/internal/domain/model"
)

// JobStatus is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type JobStatus = model.JobStatus

// CreateJobRequest is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type CreateJobRequest = model.CreateJobRequest
