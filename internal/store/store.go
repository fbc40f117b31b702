package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/internal/model"
)

// ErrNotFound is returned when no run or registration exists for the
// given key.
var ErrNotFound = errors.New("store: not found")

// Registration binds a repository to its pipeline definition. The raw
// Pipefile text is kept alongside the parsed definition so the binding
// survives a restart byte for byte.
type Registration struct {
	Repo       string
	Pipefile   string
	Definition *model.PipelineDefinition
	UpdatedAt  time.Time
}

// Store persists run records and repository registrations. SaveRun is
// an upsert keyed by run id: the scheduler writes a fresh snapshot on
// every transition and the last write wins. Implementations must be
// safe for concurrent use.
type Store interface {
	SaveRun(ctx context.Context, rec model.RunRecord) error
	// Run returns the stored record, or ErrNotFound.
	Run(ctx context.Context, id uuid.UUID) (model.RunRecord, error)
	// Runs returns up to limit records for the repository, most recent
	// first. An empty repo lists runs across all repositories.
	// limit <= 0 means no limit.
	Runs(ctx context.Context, repo string, limit int) ([]model.RunRecord, error)

	SaveRegistration(ctx context.Context, reg Registration) error
	// Registration returns the repository's binding, or ErrNotFound.
	Registration(ctx context.Context, repo string) (Registration, error)
	// DeleteRegistration removes the binding; deleting an unknown
	// repository is ErrNotFound.
	DeleteRegistration(ctx context.Context, repo string) error
	// Registrations returns all bindings ordered by repository name.
	Registrations(ctx context.Context) ([]Registration, error)

	Close() error
}
