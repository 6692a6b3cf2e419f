package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IntegrationRepository persists Integration aggregates.
// Implementations must enforce uniqueness of (OrganizationID, ProviderID).
type IntegrationRepository interface {
	// Create inserts a new integration, returning ErrIntegrationAlreadyExists on a duplicate pair
	Create(ctx context.Context, integration *Integration) error

	// SaveSettings writes the schedule and capability selection only
	SaveSettings(ctx context.Context, integration *Integration) error

	// MarkDisconnected moves an integration to disconnected unless a sync
	// holds it, in which case it returns ErrSyncInProgress
	MarkDisconnected(ctx context.Context, id uuid.UUID, at time.Time) error

	// FindByID returns ErrIntegrationNotFound if absent
	FindByID(ctx context.Context, id uuid.UUID) (*Integration, error)

	// FindByOrganizationAndProvider returns ErrIntegrationNotFound if absent
	FindByOrganizationAndProvider(ctx context.Context, organizationID, providerID string) (*Integration, error)

	// FindByOrganization lists every integration of an organization
	FindByOrganization(ctx context.Context, organizationID string) ([]Integration, error)

	// FindScheduled lists connected integrations whose schedule is not manual
	FindScheduled(ctx context.Context) ([]Integration, error)

	// FindStaleSyncing lists integrations stuck in syncing since before cutoff
	FindStaleSyncing(ctx context.Context, cutoff time.Time) ([]Integration, error)

	// TryBeginSync atomically moves an integration from connected or error to
	// syncing. It returns ErrSyncInProgress if another sync holds it, and
	// ErrIntegrationDisconnected or ErrIntegrationNotFound as appropriate.
	TryBeginSync(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// FinishSync writes the outcome of the sync that began at startedAt. The
	// write only lands while that sync still holds the integration; otherwise
	// it returns ErrSyncSuperseded and nothing changes.
	FinishSync(ctx context.Context, integration *Integration, startedAt time.Time) error

	// ResetStaleSync writes the failed state of a sync that has been running
	// since before cutoff. It returns ErrSyncSuperseded if the row finished or
	// restarted after it was read.
	ResetStaleSync(ctx context.Context, integration *Integration, cutoff time.Time) error
}
