package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/persistence/models"
)

// GormIntegrationRepository implements IntegrationRepository using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

var _ integration.IntegrationRepository = (*GormIntegrationRepository)(nil)

// NewGormIntegrationRepository creates a new GormIntegrationRepository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormIntegrationRepository) WithTx(tx *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: tx}
}

// Create inserts a new integration. A row for the same organization and
// provider makes the insert a no-op, which is reported as already exists.
func (r *GormIntegrationRepository) Create(ctx context.Context, i *integration.Integration) error {
	model, err := models.IntegrationModelFromDomain(i)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "provider_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrIntegrationAlreadyExists
	}
	return nil
}

// SaveSettings writes the schedule and capability selection. Status and sync
// bookkeeping are left to the conditional writes below.
func (r *GormIntegrationRepository) SaveSettings(ctx context.Context, i *integration.Integration) error {
	model, err := models.IntegrationModelFromDomain(i)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.IntegrationModel{}).
		Where("id = ?", i.ID).
		Updates(map[string]any{
			"sync_schedule":     model.SyncSchedule,
			"sync_capabilities": model.CapabilitiesJSON,
			"updated_at":        model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrIntegrationNotFound
	}
	return nil
}

// MarkDisconnected moves an integration to disconnected in one conditional
// UPDATE so a sync that started after the caller read the row is not lost.
func (r *GormIntegrationRepository) MarkDisconnected(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.IntegrationModel{}).
		Where("id = ? AND status <> ?", id, integration.StatusSyncing.String()).
		Updates(map[string]any{
			"status":     integration.StatusDisconnected.String(),
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}
	status, err := r.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == integration.StatusSyncing {
		return integration.ErrSyncInProgress
	}
	return integration.ErrInvalidStatusTransition
}

// FindByID finds an integration by its ID
func (r *GormIntegrationRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByOrganizationAndProvider finds the integration for one tenant and provider
func (r *GormIntegrationRepository) FindByOrganizationAndProvider(ctx context.Context, organizationID, providerID string) (*integration.Integration, error) {
	var model models.IntegrationModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND provider_id = ?", organizationID, providerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByOrganization lists an organization's integrations ordered by provider
func (r *GormIntegrationRepository) FindByOrganization(ctx context.Context, organizationID string) ([]integration.Integration, error) {
	var rows []models.IntegrationModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("provider_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(rows), nil
}

// FindScheduled lists connected integrations with a periodic schedule
func (r *GormIntegrationRepository) FindScheduled(ctx context.Context) ([]integration.Integration, error) {
	var rows []models.IntegrationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND sync_schedule <> ?", integration.StatusConnected.String(), integration.SyncScheduleManual.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(rows), nil
}

// FindStaleSyncing lists integrations that entered syncing before cutoff
func (r *GormIntegrationRepository) FindStaleSyncing(ctx context.Context, cutoff time.Time) ([]integration.Integration, error) {
	var rows []models.IntegrationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND COALESCE(sync_started_at, updated_at) < ?", integration.StatusSyncing.String(), cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(rows), nil
}

// TryBeginSync moves an integration into syncing with a single conditional
// UPDATE, so two concurrent callers cannot both win.
func (r *GormIntegrationRepository) TryBeginSync(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.IntegrationModel{}).
		Where("id = ? AND status IN ?", id, statusStrings(integration.SyncableStatuses())).
		Updates(map[string]any{
			"status":          integration.StatusSyncing.String(),
			"sync_started_at": startedAt,
			"updated_at":      startedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	status, err := r.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	switch status {
	case integration.StatusSyncing:
		return integration.ErrSyncInProgress
	case integration.StatusDisconnected:
		return integration.ErrIntegrationDisconnected
	default:
		return integration.ErrInvalidStatusTransition
	}
}

// FinishSync writes the terminal state of a sync. The start time fences the
// write: a run that was reset by the watchdog, or replaced by a newer run,
// no longer matches and gets ErrSyncSuperseded. Settings and credentials are
// not touched.
func (r *GormIntegrationRepository) FinishSync(ctx context.Context, i *integration.Integration, startedAt time.Time) error {
	model, err := models.IntegrationModelFromDomain(i)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.IntegrationModel{}).
		Where("id = ? AND status = ? AND sync_started_at = ?", i.ID, integration.StatusSyncing.String(), startedAt).
		Updates(syncOutcomeColumns(model))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrSyncSuperseded
	}
	return nil
}

// ResetStaleSync fails a sync only if the row is still syncing since before cutoff
func (r *GormIntegrationRepository) ResetStaleSync(ctx context.Context, i *integration.Integration, cutoff time.Time) error {
	model, err := models.IntegrationModelFromDomain(i)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.IntegrationModel{}).
		Where("id = ? AND status = ? AND COALESCE(sync_started_at, updated_at) < ?", i.ID, integration.StatusSyncing.String(), cutoff).
		Updates(syncOutcomeColumns(model))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrSyncSuperseded
	}
	return nil
}

func syncOutcomeColumns(model *models.IntegrationModel) map[string]any {
	return map[string]any{
		"status":          model.Status,
		"last_sync_date":  model.LastSyncDate,
		"sync_error":      model.SyncError,
		"sync_stats":      model.SyncStatsJSON,
		"sync_started_at": model.SyncStartedAt,
		"updated_at":      model.UpdatedAt,
	}
}

func (r *GormIntegrationRepository) currentStatus(ctx context.Context, id uuid.UUID) (integration.Status, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).Select("status").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", integration.ErrIntegrationNotFound
		}
		return "", err
	}
	return integration.Status(model.Status), nil
}

func toDomainList(rows []models.IntegrationModel) []integration.Integration {
	out := make([]integration.Integration, len(rows))
	for idx := range rows {
		out[idx] = *rows[idx].ToDomain()
	}
	return out
}

func statusStrings(statuses []integration.Status) []string {
	out := make([]string, len(statuses))
	for idx, s := range statuses {
		out[idx] = s.String()
	}
	return out
}
