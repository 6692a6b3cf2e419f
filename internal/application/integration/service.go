// Package integration orchestrates the lifecycle of tenant integrations with
// external church management systems: connect, disconnect, sync and schedule.
package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/logger"
	"github.com/churchsync/chms-integration/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// SyncLock is an optional cross-process guard taken before the database
// check-and-set. Acquire returns false if another holder has the key;
// otherwise it returns the holder token that Release must present. Release
// with a token that no longer owns the key leaves the key alone.
type SyncLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) error
}

// SyncArchive stores the records of each successful capability
type SyncArchive interface {
	Archive(ctx context.Context, i *integration.Integration, result *integration.SyncResult) error
}

// SyncObserver is told the outcome of every sync run that reached the
// provider, and of every stale sync the watchdog reset. Observers must not block.
type SyncObserver interface {
	ObserveSync(ctx context.Context, o SyncObservation)
}

// SyncObservation is the outcome of one sync run as seen by a SyncObserver
type SyncObservation struct {
	IntegrationID  uuid.UUID
	OrganizationID string
	ProviderID     string
	Trigger        SyncTrigger
	Status         integration.Status
	Error          string
	Duration       time.Duration
	FinishedAt     time.Time
}

// Failed reports whether the run left the integration in the error state
func (o SyncObservation) Failed() bool {
	return o.Status == integration.StatusError
}

// SyncPolicy decides what happens after a capability fails
type SyncPolicy string

const (
	// SyncPolicyFailFast stops at the first failing capability
	SyncPolicyFailFast SyncPolicy = "fail_fast"
	// SyncPolicyIsolated runs every capability and reports all failures together
	SyncPolicyIsolated SyncPolicy = "isolated"
)

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service is the integration orchestrator
type Service struct {
	repo     integration.IntegrationRepository
	registry integration.ProviderRegistry
	factory  integration.AdapterFactory
	cipher   integration.CredentialCipher
	lock     SyncLock
	archive  SyncArchive
	metrics  *telemetry.SyncMetrics
	observer SyncObserver
	policy   SyncPolicy
	lockTTL  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithSyncLock adds a distributed lock in front of TryBeginSync
func WithSyncLock(lock SyncLock, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.lock = lock
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithSyncArchive archives every successful capability result
func WithSyncArchive(archive SyncArchive) ServiceOption {
	return func(s *Service) {
		s.archive = archive
	}
}

// WithSyncMetrics records sync metrics
func WithSyncMetrics(m *telemetry.SyncMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSyncObserver reports every finished sync to o
func WithSyncObserver(o SyncObserver) ServiceOption {
	return func(s *Service) {
		s.observer = o
	}
}

// WithSyncPolicy sets the capability failure policy
func WithSyncPolicy(p SyncPolicy) ServiceOption {
	return func(s *Service) {
		if p == SyncPolicyIsolated {
			s.policy = p
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the integration orchestrator
func NewService(
	repo integration.IntegrationRepository,
	registry integration.ProviderRegistry,
	factory integration.AdapterFactory,
	cipher integration.CredentialCipher,
	zapLogger *zap.Logger,
	opts ...ServiceOption,
) *Service {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	s := &Service{
		repo:     repo,
		registry: registry,
		factory:  factory,
		cipher:   cipher,
		policy:   SyncPolicyFailFast,
		lockTTL:  16 * time.Minute,
		now:      time.Now,
		logger:   zapLogger.Named("integration"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListProviders returns the providers a tenant on tier may connect
func (s *Service) ListProviders(tier integration.Tier) []integration.ProviderDefinition {
	return integration.ProvidersForTier(s.registry, tier)
}

// ConnectIntegration validates credentials against the provider and stores
// a new connected integration with the credentials encrypted.
func (s *Service) ConnectIntegration(ctx context.Context, req ConnectRequest) (*IntegrationResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "integration.connect",
		telemetry.WithAttribute(telemetry.SpanAttrOrganizationID, req.OrganizationID),
		telemetry.WithAttribute(telemetry.SpanAttrProvider, req.ProviderID),
	)
	defer span.End()

	if req.OrganizationID == "" {
		return nil, integration.ErrInvalidOrganizationID
	}
	def, ok := s.registry.Get(req.ProviderID)
	if !ok {
		return nil, integration.ErrUnknownProvider
	}

	_, err := s.repo.FindByOrganizationAndProvider(ctx, req.OrganizationID, req.ProviderID)
	switch {
	case err == nil:
		return nil, integration.ErrIntegrationAlreadyExists
	case !errors.Is(err, integration.ErrIntegrationNotFound):
		telemetry.RecordError(span, err)
		return nil, err
	}

	adapter, err := s.factory.NewAdapter(def.ID, req.Credentials)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := adapter.ValidateCredentials(ctx); err != nil {
		telemetry.RecordError(span, err)
		logger.WithLogger(ctx, s.logger).Warn("Credential validation failed",
			zap.String("organization_id", req.OrganizationID),
			zap.String("provider", def.ID),
			zap.String("error_kind", integration.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, err
	}

	plain, err := integration.MarshalCredentials(req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	encrypted, err := s.cipher.EncryptAuthData(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	i, err := integration.NewIntegration(req.OrganizationID, def, encrypted)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, i); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logger.WithLogger(ctx, s.logger).Info("Integration connected",
		zap.String("integration_id", i.ID.String()),
		zap.String("organization_id", i.OrganizationID),
		zap.String("provider", i.ProviderID),
	)
	resp := ToIntegrationResponse(i)
	return &resp, nil
}

// DisconnectIntegration marks an integration disconnected. The row, its
// credentials blob and its last stats are kept.
func (s *Service) DisconnectIntegration(ctx context.Context, id uuid.UUID) error {
	i, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	if err := i.Disconnect(now); err != nil {
		return err
	}
	if err := s.repo.MarkDisconnected(ctx, i.ID, now); err != nil {
		return err
	}
	logger.WithLogger(ctx, s.logger).Info("Integration disconnected",
		zap.String("integration_id", i.ID.String()),
		zap.String("provider", i.ProviderID),
	)
	return nil
}

// ListIntegrations lists an organization's integrations
func (s *Service) ListIntegrations(ctx context.Context, organizationID string) ([]IntegrationResponse, error) {
	if organizationID == "" {
		return nil, integration.ErrInvalidOrganizationID
	}
	items, err := s.repo.FindByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	out := make([]IntegrationResponse, len(items))
	for idx := range items {
		out[idx] = ToIntegrationResponse(&items[idx])
	}
	return out, nil
}

// GetIntegration returns the organization's integration with a provider
func (s *Service) GetIntegration(ctx context.Context, organizationID, providerID string) (*IntegrationResponse, error) {
	i, err := s.repo.FindByOrganizationAndProvider(ctx, organizationID, providerID)
	if err != nil {
		return nil, err
	}
	resp := ToIntegrationResponse(i)
	return &resp, nil
}

// GetIntegrationByID returns an integration by id
func (s *Service) GetIntegrationByID(ctx context.Context, id uuid.UUID) (*IntegrationResponse, error) {
	i, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToIntegrationResponse(i)
	return &resp, nil
}

// UpdateSettings replaces the schedule and capability selection
func (s *Service) UpdateSettings(ctx context.Context, id uuid.UUID, req UpdateSettingsRequest) (*IntegrationResponse, error) {
	i, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	def, ok := s.registry.Get(i.ProviderID)
	if !ok {
		return nil, integration.ErrUnknownProvider
	}
	if err := i.UpdateSettings(def, integration.Settings{
		SyncSchedule:     req.SyncSchedule,
		SyncCapabilities: req.SyncCapabilities,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.SaveSettings(ctx, i); err != nil {
		return nil, err
	}
	resp := ToIntegrationResponse(i)
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

// TriggerSync runs one sync of an integration. At most one sync runs per
// integration; a concurrent call returns ErrSyncInProgress without touching
// the provider. A failed run leaves the integration in the error state with
// the causing message and returns the adapter's error unchanged.
func (s *Service) TriggerSync(ctx context.Context, req TriggerSyncRequest) (*SyncResponse, error) {
	// The start time fences the terminal write, so it is kept at the
	// precision the database stores.
	start := s.now().Truncate(time.Microsecond)
	trigger := req.Trigger
	if trigger == "" {
		trigger = SyncTriggerManual
	}

	i, err := s.repo.FindByID(ctx, req.IntegrationID)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithIntegration(ctx, i.ID.String(), i.ProviderID)
	ctx = logger.WithOrganizationID(ctx, i.OrganizationID)
	ctx, span := telemetry.StartSpan(ctx, "integration.trigger_sync",
		telemetry.WithAttribute(telemetry.SpanAttrIntegrationID, i.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrProvider, i.ProviderID),
		telemetry.WithAttribute("trigger", string(trigger)),
	)
	defer span.End()
	log := logger.WithLogger(ctx, s.logger)

	def, ok := s.registry.Get(i.ProviderID)
	if !ok {
		return nil, integration.ErrUnknownProvider
	}
	capabilities, err := s.resolveCapabilities(def, i, req.Capabilities)
	if err != nil {
		return nil, err
	}

	if s.lock != nil {
		key := syncLockKey(i.ID)
		token, acquired, err := s.lock.Acquire(ctx, key, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire sync lock: %w", err)
		}
		if !acquired {
			s.metrics.RecordSync(ctx, i.ProviderID, string(trigger), telemetry.OutcomeSkipped, 0)
			return nil, integration.ErrSyncInProgress
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn("Failed to release sync lock", zap.Error(err))
			}
		}()
	}

	if err := s.repo.TryBeginSync(ctx, i.ID, start); err != nil {
		if errors.Is(err, integration.ErrSyncInProgress) {
			s.metrics.RecordSync(ctx, i.ProviderID, string(trigger), telemetry.OutcomeSkipped, 0)
			log.Info("Sync already in progress, skipping")
		}
		return nil, err
	}
	// mirror the conditional update on the loaded aggregate
	i.Status = integration.StatusSyncing
	i.SyncStartedAt = &start

	log.Info("Sync started", zap.Strings("capabilities", capabilityNames(capabilities)))

	resp, syncErr := s.runSync(ctx, i, start, capabilities)
	outcome := telemetry.OutcomeSuccess
	switch {
	case errors.Is(syncErr, integration.ErrSyncSuperseded):
		outcome = telemetry.OutcomeSkipped
		telemetry.RecordError(span, syncErr)
	case syncErr != nil:
		outcome = telemetry.OutcomeFailure
		telemetry.RecordError(span, syncErr)
	default:
		telemetry.SetOK(span)
	}
	elapsed := s.now().Sub(start)
	s.metrics.RecordSync(ctx, i.ProviderID, string(trigger), outcome, elapsed)
	if outcome != telemetry.OutcomeSkipped {
		s.observe(ctx, i, trigger, elapsed)
	}
	return resp, syncErr
}

// observe hands the recorded state of i to the observer
func (s *Service) observe(ctx context.Context, i *integration.Integration, trigger SyncTrigger, d time.Duration) {
	if s.observer == nil {
		return
	}
	o := SyncObservation{
		IntegrationID:  i.ID,
		OrganizationID: i.OrganizationID,
		ProviderID:     i.ProviderID,
		Trigger:        trigger,
		Status:         i.Status,
		Duration:       d,
		FinishedAt:     s.now(),
	}
	if i.SyncError != nil {
		o.Error = *i.SyncError
	}
	s.observer.ObserveSync(ctx, o)
}

// runSync executes the capabilities of a sync that already holds the
// syncing state and always leaves the integration out of it.
func (s *Service) runSync(ctx context.Context, i *integration.Integration, startedAt time.Time, capabilities []integration.Capability) (*SyncResponse, error) {
	log := logger.WithLogger(ctx, s.logger)
	resp := &SyncResponse{}

	adapter, err := s.buildAdapter(i)
	if err != nil {
		return s.finishFailed(ctx, i, startedAt, resp, err)
	}

	var failures error
	for _, c := range capabilities {
		if ctx.Err() != nil {
			return s.finishFailed(ctx, i, startedAt, resp, multierr.Append(failures, ctx.Err()))
		}

		result, err := s.syncCapability(ctx, adapter, i, c)
		if err != nil {
			i.RecordCapability(c, 0, true)
			if s.policy != SyncPolicyIsolated {
				return s.finishFailed(ctx, i, startedAt, resp, err)
			}
			failures = multierr.Append(failures, err)
			continue
		}

		i.RecordCapability(c, result.Count, false)
		resp.Results = append(resp.Results, result)
		if s.archive != nil {
			if err := s.archive.Archive(ctx, i, result); err != nil {
				log.Warn("Failed to archive sync result",
					zap.String("capability", c.String()),
					zap.Error(err),
				)
			}
		}
	}
	if failures != nil {
		return s.finishFailed(ctx, i, startedAt, resp, failures)
	}

	i.CompleteSync(s.now())
	if err := s.repo.FinishSync(context.WithoutCancel(ctx), i, startedAt); err != nil {
		if errors.Is(err, integration.ErrSyncSuperseded) {
			log.Warn("Sync finished after losing the integration, result not recorded")
			return nil, err
		}
		return nil, fmt.Errorf("save completed sync: %w", err)
	}
	log.Info("Sync completed", zap.Int("capabilities", len(resp.Results)))
	resp.Integration = ToIntegrationResponse(i)
	return resp, nil
}

func (s *Service) syncCapability(
	ctx context.Context,
	adapter integration.ProviderAdapter,
	i *integration.Integration,
	c integration.Capability,
) (*integration.SyncResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "integration.sync_capability",
		telemetry.WithAttribute(telemetry.SpanAttrCapability, c.String()),
	)
	defer span.End()

	result, err := integration.SyncCapability(ctx, adapter, c)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordCapabilityError(ctx, i.ProviderID, c.String(), integration.KindOf(err).String())
		logger.WithLogger(ctx, s.logger).Warn("Capability sync failed",
			zap.String("capability", c.String()),
			zap.String("error_kind", integration.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrRecordCount, result.Count,
		telemetry.SpanAttrInvalidCount, result.Invalid,
	)
	s.metrics.RecordCapability(ctx, i.ProviderID, c.String(), result.Count, result.Invalid)
	return result, nil
}

// finishFailed writes the error state once and returns cause unchanged. The
// write ignores cancellation of ctx so an abandoned caller cannot leave the
// integration stuck in syncing. A run that no longer owns the integration
// leaves the row alone.
func (s *Service) finishFailed(ctx context.Context, i *integration.Integration, startedAt time.Time, resp *SyncResponse, cause error) (*SyncResponse, error) {
	i.FailSync(s.now(), syncErrorMessage(cause))
	if err := s.repo.FinishSync(context.WithoutCancel(ctx), i, startedAt); err != nil {
		if errors.Is(err, integration.ErrSyncSuperseded) {
			logger.WithLogger(ctx, s.logger).Warn("Sync failed after losing the integration, failure not recorded",
				zap.Error(cause),
			)
			return resp, cause
		}
		logger.WithLogger(ctx, s.logger).Error("Failed to record sync failure",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
	logger.WithLogger(ctx, s.logger).Warn("Sync failed", zap.Error(cause))
	resp.Integration = ToIntegrationResponse(i)
	return resp, cause
}

// buildAdapter decrypts credentials and constructs a fresh adapter for one run
func (s *Service) buildAdapter(i *integration.Integration) (integration.ProviderAdapter, error) {
	plain, err := s.cipher.DecryptAuthData(i.AuthData)
	if err != nil {
		return nil, err
	}
	creds, err := integration.UnmarshalCredentials(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrAuthDataCorrupted, err)
	}
	return s.factory.NewAdapter(i.ProviderID, creds)
}

func (s *Service) resolveCapabilities(def integration.ProviderDefinition, i *integration.Integration, requested []integration.Capability) ([]integration.Capability, error) {
	capabilities := requested
	if len(capabilities) == 0 {
		capabilities = i.Settings.SyncCapabilities
	}
	if len(capabilities) == 0 {
		return nil, integration.ErrNoCapabilities
	}
	for _, c := range capabilities {
		if !def.Supports(c) {
			return nil, integration.ErrUnsupportedCapability
		}
	}
	return capabilities, nil
}

// ---------------------------------------------------------------------------
// Scheduling and liveness
// ---------------------------------------------------------------------------

// ScheduleSyncJobs lists connected integrations whose schedule is not manual.
// It selects candidates only; nothing is run.
func (s *Service) ScheduleSyncJobs(ctx context.Context) ([]SyncJob, error) {
	items, err := s.repo.FindScheduled(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]SyncJob, 0, len(items))
	for idx := range items {
		if items[idx].IsScheduled() {
			jobs = append(jobs, toSyncJob(&items[idx]))
		}
	}
	return jobs, nil
}

// DueSyncJobs narrows ScheduleSyncJobs to integrations whose interval has elapsed
func (s *Service) DueSyncJobs(ctx context.Context) ([]SyncJob, error) {
	items, err := s.repo.FindScheduled(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var jobs []SyncJob
	for idx := range items {
		if items[idx].IsDue(now) {
			jobs = append(jobs, toSyncJob(&items[idx]))
		}
	}
	return jobs, nil
}

// RecoverStaleSyncs moves integrations stuck in syncing for longer than
// maxAge to the error state and returns how many were reset.
func (s *Service) RecoverStaleSyncs(ctx context.Context, maxAge time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-maxAge)
	items, err := s.repo.FindStaleSyncing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	var (
		recovered int
		errs      error
	)
	for idx := range items {
		i := &items[idx]
		if !i.IsStale(now, maxAge) {
			continue
		}
		i.FailSync(now, fmt.Sprintf("sync abandoned: no progress for more than %s", maxAge))
		if err := s.repo.ResetStaleSync(ctx, i, cutoff); err != nil {
			if errors.Is(err, integration.ErrSyncSuperseded) {
				// finished or restarted since it was read
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("integration %s: %w", i.ID, err))
			continue
		}
		recovered++
		s.metrics.RecordStaleRecovered(ctx, i.ProviderID)
		s.observe(ctx, i, SyncTriggerWatchdog, 0)
		s.logger.Warn("Recovered stale sync",
			zap.String("integration_id", i.ID.String()),
			zap.String("provider", i.ProviderID),
		)
	}
	return recovered, errs
}

// GetIntegrationStatus checks the provider with the stored credentials.
// Nothing is persisted.
func (s *Service) GetIntegrationStatus(ctx context.Context, id uuid.UUID) (*integration.ProviderStatus, error) {
	i, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if i.Status == integration.StatusDisconnected {
		return nil, integration.ErrIntegrationDisconnected
	}
	adapter, err := s.buildAdapter(i)
	if err != nil {
		return nil, err
	}
	status, err := adapter.GetIntegrationStatus(ctx)
	if err != nil {
		return nil, err
	}
	if i.LastSyncDate != nil {
		status.LastSync = *i.LastSyncDate
	}
	return status, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func syncLockKey(id uuid.UUID) string {
	return "sync:" + id.String()
}

// syncErrorMessage is the text stored in syncError. Classified failures store
// their message without the provider prefix.
func syncErrorMessage(err error) string {
	if len(multierr.Errors(err)) > 1 {
		return err.Error()
	}
	if pe, ok := integration.AsProviderError(err); ok {
		return pe.Message
	}
	return err.Error()
}

func capabilityNames(cs []integration.Capability) []string {
	out := make([]string, len(cs))
	for idx, c := range cs {
		out[idx] = c.String()
	}
	return out
}

func toSyncJob(i *integration.Integration) SyncJob {
	return SyncJob{
		IntegrationID:  i.ID,
		OrganizationID: i.OrganizationID,
		ProviderID:     i.ProviderID,
		Schedule:       i.Settings.SyncSchedule,
		Capabilities:   append([]integration.Capability(nil), i.Settings.SyncCapabilities...),
		LastSyncDate:   i.LastSyncDate,
	}
}
