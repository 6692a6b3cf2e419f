package storage

import (
	"context"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// NoopSyncArchive discards results. It is used when archiving is disabled.
type NoopSyncArchive struct{}

var _ appintegration.SyncArchive = NoopSyncArchive{}

// Archive does nothing
func (NoopSyncArchive) Archive(context.Context, *integration.Integration, *integration.SyncResult) error {
	return nil
}
