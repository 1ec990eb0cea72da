package memory

import (
	"context"
	"sync"

	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

// UsageStore implements workspace.UsageStore with an in-memory slice.
// Thread-safe for concurrent access via sync.RWMutex.
type UsageStore struct {
	records []workspace.UsageRecord
	mu      sync.RWMutex
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

// Record appends a usage record.
func (s *UsageStore) Record(ctx context.Context, rec workspace.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	return nil
}

// ListByWorkspace returns records for a workspace, newest first, up to limit.
// A limit of zero or less means no limit.
func (s *UsageStore) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]workspace.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []workspace.UsageRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].WorkspaceID != workspaceID {
			continue
		}
		result = append(result, s.records[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Compile-time interface verification.
var _ workspace.UsageStore = (*UsageStore)(nil)
