package memory

import (
	"context"
	"sync"

	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
)

// AlertStore implements pipeline.AlertStore with an in-memory slice.
// Append-only: records are never updated or removed once stored.
// Thread-safe for concurrent access via sync.RWMutex.
type AlertStore struct {
	alerts []pipeline.Alert
	mu     sync.RWMutex
}

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{}
}

// Append stores alerts.
func (s *AlertStore) Append(ctx context.Context, alerts ...pipeline.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, alerts...)
	return nil
}

// ListByWorkspace returns alerts for a workspace, newest first, up to limit.
// A limit of zero or less means no limit.
func (s *AlertStore) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]pipeline.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []pipeline.Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].WorkspaceID != workspaceID {
			continue
		}
		result = append(result, s.alerts[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Compile-time interface verification.
var _ pipeline.AlertStore = (*AlertStore)(nil)
