package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// PushRequest carries one price update to a storefront platform.
type PushRequest struct {
	MasterItemID     uuid.UUID
	ChannelProductID string
	PriceKRW         int64
}

// Provider pushes prices to one platform. Implementations must be safe
// for concurrent use; the worker fans out across channels.
type Provider interface {
	PushPrice(ctx context.Context, acct Account, req PushRequest) error
}

// MockProvider records pushes for tests and local development. Err, when
// set, is returned for every push.
type MockProvider struct {
	mu     sync.Mutex
	Err    error
	pushed []PushRequest
}

func (m *MockProvider) PushPrice(_ context.Context, _ Account, req PushRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.pushed = append(m.pushed, req)
	return nil
}

// Pushed returns a copy of the recorded pushes.
func (m *MockProvider) Pushed() []PushRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushRequest, len(m.pushed))
	copy(out, m.pushed)
	return out
}
