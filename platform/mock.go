package platform

import (
	"context"
	"sync"
)

// Call is one recorded operation against a MockClient.
type Call struct {
	Op   string
	Peer int64
	Arg  string
}

// MockClient is a scripted, in-memory Client for tests. Zero values behave
// like a platform that knows nothing: every peer is an ordinary account with
// no history, no common groups, and no conversations.
type MockClient struct {
	mu sync.Mutex

	// scripted state
	Classes       map[int64]AccountClass
	CommonGroups  map[int64]int
	PriorExchange map[int64]bool
	Conversations []int64
	// Fail makes the named op return the given error.
	Fail map[string]error

	// observed state
	Calls    []Call
	Sent     map[int64][]string
	Archived map[int64]bool
	Muted    map[int64]bool
	Blocked  map[int64]bool
	Erased   map[int64]bool
}

func NewMockClient() *MockClient {
	return &MockClient{
		Classes:       make(map[int64]AccountClass),
		CommonGroups:  make(map[int64]int),
		PriorExchange: make(map[int64]bool),
		Fail:          make(map[string]error),
		Sent:          make(map[int64][]string),
		Archived:      make(map[int64]bool),
		Muted:         make(map[int64]bool),
		Blocked:       make(map[int64]bool),
		Erased:        make(map[int64]bool),
	}
}

func (m *MockClient) record(op string, peer int64, arg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: op, Peer: peer, Arg: arg})
	return m.Fail[op]
}

// CallsFor returns the recorded calls with the given op name, in order.
func (m *MockClient) CallsFor(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the op names of all recorded calls, in order.
func (m *MockClient) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Op
	}
	return out
}

func (m *MockClient) ArchiveConversation(ctx context.Context, peer int64) error {
	if err := m.record("archiveConversation", peer, ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Archived[peer] = true
	return nil
}

func (m *MockClient) RestoreConversation(ctx context.Context, peer int64) error {
	if err := m.record("restoreConversation", peer, ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Archived[peer] = false
	m.Muted[peer] = false
	return nil
}

func (m *MockClient) MuteConversation(ctx context.Context, peer int64) error {
	if err := m.record("muteConversation", peer, ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Muted[peer] = true
	return nil
}

func (m *MockClient) SendMessage(ctx context.Context, peer int64, text string) error {
	if err := m.record("sendMessage", peer, text); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent[peer] = append(m.Sent[peer], text)
	return nil
}

func (m *MockClient) ReportAndBlock(ctx context.Context, peer int64, reason string) error {
	if err := m.record("reportAndBlock", peer, reason); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blocked[peer] = true
	return nil
}

func (m *MockClient) EraseSharedHistory(ctx context.Context, peer int64) error {
	if err := m.record("eraseSharedHistory", peer, ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Erased[peer] = true
	return nil
}

func (m *MockClient) GetCommonGroupCount(ctx context.Context, peer int64) (int, error) {
	if err := m.record("getCommonGroupCount", peer, ""); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CommonGroups[peer], nil
}

func (m *MockClient) ClassifyAccount(ctx context.Context, peer int64) (AccountClass, error) {
	if err := m.record("classifyAccount", peer, ""); err != nil {
		return AccountClass{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Classes[peer], nil
}

func (m *MockClient) HasPriorExchange(ctx context.Context, peer int64, excludingMessageID int64) (bool, error) {
	if err := m.record("hasPriorExchange", peer, ""); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PriorExchange[peer], nil
}

func (m *MockClient) ListConversations(ctx context.Context) ([]int64, error) {
	if err := m.record("listConversations", 0, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.Conversations))
	copy(out, m.Conversations)
	return out, nil
}

var _ Client = (*MockClient)(nil)
