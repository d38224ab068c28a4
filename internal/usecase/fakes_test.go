package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"omni-library/internal/domain"
	"omni-library/internal/game"
)

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]string{}
	for _, n := range names {
		if v, ok := m.vals[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{
		"/prefix/config/text_model":  "text-model",
		"/prefix/config/image_model": "image-model",
	}}
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

type chatReply struct {
	raw string
	err error
}

type mockText struct {
	mu       sync.Mutex
	replies  []chatReply
	calls    int
	model    string
	captured []domain.ChatMessage
}

func (m *mockText) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return "", errors.New("no reply configured")
	}
	idx := min(m.calls, len(m.replies)-1)
	m.calls++
	m.model = model
	m.captured = msgs
	return m.replies[idx].raw, m.replies[idx].err
}

type mockImages struct {
	img    []byte
	err    error
	calls  int
	model  string
	prompt string
	aspect string
}

func (m *mockImages) GenerateImage(_ context.Context, model, prompt, aspect string) ([]byte, error) {
	m.calls++
	m.model, m.prompt, m.aspect = model, prompt, aspect
	return m.img, m.err
}

type mockModerator struct {
	flagged bool
	err     error
	calls   int
}

func (m *mockModerator) Moderate(context.Context, string) (bool, error) {
	m.calls++
	return m.flagged, m.err
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.GameSession
	loadErr  error
	saveErr  error
	clearErr error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]domain.GameSession{}}
}

func (m *memStore) Load(_ context.Context, id string) (*domain.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	s.Transcript = append([]domain.ConversationTurn{}, s.Transcript...)
	return &s, nil
}

func (m *memStore) Save(_ context.Context, id string, s domain.GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.sessions[id] = s
	return nil
}

func (m *memStore) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.sessions, id)
	return nil
}

func (m *memStore) get(id string) (domain.GameSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// blockingDriver holds every request until released.
type blockingDriver struct {
	started chan struct{}
	release chan struct{}
	raw     string

	mu    sync.Mutex
	calls int
}

func newBlockingDriver(raw string) *blockingDriver {
	return &blockingDriver{started: make(chan struct{}, 8), release: make(chan struct{}), raw: raw}
}

func (d *blockingDriver) RequestUpdate(context.Context, []domain.ConversationTurn) (string, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	d.started <- struct{}{}
	<-d.release
	return d.raw, nil
}

func (d *blockingDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stubImages struct {
	ev game.ImageReady
}

func (s stubImages) Start(_ context.Context, turn int, _ string) <-chan game.ImageReady {
	ch := make(chan game.ImageReady, 1)
	ev := s.ev
	ev.Turn = turn
	ch <- ev
	close(ch)
	return ch
}

// fakeLease stands in for a lease shared by several processes.
type fakeLease struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	acquired int
	released []string
}

func newFakeLease() *fakeLease {
	return &fakeLease{held: map[string]string{}}
}

func (l *fakeLease) Acquire(_ context.Context, sessionID string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[sessionID]; ok {
		return "", false, nil
	}
	l.acquired++
	token := fmt.Sprintf("token-%d", l.acquired)
	l.held[sessionID] = token
	return token, true, nil
}

func (l *fakeLease) Release(_ context.Context, sessionID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sessionID] == token {
		delete(l.held, sessionID)
	}
	l.released = append(l.released, token)
	return nil
}
