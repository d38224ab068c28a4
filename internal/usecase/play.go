package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"omni-library/internal/domain"
	"omni-library/internal/export"
	"omni-library/internal/game"
	"omni-library/internal/normalize"
)

const defaultMaxCommand = 500

type UpdateRequester interface {
	RequestUpdate(ctx context.Context, transcript []domain.ConversationTurn) (string, error)
}

type ImageStarter interface {
	Start(ctx context.Context, turn int, prompt string) <-chan game.ImageReady
}

// SessionStore persists whole sessions. Load returns nil, nil when the
// session does not exist or is incomplete.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*domain.GameSession, error)
	Save(ctx context.Context, sessionID string, session domain.GameSession) error
	Clear(ctx context.Context, sessionID string) error
}

// TurnLease guards a session across processes. Acquire reports ok=false while
// another holder's lease is live; Release only drops a lease it still owns.
type TurnLease interface {
	Acquire(ctx context.Context, sessionID string) (token string, ok bool, err error)
	Release(ctx context.Context, sessionID, token string) error
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// PlayService runs turns against a session. At most one turn per session is
// in flight; input arriving meanwhile is rejected. The in-process guard always
// applies, and a TurnLease extends it across processes.
type PlayService struct {
	driver        UpdateRequester
	images        ImageStarter
	store         SessionStore
	moderator     Moderator
	lease         TurnLease
	backendName   string
	maxCommandLen int
	logger        *slog.Logger

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

type PlayOption func(*PlayService)

// WithModerator screens player commands before they reach the text backend.
func WithModerator(m Moderator, backendName string) PlayOption {
	return func(s *PlayService) {
		s.moderator = m
		s.backendName = backendName
	}
}

// WithTurnLease adds a shared lease on top of the in-process guard.
func WithTurnLease(l TurnLease) PlayOption {
	return func(s *PlayService) {
		s.lease = l
	}
}

func WithLogger(l *slog.Logger) PlayOption {
	return func(s *PlayService) {
		if l != nil {
			s.logger = l
		}
	}
}

// TurnOutput is the first phase of a turn: everything except the image,
// which arrives separately via SceneImage.
type TurnOutput struct {
	SessionID  string
	Update     domain.StoryUpdate
	State      game.State
	Effects    []game.Effect
	Transcript []domain.ConversationTurn
	Resumed    bool
}

// ImageOutput is the second phase of a turn.
type ImageOutput struct {
	Turn    int
	Image   []byte
	Effects []game.Effect
}

func NewPlayService(driver UpdateRequester, images ImageStarter, store SessionStore, maxCommandLen int, opts ...PlayOption) (*PlayService, error) {
	if driver == nil {
		return nil, errors.New("usecase: driver must not be nil")
	}
	if images == nil {
		return nil, errors.New("usecase: image starter must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if maxCommandLen <= 0 {
		maxCommandLen = defaultMaxCommand
	}
	s := &PlayService{
		driver:        driver,
		images:        images,
		store:         store,
		maxCommandLen: maxCommandLen,
		logger:        slog.Default(),
		inflight:      map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Begin resumes a persisted session or, when there is none, opens a new game
// with the narrator's greeting. An empty sessionID always starts a new game.
func (s *PlayService) Begin(ctx context.Context, sessionID string) (TurnOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}
	release, err := s.acquire(ctx, sessionID)
	if err != nil {
		return TurnOutput{}, err
	}
	defer release()

	saved, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "session_load_error", err)
	}
	if saved != nil {
		state, effects := game.Resume(saved.LastUpdate, narratorTurns(saved.Transcript))
		return TurnOutput{
			SessionID:  sessionID,
			Update:     saved.LastUpdate,
			State:      state,
			Effects:    effects,
			Transcript: saved.Transcript,
			Resumed:    true,
		}, nil
	}

	out, err := s.advance(ctx, sessionID, game.NewState(), nil)
	if err != nil {
		observeTurn("failed")
		return TurnOutput{}, err
	}
	observeTurn("ok")
	return out, nil
}

// Submit plays one player command. On a backend failure the stored session is
// left exactly as it was.
func (s *PlayService) Submit(ctx context.Context, sessionID, command string) (TurnOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_command", nil)
	}
	if utf8.RuneCountInString(command) > s.maxCommandLen {
		return TurnOutput{}, newError(ErrorInvalidInput, "command_too_long", nil)
	}

	release, err := s.acquire(ctx, sessionID)
	if err != nil {
		observeTurn("rejected")
		return TurnOutput{}, err
	}
	defer release()

	saved, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "session_load_error", err)
	}
	if saved == nil {
		return TurnOutput{}, newError(ErrorNotFound, "session_not_found", nil)
	}

	if err := s.moderate(ctx, command); err != nil {
		observeTurn("rejected")
		return TurnOutput{}, err
	}

	transcript := make([]domain.ConversationTurn, 0, len(saved.Transcript)+2)
	transcript = append(transcript, saved.Transcript...)
	transcript = append(transcript, domain.NewTurn(domain.SpeakerUser, command))

	prev := game.StateFrom(saved.LastUpdate, narratorTurns(saved.Transcript))
	out, err := s.advance(ctx, sessionID, prev, transcript)
	if err != nil {
		observeTurn("failed")
		return TurnOutput{}, err
	}
	observeTurn("ok")
	return out, nil
}

// advance requests, normalizes and persists the narrator's reply to
// transcript. Nothing is saved unless the reply arrived.
func (s *PlayService) advance(ctx context.Context, sessionID string, prev game.State, transcript []domain.ConversationTurn) (TurnOutput, error) {
	raw, err := s.driver.RequestUpdate(ctx, transcript)
	if err != nil {
		return TurnOutput{}, err
	}

	result := normalize.Inspect(raw)
	observeOutcome(result.Outcome)
	if result.Outcome != normalize.OutcomeParsed {
		s.logger.Warn("model reply needed recovery", "session_id", sessionID, "outcome", result.Outcome)
	}
	update := result.Update

	transcript = append(transcript, domain.NewTurn(domain.SpeakerNarrator, update.Narrative))
	state, effects := game.Apply(prev, update)

	if err := s.store.Save(ctx, sessionID, domain.GameSession{Transcript: transcript, LastUpdate: update}); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "session_save_error", err)
	}

	return TurnOutput{
		SessionID:  sessionID,
		Update:     update,
		State:      state,
		Effects:    effects,
		Transcript: transcript,
	}, nil
}

func (s *PlayService) moderate(ctx context.Context, command string) error {
	if s.moderator == nil {
		return nil
	}
	started := time.Now()
	flagged, err := s.moderator.Moderate(ctx, command)
	observeBackend(s.backendName, kindModeration, started, err)
	if err != nil {
		return backendError("moderation", err)
	}
	if flagged {
		return newError(ErrorInvalidCommand, "moderation_flagged", nil)
	}
	return nil
}

// SceneImage is the second phase of a turn. The illustration is always drawn
// from the session's latest scene prompt. An absent image is not an error.
func (s *PlayService) SceneImage(ctx context.Context, sessionID string) (ImageOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ImageOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	saved, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return ImageOutput{}, newError(ErrorInternal, "session_load_error", err)
	}
	if saved == nil {
		return ImageOutput{}, newError(ErrorNotFound, "session_not_found", nil)
	}

	turn := narratorTurns(saved.Transcript)
	select {
	case ev := <-s.images.Start(ctx, turn, saved.LastUpdate.SceneImagePrompt):
		_, effects := game.ApplyImage(game.State{}, ev)
		return ImageOutput{Turn: ev.Turn, Image: ev.Image, Effects: effects}, nil
	case <-ctx.Done():
		return ImageOutput{Turn: turn}, nil
	}
}

// Reset forgets a session so the next Begin starts a new game.
func (s *PlayService) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	release, err := s.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.Clear(ctx, sessionID); err != nil {
		return newError(ErrorInternal, "session_clear_error", err)
	}
	return nil
}

// Export renders the persisted transcript as a PDF.
func (s *PlayService) Export(ctx context.Context, sessionID string) ([]byte, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	saved, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "session_load_error", err)
	}
	if saved == nil {
		return nil, newError(ErrorNotFound, "session_not_found", nil)
	}

	var buf bytes.Buffer
	if err := export.TranscriptPDF(&buf, saved.LastUpdate.BookTitle, saved.Transcript); err != nil {
		return nil, newError(ErrorInternal, "export_error", err)
	}
	return buf.Bytes(), nil
}

// acquire claims sessionID for one turn. The returned func gives it back.
func (s *PlayService) acquire(ctx context.Context, sessionID string) (func(), error) {
	s.inflightMu.Lock()
	if _, busy := s.inflight[sessionID]; busy {
		s.inflightMu.Unlock()
		return nil, newError(ErrorTurnInProgress, "turn_in_progress", nil)
	}
	s.inflight[sessionID] = struct{}{}
	s.inflightMu.Unlock()

	if s.lease == nil {
		return func() { s.forget(sessionID) }, nil
	}

	token, ok, err := s.lease.Acquire(ctx, sessionID)
	if err != nil {
		s.forget(sessionID)
		return nil, newError(ErrorInternal, "turn_lease_error", err)
	}
	if !ok {
		s.forget(sessionID)
		return nil, newError(ErrorTurnInProgress, "turn_in_progress", nil)
	}
	return func() {
		if err := s.lease.Release(context.WithoutCancel(ctx), sessionID, token); err != nil {
			s.logger.Warn("turn lease release failed", "session_id", sessionID, "err", err)
		}
		s.forget(sessionID)
	}, nil
}

func (s *PlayService) forget(sessionID string) {
	s.inflightMu.Lock()
	delete(s.inflight, sessionID)
	s.inflightMu.Unlock()
}

func narratorTurns(transcript []domain.ConversationTurn) int {
	n := 0
	for _, t := range transcript {
		if t.Speaker == domain.SpeakerNarrator {
			n++
		}
	}
	return n
}

var newUUID = func() string {
	return uuid.NewString()
}
