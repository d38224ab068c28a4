package repository

import (
	"encoding/json"
	"fmt"

	"omni-library/internal/domain"
)

// A session is stored as two named blobs. It is resumable only when both are
// present.
const (
	blobTranscript = "transcript"
	blobState      = "state"
)

func encodeSession(s domain.GameSession) (map[string]string, error) {
	transcript := s.Transcript
	if transcript == nil {
		transcript = []domain.ConversationTurn{}
	}
	t, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	st, err := json.Marshal(s.LastUpdate)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return map[string]string{blobTranscript: string(t), blobState: string(st)}, nil
}

// decodeSession returns nil when either blob is missing.
func decodeSession(blobs map[string]string) (*domain.GameSession, error) {
	t, okT := blobs[blobTranscript]
	st, okS := blobs[blobState]
	if !okT || !okS {
		return nil, nil
	}

	var s domain.GameSession
	if err := json.Unmarshal([]byte(t), &s.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(st), &s.LastUpdate); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if s.Transcript == nil {
		s.Transcript = []domain.ConversationTurn{}
	}
	if s.LastUpdate.Inventory == nil {
		s.LastUpdate.Inventory = []string{}
	}
	return &s, nil
}
