package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"omni-library/internal/domain"
)

const defaultHistoryWindow = 6

type TextBackend interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Driver asks the text backend for the next story update. It makes exactly
// one request per call and never retries.
type Driver struct {
	backend     TextBackend
	models      ModelResolver
	backendName string
	window      int
	logger      *slog.Logger
}

func NewDriver(backend TextBackend, models ModelResolver, backendName string, window int) (*Driver, error) {
	if backend == nil {
		return nil, errors.New("usecase: text backend must not be nil")
	}
	if models == nil {
		return nil, errors.New("usecase: model resolver must not be nil")
	}
	if window <= 0 {
		window = defaultHistoryWindow
	}
	return &Driver{
		backend:     backend,
		models:      models,
		backendName: backendName,
		window:      window,
		logger:      slog.Default(),
	}, nil
}

// RequestUpdate returns the backend's raw reply for the transcript. Only the
// trailing window of turns is sent; an empty transcript sends the opening
// prompt instead.
func (d *Driver) RequestUpdate(ctx context.Context, transcript []domain.ConversationTurn) (string, error) {
	models, err := d.models.Models(ctx)
	if err != nil {
		return "", newError(ErrorInternal, "model_config_error", err)
	}

	started := time.Now()
	raw, err := d.backend.Chat(ctx, models.Text, buildMessages(transcript, d.window))
	observeBackend(d.backendName, kindText, started, err)
	if err != nil {
		d.logger.Error("text backend request failed", "backend", d.backendName, "model", models.Text, "err", err)
		return "", backendError("text_backend", err)
	}
	return raw, nil
}
