package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"omni-library/internal/game"
)

const (
	imageAspectRatio   = "16:9"
	placeholderPrompt  = "Mysterious lighting"
	defaultImageBudget = 90 * time.Second
)

type ImageBackend interface {
	GenerateImage(ctx context.Context, model, prompt, aspectRatio string) ([]byte, error)
}

// ImageAdapter turns scene prompts into illustrations. Failures are logged and
// reported as a missing image; they never reach the caller as errors.
type ImageAdapter struct {
	backend     ImageBackend
	models      ModelResolver
	backendName string
	timeout     time.Duration
	logger      *slog.Logger
}

func NewImageAdapter(backend ImageBackend, models ModelResolver, backendName string) (*ImageAdapter, error) {
	if backend == nil {
		return nil, errors.New("usecase: image backend must not be nil")
	}
	if models == nil {
		return nil, errors.New("usecase: model resolver must not be nil")
	}
	return &ImageAdapter{
		backend:     backend,
		models:      models,
		backendName: backendName,
		timeout:     defaultImageBudget,
		logger:      slog.Default(),
	}, nil
}

func imagePrompt(scene string) string {
	scene = strings.TrimSpace(scene)
	if scene == "" {
		scene = placeholderPrompt
	}
	return "A cinematic, atmospheric concept art of: " + scene +
		". Mysterious lighting, high fantasy or sci-fi aesthetic, hyper-realistic, 4k."
}

// RequestImage returns image bytes, or nil when no image could be produced.
func (a *ImageAdapter) RequestImage(ctx context.Context, prompt string) []byte {
	models, err := a.models.Models(ctx)
	if err != nil {
		a.logger.Warn("image model config unavailable", "err", err)
		return nil
	}
	if models.Image == "" {
		return nil
	}

	started := time.Now()
	img, err := a.backend.GenerateImage(ctx, models.Image, imagePrompt(prompt), imageAspectRatio)
	observeBackend(a.backendName, kindImage, started, err)
	if err != nil {
		a.logger.Warn("image request failed", "backend", a.backendName, "model", models.Image, "err", err)
		return nil
	}
	if len(img) == 0 {
		a.logger.Warn("image backend returned no data", "backend", a.backendName, "model", models.Image)
		return nil
	}
	return img
}

// Start requests the image for a turn in the background. The returned channel
// yields exactly one event and is then closed. The request is detached from
// ctx cancellation so a finished turn does not abort its illustration.
func (a *ImageAdapter) Start(ctx context.Context, turn int, prompt string) <-chan game.ImageReady {
	out := make(chan game.ImageReady, 1)
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	go func() {
		defer close(out)
		defer cancel()
		out <- game.ImageReady{Turn: turn, Image: a.RequestImage(bg, prompt)}
	}()
	return out
}
