package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ParamGetter reads a batch of parameters by full name.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// Models names the backend models used for narration and illustration.
type Models struct {
	Text  string
	Image string
}

type ModelResolver interface {
	Models(ctx context.Context) (Models, error)
}

// StaticModels is a ModelResolver with fixed names, used for local overrides.
type StaticModels Models

func (m StaticModels) Models(context.Context) (Models, error) {
	if strings.TrimSpace(m.Text) == "" {
		return Models{}, errors.New("usecase: text model must not be empty")
	}
	return Models(m), nil
}

// ParamModels loads model names from the parameter store on first use and
// caches them. A failed load is retried on the next call. The image model is
// optional; without it no illustrations are requested.
type ParamModels struct {
	params      ParamGetter
	paramPrefix string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	models      Models
}

func NewParamModels(p ParamGetter, paramPrefix string) (*ParamModels, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &ParamModels{params: p, paramPrefix: paramPrefix}, nil
}

func (m *ParamModels) Models(ctx context.Context) (Models, error) {
	m.cacheMu.RLock()
	if m.cacheLoaded {
		defer m.cacheMu.RUnlock()
		return m.models, nil
	}
	m.cacheMu.RUnlock()

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.cacheLoaded {
		return m.models, nil
	}

	textName := m.paramPrefix + "/config/text_model"
	imageName := m.paramPrefix + "/config/image_model"
	vals, err := m.params.GetParameters(ctx, textName, imageName)
	if err != nil {
		return Models{}, fmt.Errorf("usecase: load model config: %w", err)
	}
	models := Models{
		Text:  strings.TrimSpace(vals[textName]),
		Image: strings.TrimSpace(vals[imageName]),
	}
	if models.Text == "" {
		return Models{}, fmt.Errorf("usecase: load model config: text model %s is missing or empty", textName)
	}

	m.models = models
	m.cacheLoaded = true
	return models, nil
}
