// Package gemini adapts Google's Generative Language API to the text and
// image backend interfaces used by the story engine.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"omni-library/internal/domain"
)

const maxOutputTokens = 1500

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type tokenPayload struct {
	Token string `json:"token"`
}

// StatusError carries the HTTP status reported by the API, when there was one.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// request is one GenerateContent call, independent of the SDK's session types.
type request struct {
	model      string
	system     string
	history    []*genai.Content
	parts      []genai.Part
	jsonOutput bool
}

type sendFunc func(ctx context.Context, req request) (*genai.GenerateContentResponse, error)

// Client talks to Gemini. The API key is read from SSM on first use and the
// SDK client is kept for the life of the process. A failed setup is retried
// on the next call.
type Client struct {
	getter      Getter
	paramPrefix string
	send        sendFunc

	sdkMu sync.Mutex
	sdk   *genai.Client
}

func NewClient(ps Getter, paramPrefix string) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{getter: ps, paramPrefix: paramPrefix}
	c.send = c.sendSDK
	return c, nil
}

// Close releases the SDK client if one was created.
func (c *Client) Close() error {
	c.sdkMu.Lock()
	defer c.sdkMu.Unlock()
	if c.sdk == nil {
		return nil
	}
	err := c.sdk.Close()
	c.sdk = nil
	return err
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-token"
}

func (c *Client) resolveSDK(ctx context.Context) (*genai.Client, error) {
	c.sdkMu.Lock()
	defer c.sdkMu.Unlock()
	if c.sdk != nil {
		return c.sdk, nil
	}

	raw, err := c.getter.GetParameter(ctx, c.tokenParameterName())
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return nil, errors.New("gemini: API token is empty")
	}
	sdk, err := genai.NewClient(ctx, option.WithAPIKey(tp.Token))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.sdk = sdk
	return sdk, nil
}

func (c *Client) sendSDK(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	sdk, err := c.resolveSDK(ctx)
	if err != nil {
		return nil, err
	}
	model := sdk.GenerativeModel(req.model)
	if req.system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.system))
	}
	if req.jsonOutput {
		model.ResponseMIMEType = "application/json"
		model.SetMaxOutputTokens(maxOutputTokens)
	}
	if len(req.history) == 0 {
		return model.GenerateContent(ctx, req.parts...)
	}
	cs := model.StartChat()
	cs.History = req.history
	return cs.SendMessage(ctx, req.parts...)
}

// Chat runs one chat exchange. System messages become the system instruction,
// the last user message is sent and everything before it is chat history.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	req, err := toRequest(model, messages)
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return "", wrapErr("chat", err)
	}

	var b strings.Builder
	for _, part := range firstCandidateParts(resp) {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini: no text in response")
	}
	return b.String(), nil
}

func toRequest(model string, messages []domain.ChatMessage) (request, error) {
	req := request{model: model, jsonOutput: true}
	var system []string
	var turns []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(turns) == 0 {
		return request{}, errors.New("gemini: no user message to send")
	}
	last := turns[len(turns)-1]
	if last.Role != "user" {
		return request{}, errors.New("gemini: last message must come from the user")
	}
	// Gemini wants the conversation to open with a user turn.
	history := turns[:len(turns)-1]
	for len(history) > 0 && history[0].Role == "model" {
		history = history[1:]
	}
	req.system = strings.Join(system, "\n\n")
	req.history = history
	req.parts = last.Parts
	return req, nil
}

// GenerateImage asks an image-capable model for a picture and returns the
// first inline image in the response.
func (c *Client) GenerateImage(ctx context.Context, model, prompt, aspectRatio string) ([]byte, error) {
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	text := prompt
	if aspectRatio != "" {
		text += " Aspect ratio " + aspectRatio + "."
	}
	resp, err := c.send(ctx, request{model: model, parts: []genai.Part{genai.Text(text)}})
	if err != nil {
		return nil, wrapErr("generate image", err)
	}
	for _, part := range firstCandidateParts(resp) {
		if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
			return blob.Data, nil
		}
	}
	return nil, errors.New("gemini: no image in response")
}

func firstCandidateParts(resp *genai.GenerateContentResponse) []genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

func wrapErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &StatusError{StatusCode: gerr.Code, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("gemini: %s: %w", op, err)
}
