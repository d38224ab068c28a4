package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"omni-library/internal/domain"
	"omni-library/internal/game"
	"omni-library/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Game is the set of operations the HTTP surface exposes.
type Game interface {
	Begin(ctx context.Context, sessionID string) (usecase.TurnOutput, error)
	Submit(ctx context.Context, sessionID, command string) (usecase.TurnOutput, error)
	SceneImage(ctx context.Context, sessionID string) (usecase.ImageOutput, error)
	Reset(ctx context.Context, sessionID string) error
	Export(ctx context.Context, sessionID string) ([]byte, error)
}

type Handler struct {
	game   Game
	logger *slog.Logger
}

func NewHandler(g Game) (*Handler, error) {
	if g == nil {
		return nil, errors.New("handler: game must not be nil")
	}
	return &Handler{game: g, logger: slog.Default()}, nil
}

type beginRequest struct {
	SessionID string `json:"sessionId"`
}

type turnRequest struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

type sceneImageRequest struct {
	SessionID string `json:"sessionId"`
}

type turnResponse struct {
	SessionID  string                    `json:"sessionId"`
	Resumed    bool                      `json:"resumed,omitempty"`
	Update     domain.StoryUpdate        `json:"update"`
	State      game.State                `json:"state"`
	Effects    []game.Effect             `json:"effects"`
	Transcript []domain.ConversationTurn `json:"transcript"`
}

type sceneImageResponse struct {
	Turn    int           `json:"turn"`
	Image   []byte        `json:"image"`
	Effects []game.Effect `json:"effects"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handle serves an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	route := req.HTTPMethod + " " + routePath(req.Path)

	resp := h.route(ctx, route, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID

	h.logger.Info("request completed", "correlation_id", corrID, "route", route, "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, route string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	switch route {
	case "POST /session":
		var in beginRequest
		if !decodeOptional(req, &in) {
			return invalidBody()
		}
		out, err := h.game.Begin(ctx, in.SessionID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return jsonResponse(http.StatusOK, toTurnResponse(out))

	case "POST /turn":
		var in turnRequest
		if !decode(req, &in) {
			return invalidBody()
		}
		out, err := h.game.Submit(ctx, in.SessionID, in.Command)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return jsonResponse(http.StatusOK, toTurnResponse(out))

	case "POST /scene-image":
		var in sceneImageRequest
		if !decode(req, &in) {
			return invalidBody()
		}
		out, err := h.game.SceneImage(ctx, in.SessionID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		if len(out.Image) == 0 {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
		}
		return jsonResponse(http.StatusOK, sceneImageResponse{Turn: out.Turn, Image: out.Image, Effects: out.Effects})

	case "DELETE /session":
		if err := h.game.Reset(ctx, sessionParam(req)); err != nil {
			return h.errorResponse(ctx, err)
		}
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}

	case "GET /session/export":
		pdf, err := h.game.Export(ctx, sessionParam(req))
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers: map[string]string{
				"Content-Type":        "application/pdf",
				"Content-Disposition": `attachment; filename="omni-library.pdf"`,
			},
			Body:            base64.StdEncoding.EncodeToString(pdf),
			IsBase64Encoded: true,
		}
	}

	return jsonResponse(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "route_not_found"})
}

func toTurnResponse(out usecase.TurnOutput) turnResponse {
	effects := out.Effects
	if effects == nil {
		effects = []game.Effect{}
	}
	return turnResponse{
		SessionID:  out.SessionID,
		Resumed:    out.Resumed,
		Update:     out.Update,
		State:      out.State,
		Effects:    effects,
		Transcript: out.Transcript,
	}
}

func (h *Handler) errorResponse(ctx context.Context, err error) events.APIGatewayProxyResponse {
	code := usecase.CodeOf(err)
	body := errorResponse{Error: string(code)}
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		body.Reason = uerr.Reason
	}

	status := statusFor(code)
	switch {
	case code == usecase.ErrorBackendUnavailable:
		body.Message = usecase.ErrorNarrative
		h.logger.ErrorContext(ctx, "turn failed", "code", code, "reason", body.Reason, "err", err)
	case status >= http.StatusInternalServerError:
		h.logger.ErrorContext(ctx, "request failed", "code", code, "reason", body.Reason, "err", err)
	}
	return jsonResponse(status, body)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidCommand:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorTurnInProgress:
		return http.StatusConflict
	case usecase.ErrorBackendUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func invalidBody() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, bool) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), true
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	return b, err == nil
}

func decode(req events.APIGatewayProxyRequest, v any) bool {
	body, ok := requestBody(req)
	if !ok {
		return false
	}
	return json.Unmarshal(body, v) == nil
}

// decodeOptional accepts an empty body as the zero value.
func decodeOptional(req events.APIGatewayProxyRequest, v any) bool {
	if strings.TrimSpace(req.Body) == "" {
		return true
	}
	return decode(req, v)
}

func sessionParam(req events.APIGatewayProxyRequest) string {
	return strings.TrimSpace(req.QueryStringParameters["sessionId"])
}

func routePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
