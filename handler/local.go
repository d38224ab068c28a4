package handler

import (
	"encoding/base64"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
)

const maxLocalBody = 1 << 20

// ServeHTTP adapts plain HTTP requests to proxy events so the same routes
// run without API Gateway.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLocalBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               map[string]string{},
		QueryStringParameters: map[string]string{},
	}
	for k := range r.Header {
		req.Headers[k] = r.Header.Get(k)
	}
	for k := range r.URL.Query() {
		req.QueryStringParameters[k] = r.URL.Query().Get(k)
	}
	if utf8.Valid(body) {
		req.Body = string(body)
	} else {
		req.Body = base64.StdEncoding.EncodeToString(body)
		req.IsBase64Encoded = true
	}

	resp, err := h.Handle(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := []byte(resp.Body)
	if resp.IsBase64Encoded {
		if out, err = base64.StdEncoding.DecodeString(resp.Body); err != nil {
			http.Error(w, "decode response", http.StatusInternalServerError)
			return
		}
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(out)
}
