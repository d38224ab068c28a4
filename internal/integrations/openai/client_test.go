package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omni-library/internal/domain"
)

type fakeGetter struct {
	val    string
	err    error
	names  []string
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/omni-library",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func statusServer(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestEndpointURLs(t *testing.T) {
	cases := []struct {
		base string
		fn   func(string) string
		want string
	}{
		{"https://api.openai.com/v1", chatURL, "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", chatURL, "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", chatURL, "http://localhost:8080/v1/chat/completions"},
		{"", chatURL, "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", imagesURL, "http://localhost:8080/v1/images/generations"},
		{"", moderationURL, "https://api.openai.com/v1/moderations"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.fn(tc.base), "base=%q", tc.base)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/omni-library")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, "  ")
	require.ErrorContains(t, err, "prefix")

	c, err := NewClient(&fakeGetter{}, "/omni-library/")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "/omni-library/open-ai-token", c.tokenParameterName())
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`, onCall: func() { calls++ }}
	c, err := NewClient(g, "/omni-library")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"/omni-library/open-ai-token"}, g.names)
}

func TestResolveAPIKey_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm throttled")}
	c, err := NewClient(g, "/omni-library")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "ssm throttled")

	g.err = nil
	g.val = `{"token":"sk-later"}`
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-later", key)
	require.Len(t, g.names, 2)
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{name: "json token", getter: &fakeGetter{val: `{"token":"sk-json"}`}, param: "/p/open-ai-token", want: "sk-json"},
		{name: "missing field", getter: &fakeGetter{val: `{"other":"v"}`}, param: "/p/open-ai-token", wantErr: "API token is empty"},
		{name: "malformed", getter: &fakeGetter{val: `{"broken`}, param: "/p/open-ai-token", wantErr: "unmarshal"},
		{name: "getter error", getter: &fakeGetter{err: errors.New("ssm unavailable")}, param: "/p/open-ai-token", wantErr: "ssm unavailable"},
		{name: "nil getter", getter: nil, param: "/p/open-ai-token", wantErr: "nil"},
		{name: "empty name", getter: &fakeGetter{val: `{"token":"x"}`}, param: " ", wantErr: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"response_format":{"type":"json_schema"`)
		require.Contains(t, string(reqBody), `"name":"story_update"`)
		require.Contains(t, string(reqBody), `"required":["text","location","inventory","scene_image_prompt"]`)
		require.Contains(t, string(reqBody), `"max_tokens":1500`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"text\":\"The shelves shift.\"}"}}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: domain.RoleUser, Content: "look around"}})
	require.NoError(t, err)
	require.Equal(t, `{"text":"The shelves shift."}`, resp)
}

func TestClient_Chat_Errors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "bad request", status: 400, body: `{"error":"bad"}`, wantErr: "400"},
		{name: "rate limited", status: 429, body: `{"error":"slow down"}`, wantErr: "429"},
		{name: "server error", status: 500, body: `{"error":"boom"}`, wantErr: "500"},
		{name: "invalid json", status: 200, body: `not-a-json`, wantErr: "decode response"},
		{name: "no choices", status: 200, body: `{"choices":[]}`, wantErr: "no choices"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := statusServer(tc.status, tc.body)
			defer srv.Close()

			_, err := newTestClient(t, srv).Chat(context.Background(), "gpt-mock", nil)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestClient_Chat_StatusErrorIsInspectable(t *testing.T) {
	srv := statusServer(429, `{}`)
	defer srv.Close()

	_, err := newTestClient(t, srv).Chat(context.Background(), "gpt-mock", nil)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 429, statusErr.HTTPStatusCode())
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/omni-library")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", nil)
	require.ErrorContains(t, err, "model")
}

func TestClient_GenerateImage_HappyPath(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		var req imageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "dall-e-3", req.Model)
		require.Equal(t, "a candlelit archive", req.Prompt)
		require.Equal(t, "1792x1024", req.Size)
		require.Equal(t, "b64_json", req.ResponseFormat)
		require.Equal(t, 1, req.N)
		_, _ = w.Write([]byte(`{"data":[{"b64_json":"` + base64.StdEncoding.EncodeToString(png) + `"}]}`))
	}))
	defer srv.Close()

	img, err := newTestClient(t, srv).GenerateImage(context.Background(), "dall-e-3", "a candlelit archive", "16:9")
	require.NoError(t, err)
	require.Equal(t, png, img)
}

func TestClient_GenerateImage_Errors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: 500, body: `{}`, wantErr: "500"},
		{name: "empty data", status: 200, body: `{"data":[]}`, wantErr: "no image"},
		{name: "blank payload", status: 200, body: `{"data":[{"b64_json":""}]}`, wantErr: "no image"},
		{name: "bad base64", status: 200, body: `{"data":[{"b64_json":"%%%"}]}`, wantErr: "decode image data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := statusServer(tc.status, tc.body)
			defer srv.Close()

			_, err := newTestClient(t, srv).GenerateImage(context.Background(), "dall-e-3", "x", "16:9")
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestImageSize(t *testing.T) {
	require.Equal(t, "1792x1024", imageSize("16:9"))
	require.Equal(t, "1024x1792", imageSize("9:16"))
	require.Equal(t, "1024x1024", imageSize(""))
}

func TestClient_Moderate(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr string
	}{
		{name: "not flagged", status: 200, body: `{"results":[{"flagged":false}]}`},
		{name: "flagged", status: 200, body: `{"results":[{"flagged":true}]}`, want: true},
		{name: "rate limited", status: 429, body: `{}`, wantErr: "429"},
		{name: "malformed", status: 200, body: `not-json`, wantErr: "decode moderation response"},
		{name: "empty results", status: 200, body: `{"results":[]}`, wantErr: "no results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := statusServer(tc.status, tc.body)
			defer srv.Close()

			flagged, err := newTestClient(t, srv).Moderate(context.Background(), "open the red book")
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, flagged)
		})
	}
}

func TestClient_Moderate_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/omni-library")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Moderate(context.Background(), "hello")
	require.ErrorContains(t, err, "request failed")
}
