package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				order = append(order, name+":before")
				resp, err := next.Handle(ctx, req)
				order = append(order, name+":after")
				return resp, err
			})
		}
	}
	core := HandlerFunc(func(context.Context, *Request) (*Response, error) {
		order = append(order, "core")
		return &Response{Content: "{}"}, nil
	})

	_, err := Chain(core, mark("outer"), mark("inner")).Handle(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "core", "inner:after", "outer:after"}, order)
}

type fakeAdapter struct {
	url      string
	parseErr error
	deadline bool
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Build(ctx context.Context, req *Request) (*http.Request, error) {
	_, a.deadline = ctx.Deadline()
	return http.NewRequestWithContext(ctx, http.MethodPost, a.url, strings.NewReader(req.Prompt))
}

func (a *fakeAdapter) Parse(resp *http.Response) (*Response, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Content: string(body)}, nil
}

type fakeRouter struct {
	adapter ProviderAdapter
	err     error
}

func (r fakeRouter) Pick(string, string) (ProviderAdapter, error) { return r.adapter, r.err }

func TestHTTPHandler(t *testing.T) {
	var traceID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = r.Header.Get(TraceHeader)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"echo":"` + string(body) + `"}`))
	}))
	defer srv.Close()

	t.Run("round_trip", func(t *testing.T) {
		adapter := &fakeAdapter{url: srv.URL}
		h := NewHTTPHandler(srv.Client(), fakeRouter{adapter: adapter}, nil)

		resp, err := h.Handle(context.Background(), &Request{Prompt: "hi", Timeout: time.Second, TraceID: "trace-1"})
		require.NoError(t, err)
		assert.Equal(t, `{"echo":"hi"}`, resp.Content)
		assert.True(t, adapter.deadline)
		assert.Equal(t, "trace-1", traceID)
	})

	t.Run("send_error_wrapped", func(t *testing.T) {
		h := NewHTTPHandler(srv.Client(), fakeRouter{adapter: &fakeAdapter{url: "http://127.0.0.1:0"}}, nil)

		_, err := h.Handle(context.Background(), &Request{Flow: "summarizePageFlow"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fake: send")
	})

	t.Run("router_error", func(t *testing.T) {
		sentinel := errors.New("no adapter")
		h := NewHTTPHandler(srv.Client(), fakeRouter{err: sentinel}, nil)

		_, err := h.Handle(context.Background(), &Request{})
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("parse_error_unwrapped", func(t *testing.T) {
		sentinel := errors.New("bad body")
		h := NewHTTPHandler(srv.Client(), fakeRouter{adapter: &fakeAdapter{url: srv.URL, parseErr: sentinel}}, nil)

		_, err := h.Handle(context.Background(), &Request{})
		assert.Same(t, sentinel, err)
	})
}

func TestGenerateIdemKey(t *testing.T) {
	base := &Request{
		Provider:    "OpenAI ",
		Model:       "gpt-4o-mini",
		Flow:        "summarizePageFlow",
		Prompt:      "Summarize   this\r\npage",
		Temperature: 0.2,
		Schema:      map[string]any{"type": "object", "required": []any{"summary"}},
	}
	same := &Request{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Flow:        "summarizePageFlow",
		Prompt:      "Summarize this\npage",
		Temperature: 0.2,
		Schema:      map[string]any{"required": []any{"summary"}, "type": "object"},
	}
	different := *same
	different.Prompt = "Summarize this page"

	k1, err := GenerateIdemKey(base)
	require.NoError(t, err)
	k2, err := GenerateIdemKey(same)
	require.NoError(t, err)
	k3, err := GenerateIdemKey(&different)
	require.NoError(t, err)

	assert.Len(t, k1.String(), 64)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestRequestKey(t *testing.T) {
	assert.Equal(t, "google:gemini-2.0-flash", (&Request{Provider: "google", Model: "gemini-2.0-flash"}).Key())
}
