package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/watzon/mnemo/internal/config"
	"github.com/watzon/mnemo/internal/memory/ingestion"
	"github.com/watzon/mnemo/internal/memory/retrieval"
	"github.com/watzon/mnemo/internal/memory/weight"
	"github.com/watzon/mnemo/internal/model"
	embedlocal "github.com/watzon/mnemo/internal/plugin/embed/local"
	"github.com/watzon/mnemo/internal/router"
	"github.com/watzon/mnemo/internal/testutil/memstore"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *memstore.Store) {
	return newTestServerWithRouter(t, mutate, router.NewHeuristic())
}

func newTestServerWithRouter(t *testing.T, mutate func(*config.Config), rt router.Router) (*Server, *memstore.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RelevanceThreshold = 0 // hash embeddings score low; keep everything
	if mutate != nil {
		mutate(&cfg)
	}

	store := memstore.New(384)
	embedder := &embedlocal.Embedder{}
	retriever, err := retrieval.NewPipeline(store, embedder, retrieval.DefaultConfig())
	require.NoError(t, err)
	ingester := ingestion.NewPipeline(store, embedder, router.NewHeuristic(), weight.DefaultConfig())
	return NewServer(&cfg, retriever, ingester, rt, nil), store
}

func doRequest(s *Server, method, path string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDynamicRejectsNonHTTPScheme(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/p/ftp://example.com", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_url", body.Error.Type)
}

func TestDynamicEnforcesAllowlist(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.AllowedHosts = []string{"api.openai.com"}
	})
	rec := doRequest(s, http.MethodGet, "/p/https://evil.com/x", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "host_not_allowed", body.Error.Type)
}

func TestFallbackWithoutUpstreamIs404(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", "{}")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "no_upstream_configured", body.Error.Type)
}

func TestUnreachableUpstreamIs502(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.TimeoutSecs = 1
	})
	rec := doRequest(s, http.MethodPost, "/p/http://127.0.0.1:1/v1", `{"messages":[]}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "proxy_error")
}

func TestForwardInjectsMemoriesIntoOpenAIShape(t *testing.T) {
	var upstreamBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"an assistant answer worth keeping"}}]}`)
	}))
	defer upstream.Close()

	s, store := newTestServer(t, nil)

	// Seed a memory the query will retrieve.
	m := model.NewMemory("the user prefers dark roast coffee", mustEmbed(t, "the user prefers dark roast coffee"), model.TypeSemantic, model.SourceManual)
	require.NoError(t, store.Insert(context.Background(), m))

	reqBody := `{"messages":[{"role":"user","content":"the user prefers dark roast coffee"}]}`
	rec := doRequest(s, http.MethodPost, "/p/"+upstream.URL+"/v1/chat/completions", reqBody)
	require.Equal(t, http.StatusOK, rec.Code)

	// The upstream saw the memory block in a system message. The body is
	// re-encoded JSON (which escapes '<' and '>'), so decode before checking.
	var sent struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(upstreamBody, &sent))
	require.NotEmpty(t, sent.Messages)
	require.Equal(t, "system", sent.Messages[0].Role)
	require.Contains(t, sent.Messages[0].Content, "<mnemo-memories>")
	require.Contains(t, string(upstreamBody), "dark roast coffee")

	// The client got the upstream body verbatim.
	require.Contains(t, rec.Body.String(), "an assistant answer worth keeping")

	// The assistant answer lands in the store via background ingestion.
	require.Eventually(t, func() bool {
		n, err := store.TotalCount(context.Background())
		return err == nil && n >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpstreamNon2xxPassesThroughVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, `{"error":"upstream teapot"}`)
	}))
	defer upstream.Close()

	s, store := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/p/"+upstream.URL+"/v1", `{"messages":[]}`)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Contains(t, rec.Body.String(), "upstream teapot")

	// Nothing ingested from an error response.
	time.Sleep(50 * time.Millisecond)
	n, err := store.TotalCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStreamingTeeClientSeesExactBytes(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" World\"}}]}\n\n" +
		"data: [DONE]\n\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse)
	}))
	defer upstream.Close()

	s, store := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/p/"+upstream.URL+"/v1",
		`{"stream":true,"messages":[{"role":"user","content":"say hi to the world"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, sse, rec.Body.String())
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	// The tee-extracted "Hi World" fails the 10-char minimum and is not
	// ingested.
	time.Sleep(50 * time.Millisecond)
	n, err := store.TotalCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStreamingIngestsExtractedContent(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"a streamed answer \"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"worth remembering\"}}]}\n\n" +
		"data: [DONE]\n\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse)
	}))
	defer upstream.Close()

	s, store := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/p/"+upstream.URL+"/v1", `{"stream":true,"messages":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		n, err := store.TotalCount(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := (&embedlocal.Embedder{}).Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

// failingRouter always errors, standing in for a broken NER model.
type failingRouter struct{}

func (failingRouter) Route(context.Context, string) (*router.Output, error) {
	return nil, fmt.Errorf("model load failed")
}

func TestRouterFailureForwardsUnchanged(t *testing.T) {
	var upstreamBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer upstream.Close()

	s, store := newTestServerWithRouter(t, nil, failingRouter{})

	// Even with a retrievable memory in the store, a router failure must
	// skip injection and forward the request byte-for-byte.
	m := model.NewMemory("the user prefers dark roast coffee", mustEmbed(t, "the user prefers dark roast coffee"), model.TypeSemantic, model.SourceManual)
	require.NoError(t, store.Insert(context.Background(), m))

	reqBody := `{"messages":[{"role":"user","content":"the user prefers dark roast coffee"}]}`
	rec := doRequest(s, http.MethodPost, "/p/"+upstream.URL+"/v1/chat/completions", reqBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, reqBody, string(upstreamBody))
	require.NotContains(t, string(upstreamBody), "<mnemo-memories>")
}
