// Package proxy implements the streaming HTTP proxy: it fingerprints chat
// requests, injects retrieved memories into provider payloads, tees the
// upstream response to the client, and feeds completed responses to the
// ingestion pipeline in the background.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/watzon/mnemo/internal/config"
	"github.com/watzon/mnemo/internal/curator"
	"github.com/watzon/mnemo/internal/memory/ingestion"
	"github.com/watzon/mnemo/internal/memory/retrieval"
	"github.com/watzon/mnemo/internal/metrics"
	"github.com/watzon/mnemo/internal/model"
	"github.com/watzon/mnemo/internal/proxy/providers"
	registrycurator "github.com/watzon/mnemo/internal/registry/curator"
	"github.com/watzon/mnemo/internal/router"
)

// curateEveryTurns is how many buffered turns accumulate before the
// curator is consulted.
const curateEveryTurns = 8

// Server is the proxy HTTP server.
type Server struct {
	cfg       *config.Config
	retriever *retrieval.Pipeline
	ingester  *ingestion.Pipeline
	router    router.Router
	curator   registrycurator.Curator

	bufMu  sync.Mutex
	buffer *curator.Buffer

	client *http.Client
	engine *gin.Engine
	http   *http.Server

	// background tracks capture/curation tasks so Shutdown can drain them.
	background sync.WaitGroup
}

// NewServer wires the proxy. The curator may be nil (curation disabled).
func NewServer(cfg *config.Config, retriever *retrieval.Pipeline, ingester *ingestion.Pipeline, rt router.Router, cur registrycurator.Curator) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(metrics.AccessLogMiddleware("/health", "/metrics"))
	engine.Use(metrics.RequestMiddleware())

	s := &Server{
		cfg:       cfg,
		retriever: retriever,
		ingester:  ingester,
		router:    rt,
		curator:   cur,
		buffer:    curator.NewBuffer(cfg.BufferMaxTurns, cfg.BufferMaxTokens),
		client: &http.Client{
			// Per-request deadlines are applied via context so streaming
			// bodies are not cut off by a client-wide timeout.
			Timeout: 0,
		},
		engine: engine,
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", metrics.Handler())
	engine.Any("/p/*target", s.handleDynamic)
	engine.NoRoute(s.handleFallback)
	return s
}

// Start begins serving and returns immediately.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Proxy: server stopped", "err", err)
		}
	}()
	log.Info("Proxy listening", "addr", s.cfg.ListenAddr, "upstream", s.cfg.UpstreamURL)
	return nil
}

// Shutdown drains in-flight requests and background ingestion tasks.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// Engine exposes the gin engine for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func errorBody(errType, message string) gin.H {
	return gin.H{"error": gin.H{"type": errType, "message": message}}
}

func (s *Server) handleDynamic(c *gin.Context) {
	target, err := ExtractTargetURL(c.Request.URL.Path, c.Request.URL.RawQuery)
	if err != nil {
		log.Warn("Proxy: rejected target URL", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusBadRequest, errorBody("invalid_url", "target URL is not a valid http(s) URL"))
		return
	}
	if !HostAllowed(target.Hostname(), s.cfg.AllowedHosts) {
		c.JSON(http.StatusForbidden, errorBody("host_not_allowed", fmt.Sprintf("host %q is not in the allowlist", target.Hostname())))
		return
	}
	s.forward(c, target)
}

func (s *Server) handleFallback(c *gin.Context) {
	if s.cfg.UpstreamURL == "" {
		c.JSON(http.StatusNotFound, errorBody("no_upstream_configured", "no upstream URL is configured"))
		return
	}
	upstream, err := url.Parse(s.cfg.UpstreamURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorBody("proxy_error", "configured upstream URL is invalid"))
		return
	}
	target := *upstream
	target.Path = strings.TrimRight(upstream.Path, "/") + c.Request.URL.Path
	target.RawQuery = c.Request.URL.RawQuery
	s.forward(c, &target)
}

// forward buffers the request, injects memories, relays to the upstream,
// and tees the response. Memory failures never block the chat request.
func (s *Server) forward(c *gin.Context, target *url.URL) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "failed to read request body"))
		return
	}

	provider := providers.Detect(target)
	query := provider.ExtractQuery(body)
	if query != "" {
		body = s.injectMemories(c.Request.Context(), provider, body, query)
		s.bufferTurn(curator.Turn{Role: curator.RoleUser, Content: query})
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(s.cfg.TimeoutSecs)*time.Second)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, c.Request.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_url", "failed to build upstream request"))
		return
	}
	CopyProxyHeaders(upstreamReq, c.Request.Header, target.Host)
	upstreamReq.ContentLength = int64(len(body))

	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		log.Error("Proxy: upstream request failed", "target", target.Host, "err", err)
		c.JSON(http.StatusBadGateway, errorBody("proxy_error", "upstream request failed"))
		return
	}
	defer resp.Body.Close()

	StripHopByHop(resp.Header)
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)

	wantStream := resp.StatusCode >= 200 && resp.StatusCode < 300 &&
		(isStreamingContentType(resp.Header.Get("Content-Type")) || clientRequestedStream(body))

	if wantStream {
		s.streamResponse(c, resp, provider)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Proxy: read upstream body failed", "err", err)
		return
	}
	_, _ = c.Writer.Write(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.spawnCapture(func(ctx context.Context) {
			s.captureResponse(ctx, provider.ExtractResponseContent(respBody))
		})
	}
}

// streamResponse relays the body chunk-by-chunk through a tee. The client
// path flushes after every chunk; the buffered copy feeds extraction after
// end-of-stream. A client disconnect aborts the upstream and discards the
// buffer without ingestion.
func (s *Server) streamResponse(c *gin.Context, resp *http.Response, provider providers.Provider) {
	tee := NewTeeReader(resp.Body)
	flusher, _ := c.Writer.(http.Flusher)

	buf := make([]byte, 32*1024)
	clientGone := false
	for {
		n, err := tee.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				clientGone = true
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
	}
	_ = tee.Close()

	raw := <-tee.Done()
	if clientGone {
		log.Debug("Proxy: client disconnected mid-stream, discarding buffer")
		return
	}

	s.spawnCapture(func(ctx context.Context) {
		content, complete, events := provider.ExtractStreamContent(string(raw))
		log.Debug("Proxy: stream captured", "events", events, "complete", complete, "bytes", len(raw))
		s.captureResponse(ctx, content)
	})
}

// injectMemories runs retrieval and splices the memory block into the
// payload. Every failure path returns the original body unchanged.
func (s *Server) injectMemories(ctx context.Context, provider providers.Provider, body []byte, query string) []byte {
	routed, err := s.router.Route(ctx, query)
	if err != nil {
		log.Warn("Proxy: router failed, forwarding unchanged", "err", err)
		return body
	}

	results, err := s.retriever.RetrieveFiltered(ctx, query, nil, s.cfg.MaxMemories, routed.EntityTexts())
	if err != nil {
		log.Warn("Proxy: retrieval failed, forwarding unchanged", "err", err)
		return body
	}
	results = s.applyRelevanceThreshold(results)
	results = TruncateToBudget(results, s.cfg.MaxInjectionTokens)
	if len(results) == 0 {
		return body
	}

	injected, err := provider.InjectMemories(body, RenderMemoryBlock(results))
	if err != nil {
		log.Warn("Proxy: injection failed, forwarding unchanged", "err", err)
		return body
	}
	log.Debug("Proxy: injected memories", "count", len(results))
	return injected
}

func (s *Server) applyRelevanceThreshold(results []retrieval.Retrieved) []retrieval.Retrieved {
	if s.cfg.RelevanceThreshold <= 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if r.Similarity >= s.cfg.RelevanceThreshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// captureResponse ingests assistant content and advances the curation
// buffer. Runs in the background; errors are logged and dropped.
func (s *Server) captureResponse(ctx context.Context, content string) {
	if !WorthIngesting(content) {
		return
	}
	if _, err := s.ingester.Ingest(ctx, content, model.SourceConversation, nil); err != nil {
		log.Error("Proxy: response ingestion failed", "err", err)
	}
	s.bufferTurn(curator.Turn{Role: curator.RoleAssistant, Content: content})
	s.maybeCurate(ctx)
}

func (s *Server) bufferTurn(turn curator.Turn) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.buffer.Push(turn)
}

// maybeCurate hands the buffered conversation to the curator once enough
// turns have accumulated, ingesting whatever it extracts.
func (s *Server) maybeCurate(ctx context.Context) {
	if s.curator == nil {
		return
	}

	s.bufMu.Lock()
	if s.buffer.Len() < curateEveryTurns {
		s.bufMu.Unlock()
		return
	}
	convo := s.buffer.PromptContext()
	s.buffer.Clear()
	s.bufMu.Unlock()

	result, err := s.curator.Curate(ctx, convo)
	if err != nil {
		log.Warn("Proxy: curation failed", "err", err)
		return
	}
	if !result.ShouldStore {
		return
	}
	for _, cm := range result.Memories {
		if _, err := s.ingester.IngestCurated(ctx, cm, nil); err != nil {
			log.Error("Proxy: curated ingestion failed", "err", err)
		}
	}
	log.Info("Proxy: curated memories stored", "count", len(result.Memories))
}

// spawnCapture runs a background task that survives the client connection.
func (s *Server) spawnCapture(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

func isStreamingContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "text/event-stream") || strings.HasPrefix(ct, "application/x-ndjson")
}

// clientRequestedStream sniffs the request payload for "stream": true.
func clientRequestedStream(body []byte) bool {
	return bytes.Contains(body, []byte(`"stream":true`)) ||
		bytes.Contains(body, []byte(`"stream": true`))
}
