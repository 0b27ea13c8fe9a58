// Package reporting serves recorded traces over HTTP as JSON, together with
// a small HTML index and the Prometheus metrics of the process.
package reporting

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/pkg/api"
)

// MetricsWriter renders metrics in the Prometheus text format.
type MetricsWriter interface {
	WritePrometheus(w io.Writer) error
}

// Handler answers trace queries against a TraceReader.
type Handler struct {
	store   persistence.TraceReader
	engine  api.Engine
	metrics MetricsWriter
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics exposes m at /metrics.
func WithMetrics(m MetricsWriter) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithEngine enables POST /api/runs, which executes the engine's workflow
// synchronously for the posted prompt.
func WithEngine(e api.Engine) Option {
	return func(h *Handler) { h.engine = e }
}

// WithLogger sets the logger used for request failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a Handler reading from store.
func NewHandler(store persistence.TraceReader, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on s.
func (h *Handler) Register(s *server.Hertz) {
	s.GET("/", h.Index)
	s.GET("/metrics", h.Metrics)

	g := s.Group("/api")
	g.GET("/runs", h.ListRuns)
	if h.engine != nil {
		g.POST("/runs", h.StartRun)
	}
	g.GET("/nodes/:run_id", h.ListNodes)
	g.GET("/contexts/:run_id", h.ListContexts)
}

// NewServer builds a Hertz server listening on addr with the handler's
// routes registered. Start it with Spin or Run.
func NewServer(addr string, h *Handler) *server.Hertz {
	s := server.Default(server.WithHostPorts(addr))
	h.Register(s)
	return s
}

// ListRuns handles GET /api/runs?limit=N.
func (h *Handler) ListRuns(c context.Context, ctx *app.RequestContext) {
	limit, err := parseLimit(string(ctx.Query("limit")))
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	views, err := h.runViews(c, limit)
	if err != nil {
		h.fail(c, ctx, "list runs", err)
		return
	}
	ctx.JSON(consts.StatusOK, views)
}

// StartRunRequest is the body of POST /api/runs.
type StartRunRequest struct {
	Prompt string `json:"prompt"`
}

// StartRunResponse is returned by POST /api/runs. Error is set when the run
// started but did not complete.
type StartRunResponse struct {
	RunID        string      `json:"run_id"`
	Status       string      `json:"status"`
	FinalContext api.Context `json:"final_context,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// StartRun handles POST /api/runs.
func (h *Handler) StartRun(c context.Context, ctx *app.RequestContext) {
	var req StartRunRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	res, err := h.engine.Run(c, req.Prompt)
	if err == nil {
		ctx.JSON(consts.StatusCreated, StartRunResponse{
			RunID:        res.RunID,
			Status:       string(api.RunCompleted),
			FinalContext: res.FinalContext,
		})
		return
	}

	var stepErr *api.StepExecutionError
	if res != nil && errors.As(err, &stepErr) {
		ctx.JSON(consts.StatusUnprocessableEntity, StartRunResponse{
			RunID:        res.RunID,
			Status:       string(api.RunIncomplete),
			FinalContext: res.FinalContext,
			Error:        err.Error(),
		})
		return
	}
	h.fail(c, ctx, "start run", err)
}

// ListNodes handles GET /api/nodes/:run_id.
func (h *Handler) ListNodes(c context.Context, ctx *app.RequestContext) {
	runID := strings.TrimSpace(ctx.Param("run_id"))
	attempts, err := h.store.ListStepAttempts(c, runID)
	if err != nil {
		h.fail(c, ctx, "list nodes", err)
		return
	}

	out := make([]NodeView, 0, len(attempts))
	for i := range attempts {
		out = append(out, newNodeView(&attempts[i]))
	}
	ctx.JSON(consts.StatusOK, out)
}

// ListContexts handles GET /api/contexts/:run_id.
func (h *Handler) ListContexts(c context.Context, ctx *app.RequestContext) {
	runID := strings.TrimSpace(ctx.Param("run_id"))
	versions, err := h.store.ListContextVersions(c, runID)
	if err != nil {
		h.fail(c, ctx, "list contexts", err)
		return
	}

	out := make([]ContextView, 0, len(versions))
	for i := range versions {
		out = append(out, newContextView(&versions[i]))
	}
	ctx.JSON(consts.StatusOK, out)
}

// Metrics handles GET /metrics.
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	if h.metrics == nil {
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": "metrics are disabled"})
		return
	}
	var buf bytes.Buffer
	if err := h.metrics.WritePrometheus(&buf); err != nil {
		h.fail(c, ctx, "write metrics", err)
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// Index handles GET / with an HTML table of recent runs.
func (h *Handler) Index(c context.Context, ctx *app.RequestContext) {
	views, err := h.runViews(c, persistence.DefaultListLimit)
	if err != nil {
		h.fail(c, ctx, "render index", err)
		return
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, views); err != nil {
		h.fail(c, ctx, "render index", err)
		return
	}
	ctx.Data(consts.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *Handler) runViews(c context.Context, limit int) ([]RunView, error) {
	runs, err := h.store.ListRuns(c, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		versions, err := h.store.ListContextVersions(c, run.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, newRunView(run, api.StatusOf(versions)))
	}
	return out, nil
}

func (h *Handler) fail(c context.Context, ctx *app.RequestContext, op string, err error) {
	h.logger.ErrorContext(c, "request failed",
		slog.String("op", op),
		slog.String("path", string(ctx.Path())),
		slog.Any("error", err),
	)
	ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
}

type limitError struct{ raw string }

func (e *limitError) Error() string {
	return "invalid limit " + strconv.Quote(e.raw) + ": must be a positive integer"
}

// parseLimit accepts an empty value (default limit) or a positive integer.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return persistence.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &limitError{raw: raw}
	}
	return n, nil
}
