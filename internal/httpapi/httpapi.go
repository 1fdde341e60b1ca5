// Package httpapi binds the script manager operations to HTTP routes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/CZERTAINLY/scriptd/internal/query"
	"github.com/CZERTAINLY/scriptd/internal/script"
	"github.com/CZERTAINLY/scriptd/internal/service"
)

// MaxSourceSize limits the body of a submit request.
const MaxSourceSize = 1 << 20

// Manager is the set of operations exposed over HTTP, implemented by
// *service.Manager.
type Manager interface {
	Submit(ctx context.Context, name, src string) (script.Info, error)
	Status(name string) (script.Info, error)
	Logs(name string, r service.Range) ([]byte, error)
	Stream(ctx context.Context, name string, w io.Writer) error
	Stop(name string) error
	Delete(name string) error
	List(q query.Query) (query.Page, error)
	Len() int
}

var _ Manager = (*service.Manager)(nil)

type controller struct {
	m Manager
}

// New returns the HTTP handler serving the /v1 API.
func New(m Manager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logRequests())

	c := controller{m: m}
	v1 := r.Group("/v1")
	v1.GET("/health", c.health)
	v1.GET("/scripts", c.list)
	v1.POST("/scripts/:name", c.submit)
	v1.GET("/scripts/:name", c.status)
	v1.DELETE("/scripts/:name", c.delete)
	v1.POST("/scripts/:name/stop", c.stop)
	v1.GET("/scripts/:name/logs", c.logs)
	v1.GET("/scripts/:name/logs/stream", c.stream)
	return r
}

func logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.DebugContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (ctl controller) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "scripts": ctl.m.Len()})
}

func (ctl controller) submit(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxSourceSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody("too_large", err))
			return
		}
		writeError(c, err)
		return
	}
	info, err := ctl.m.Submit(c.Request.Context(), c.Param("name"), string(body))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, info)
}

func (ctl controller) status(c *gin.Context) {
	info, err := ctl.m.Status(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (ctl controller) stop(c *gin.Context) {
	name := c.Param("name")
	if err := ctl.m.Stop(name); err != nil {
		writeError(c, err)
		return
	}
	info, err := ctl.m.Status(name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, info)
}

func (ctl controller) delete(c *gin.Context) {
	if err := ctl.m.Delete(c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl controller) logs(c *gin.Context) {
	var r service.Range
	var err error
	if v, ok := c.GetQuery("from"); ok {
		if r.From, err = intParam("from", v); err != nil {
			writeError(c, err)
			return
		}
	}
	if v, ok := c.GetQuery("to"); ok {
		to, err := intParam("to", v)
		if err != nil {
			writeError(c, err)
			return
		}
		r.To = &to
	}
	data, err := ctl.m.Logs(c.Param("name"), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

func (ctl controller) stream(c *gin.Context) {
	name := c.Param("name")
	if _, err := ctl.m.Status(name); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	err := ctl.m.Stream(ctx, name, flushWriter{w: c.Writer})
	if err != nil && !errors.Is(err, context.Canceled) {
		// headers are gone already, the client sees a truncated stream
		slog.WarnContext(ctx, "log stream ended", "script.name", name, "error", err)
	}
}

type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}

func (ctl controller) list(c *gin.Context) {
	q := query.Query{
		Status:   c.Query("status"),
		Name:     c.Query("name"),
		Page:     1,
		PageSize: query.DefaultPageSize,
		Sort:     c.Query("sort"),
		Order:    c.Query("order"),
	}
	var err error
	if v, ok := c.GetQuery("page"); ok {
		if q.Page, err = intParam("page", v); err != nil {
			writeError(c, err)
			return
		}
	}
	if v, ok := c.GetQuery("pageSize"); ok {
		if q.PageSize, err = intParam("pageSize", v); err != nil {
			writeError(c, err)
			return
		}
	}
	page, err := ctl.m.List(q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func intParam(name, v string) (int, error) {
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", model.ErrInvalidArgument, name, err)
	}
	return i, nil
}

func errorBody(code string, err error) gin.H {
	return gin.H{"error": code, "detail": err.Error()}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, model.ErrNameInUse):
		status, code = http.StatusConflict, "name_in_use"
	case errors.Is(err, model.ErrInvalidName):
		status, code = http.StatusBadRequest, "invalid_name"
	case errors.Is(err, model.ErrInvalidScript):
		status, code = http.StatusBadRequest, "invalid_script"
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, model.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, model.ErrPageOutOfRange):
		status, code = http.StatusNotFound, "page_out_of_range"
	case errors.Is(err, service.ErrClosed):
		status, code = http.StatusServiceUnavailable, "unavailable"
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody(code, err))
}
