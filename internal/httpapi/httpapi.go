// Package httpapi exposes a kv.Store over HTTP with gin.
//
// Values travel as base64 inside JSON ([]byte fields). Absent keys and failed
// preconditions are normal 200 responses; invalid input is 400 and a durable
// tier failure is 503.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/tiermap"
	"github.com/unkn0wn-root/tiermap/kv"
)

const RequestIDHeader = "X-Request-ID"

type valueRequest struct {
	Value []byte `json:"value"`
}

type casRequest struct {
	Old []byte `json:"old"`
	New []byte `json:"new"`
}

type deleteRequest struct {
	Old []byte `json:"old"`
}

type getResponse struct {
	Found bool   `json:"found"`
	Value []byte `json:"value,omitempty"`
}

type putIfAbsentResponse struct {
	Loaded   bool   `json:"loaded"`
	Previous []byte `json:"previous,omitempty"`
}

type replaceResponse struct {
	Replaced bool   `json:"replaced"`
	Previous []byte `json:"previous,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type handler struct {
	store kv.Store
	log   *zap.Logger
}

// NewRouter returns a gin engine serving store under /v1/kv.
func NewRouter(store kv.Store, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{store: store, log: log}

	r := gin.New()
	r.Use(requestID(), accessLog(log), gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1/kv")
	{
		v1.GET("/:key", h.get)
		v1.POST("/:key/put-if-absent", h.putIfAbsent)
		v1.PUT("/:key", h.replace)
		v1.POST("/:key/cas", h.compareAndSwap)
		v1.POST("/:key/delete", h.compareAndDelete)
	}
	return r
}

func (h *handler) get(c *gin.Context) {
	v, ok, err := h.store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, getResponse{Found: ok, Value: v})
}

func (h *handler) putIfAbsent(c *gin.Context) {
	var req valueRequest
	if !h.bind(c, &req) {
		return
	}
	prev, loaded, err := h.store.PutIfAbsent(c.Request.Context(), c.Param("key"), req.Value)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, putIfAbsentResponse{Loaded: loaded, Previous: prev})
}

func (h *handler) replace(c *gin.Context) {
	var req valueRequest
	if !h.bind(c, &req) {
		return
	}
	prev, replaced, err := h.store.Replace(c.Request.Context(), c.Param("key"), req.Value)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, replaceResponse{Replaced: replaced, Previous: prev})
}

func (h *handler) compareAndSwap(c *gin.Context) {
	var req casRequest
	if !h.bind(c, &req) {
		return
	}
	ok, err := h.store.CompareAndSwap(c.Request.Context(), c.Param("key"), req.Old, req.New)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swapped": ok})
}

func (h *handler) compareAndDelete(c *gin.Context) {
	var req deleteRequest
	if !h.bind(c, &req) {
		return
	}
	ok, err := h.store.CompareAndDelete(c.Request.Context(), c.Param("key"), req.Old)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": ok})
}

func (h *handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error(), RequestID: c.GetString("request_id")})
		return false
	}
	return true
}

func (h *handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kv.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, tiermap.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusBadRequest {
		h.log.Error("request failed", zap.Error(err), zap.String("request_id", c.GetString("request_id")))
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), RequestID: c.GetString("request_id")})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
