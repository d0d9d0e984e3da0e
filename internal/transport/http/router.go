package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Gunvolt24/amqp_worker/internal/ports"
	"github.com/Gunvolt24/amqp_worker/internal/rabbit"
)

// StatusProvider — источник среза состояния сессии для операционного эндпоинта.
type StatusProvider interface {
	Snapshot() rabbit.Snapshot
}

type Handler struct {
	status StatusProvider
	log    ports.Logger
}

func NewHandler(status StatusProvider, log ports.Logger) *Handler {
	return &Handler{status: status, log: log}
}

// NewRouter — операционный HTTP: ping, метрики Prometheus и статус сессии.
// otelServiceName непустой — включается otelgin middleware.
func NewRouter(h *Handler, otelServiceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.log))
	if otelServiceName != "" {
		r.Use(otelgin.Middleware(otelServiceName))
	}

	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", h.getStatus)

	return r
}

// getStatus отдаёт срез состояния сессии: имя, идентификатор запуска,
// счётчики и активные consumer tags (для сверки с брокером).
func (h *Handler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Snapshot())
}

func requestLogger(log ports.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		log.Infof(c.Request.Context(), "request method=%s path=%s status=%d duration=%s",
			c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}
