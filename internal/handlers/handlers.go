package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/catdog-api/internal/auth"
	"github.com/example/catdog-api/internal/config"
	"github.com/example/catdog-api/internal/logging"
	"github.com/example/catdog-api/internal/usecase"
)

// Client-facing error categories.
const (
	CategoryBadRequest = "Bad request error."
	CategoryInternal   = "Internal server error."
)

// MaxUploadSize is the default cap on the uploaded image.
const MaxUploadSize = config.MaxUploadSize

// multipartOverhead leaves room for boundaries and part headers.
const multipartOverhead = 64 << 10

// Options configures the routes.
type Options struct {
	MaxUploadSize int64
	// InferMiddleware runs before the inference handler, e.g. rate limiting.
	InferMiddleware []gin.HandlerFunc
	// MetricsEnabled registers GET /v1/metrics.
	MetricsEnabled bool
	// MetricsAuth guards the metrics route when non-nil.
	MetricsAuth gin.HandlerFunc
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.InferenceUseCase, opts Options, logger *zap.Logger) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}
	h := &handler{uc: uc, maxUpload: opts.MaxUploadSize, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/health/ready", h.ready)

	infer := append([]gin.HandlerFunc{}, opts.InferMiddleware...)
	infer = append(infer, h.infer)
	router.POST("/v1/infer", infer...)

	if opts.MetricsEnabled {
		metrics := []gin.HandlerFunc{}
		if opts.MetricsAuth != nil {
			metrics = append(metrics, opts.MetricsAuth)
		}
		metrics = append(metrics, h.metrics)
		router.GET("/v1/metrics", metrics...)
	}
}

type handler struct {
	uc        *usecase.InferenceUseCase
	maxUpload int64
	logger    *zap.Logger
}

func (h *handler) infer(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: CategoryBadRequest, Details: "File too large."})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: CategoryBadRequest, Details: "No file uploaded."})
		return
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: CategoryBadRequest, Details: "File too large."})
		return
	}
	if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: CategoryBadRequest, Details: "Only image files are allowed."})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.logger.Error("unable to open upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: CategoryInternal, Details: "Unable to read upload."})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		h.logger.Error("unable to read upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: CategoryInternal, Details: "Unable to read upload."})
		return
	}

	outcome, err := h.uc.HandleInferRequest(c.Request.Context(), data)
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		outcome.Result.Label: outcome.Result.Percentage,
		"request_id":         outcome.RequestID,
	})
}

// errorResponse maps a pipeline error to its HTTP status and body. Only the
// typed cause reaches the client, never operation or request metadata.
func errorResponse(err error) (int, ErrorResponse) {
	kind := usecase.Classify(err)
	switch {
	case kind.IsClientError():
		return http.StatusBadRequest, ErrorResponse{Error: CategoryBadRequest, Details: cause(err).Error()}
	case kind == usecase.KindInferenceService, kind == usecase.KindInvalidResponse:
		return http.StatusInternalServerError, ErrorResponse{Error: CategoryInternal, Details: "Inference failed. " + cause(err).Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: CategoryInternal, Details: "Inference failed."}
	}
}

func cause(err error) error {
	var opErr *logging.OperationError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err
	}
	return err
}

func (h *handler) ready(c *gin.Context) {
	if err := h.uc.Ready(c.Request.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *handler) metrics(c *gin.Context) {
	operator, ok := auth.GetOperator(c.Request.Context())
	if !ok {
		operator = "anonymous"
	}
	h.logger.Info("metrics requested", zap.String("operator", operator))

	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		if errors.Is(err, usecase.ErrMetricsDisabled) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found.", Details: err.Error()})
			return
		}
		h.logger.Error("metrics summary failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: CategoryInternal, Details: "Unable to load metrics."})
		return
	}
	c.JSON(http.StatusOK, summary)
}
