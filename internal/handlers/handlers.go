package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/malaria-detect/internal/usecase"
)

// MaxUploadSize is the default limit on a prediction request body.
const MaxUploadSize = 10 << 20

// FormField is the multipart field carrying the uploaded image.
const FormField = "file"

// Predictor is the subset of the prediction use case the routes depend on.
type Predictor interface {
	Predict(ctx context.Context, requestID, key string, imageBytes []byte) (*usecase.Result, error)
	HasModel(key string) bool
	Models() []usecase.ModelInfo
	GetMetricsSummary() *usecase.MetricsSummary
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Request bodies
// larger than maxUploadSize are rejected; zero or less selects MaxUploadSize.
func RegisterRoutes(router *gin.Engine, uc Predictor, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}
	router.Use(RequestID(), CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": uc.Models()})
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.GetMetricsSummary())
	})

	router.POST("/predict/:model", func(c *gin.Context) {
		key := c.Param("model")
		if !uc.HasModel(key) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown model " + key})
			return
		}

		if c.Request.ContentLength > maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

		file, err := c.FormFile(FormField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required in field " + FormField})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		result, err := uc.Predict(c.Request.Context(), GetRequestID(c), key, data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	})
}
