package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/gallery"
	"github.com/andresmejia3/attendo/internal/imagenorm"
	"github.com/andresmejia3/attendo/internal/outcome"
	"github.com/andresmejia3/attendo/internal/pipeline"
	"github.com/andresmejia3/attendo/internal/store"
	"github.com/andresmejia3/attendo/internal/types"
)

// MaxUploadSize bounds a single captured image.
const MaxUploadSize = 10 << 20

// maxRequestSize leaves room for the form fields sent with the image.
const maxRequestSize = MaxUploadSize + 1<<20

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/bmp":  ".bmp",
}

// Pipeline is the part of *pipeline.Runner the HTTP surface drives.
type Pipeline interface {
	Attend(ctx context.Context, req pipeline.AttendRequest) outcome.Outcome
	Register(ctx context.Context, req pipeline.RegisterRequest) outcome.Outcome
}

type GalleryInspector interface {
	Info() (gallery.Info, error)
}

type AttendanceLister interface {
	ListAttendance(ctx context.Context, name string, limit int) ([]store.AttendanceRecord, error)
}

type Deps struct {
	Pipeline Pipeline
	Gallery  GalleryInspector
	// Log is nil when no database is configured.
	Log       AttendanceLister
	UploadDir string
	Logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	logger := deps.Logger.Named("api")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/gallery", func(c *gin.Context) {
		info, err := deps.Gallery.Info()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	router.POST("/attendance", func(c *gin.Context) {
		if !limitBody(c) {
			return
		}

		var threshold *float64
		if raw := strings.TrimSpace(c.PostForm("liveness_threshold")); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "liveness_threshold must be a number"})
				return
			}
			threshold = &v
		}

		var guidance types.FaceGuidanceStatus
		if raw := c.PostForm("guidance"); raw != "" {
			g, err := types.ParseGuidance(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			guidance = g
		}

		img, cleanup, ok := receiveImage(c, deps.UploadDir, logger)
		if !ok {
			return
		}
		defer cleanup()

		o := deps.Pipeline.Attend(c.Request.Context(), pipeline.AttendRequest{
			Image:             img,
			LivenessThreshold: threshold,
			Guidance:          guidance,
		})
		respond(c, o)
	})

	router.POST("/registrations", func(c *gin.Context) {
		if !limitBody(c) {
			return
		}

		name := c.PostForm("name")
		if strings.TrimSpace(name) == "" {
			respond(c, outcome.Fail(types.ErrInvalidName))
			return
		}

		img, cleanup, ok := receiveImage(c, deps.UploadDir, logger)
		if !ok {
			return
		}
		defer cleanup()

		respond(c, deps.Pipeline.Register(c.Request.Context(), pipeline.RegisterRequest{Name: name, Image: img}))
	})

	router.GET("/attendance", func(c *gin.Context) {
		if deps.Log == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "attendance log is not configured"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		records, err := deps.Log.ListAttendance(c.Request.Context(), c.Query("name"), limit)
		if err != nil {
			logger.Error("list attendance failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read attendance log"})
			return
		}
		if records == nil {
			records = []store.AttendanceRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})
}

// limitBody caps the request body and parses the form before any field is read.
// Only an oversized body is answered here; other parse errors surface from FormFile.
func limitBody(c *gin.Context) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestSize)
	if err := c.Request.ParseMultipartForm(MaxUploadSize); err != nil && isTooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
		return false
	}
	return true
}

// receiveImage stores the "image" form file under dir. It writes the error response itself
// and returns ok=false when the upload is unusable.
func receiveImage(c *gin.Context, dir string, logger *zap.Logger) (*types.CapturedImage, func(), bool) {
	file, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
			return nil, nil, false
		}
		respond(c, outcome.Fail(types.ErrNoPhotoCaptured.WithError(err)))
		return nil, nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
		return nil, nil, false
	}

	ext, ok := allowedContentTypes[contentType(file)]
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be JPEG, PNG or BMP"})
		return nil, nil, false
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("create upload dir failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return nil, nil, false
	}
	path := filepath.Join(dir, "upload-"+uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, path); err != nil {
		logger.Error("save upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return nil, nil, false
	}
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove upload failed", zap.String("path", path), zap.Error(err))
		}
	}

	img, err := imagenorm.Capture(path)
	if err != nil {
		cleanup()
		respond(c, outcome.Fail(types.ErrNoPhotoCaptured.WithError(err)))
		return nil, nil, false
	}
	return img, cleanup, true
}

func contentType(file *multipart.FileHeader) string {
	ct := file.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}

type response struct {
	outcome.Outcome
	Summary string `json:"summary"`
}

func respond(c *gin.Context, o outcome.Outcome) {
	c.JSON(statusFor(o), response{Outcome: o, Summary: o.Summary()})
}

// statusFor maps outcomes to HTTP status codes. Engine verdicts are all 200; only
// pipeline failures get error codes.
func statusFor(o outcome.Outcome) int {
	if o.Kind != outcome.Failed {
		return http.StatusOK
	}
	switch {
	case errors.Is(o.Err, types.ErrInvalidName),
		errors.Is(o.Err, types.ErrNoPhotoCaptured),
		errors.Is(o.Err, types.ErrCaptureGated):
		return http.StatusBadRequest
	case errors.Is(o.Err, types.ErrNormalization),
		errors.Is(o.Err, types.ErrPreflight):
		return http.StatusUnprocessableEntity
	case errors.Is(o.Err, types.ErrEngineCall),
		errors.Is(o.Err, types.ErrResultParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
