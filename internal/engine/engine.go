package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/logging"
	"github.com/andresmejia3/attendo/internal/types"
)

type Op string

const (
	OpRecognize Op = "recognize"
	OpEnroll    Op = "enroll"
)

// Request is the JSON document handed to the recognition engine.
// A nil LivenessThreshold is sent as null and means "engine default".
type Request struct {
	Op                Op       `json:"op"`
	RequestID         string   `json:"request_id,omitempty"`
	ImagePath         string   `json:"image_path"`
	GalleryPath       string   `json:"gallery_path"`
	LivenessThreshold *float64 `json:"liveness_threshold"`
	Name              string   `json:"name,omitempty"`
}

// Result is the untouched engine response. Interpreting it is left to the outcome package.
type Result struct {
	Op      Op
	Raw     json.RawMessage
	Elapsed time.Duration
}

// Transport delivers one request to an engine and returns its raw JSON reply.
type Transport interface {
	Call(ctx context.Context, req Request) ([]byte, error)
}

// Client validates inputs and dispatches them to the engine through a Transport.
type Client struct {
	transport Transport
	logger    *zap.Logger
}

func NewClient(transport Transport, logger *zap.Logger) *Client {
	return &Client{transport: transport, logger: logger.Named("engine")}
}

// Recognize asks the engine to identify the face in imagePath against the gallery.
func (c *Client) Recognize(ctx context.Context, requestID, imagePath, galleryPath string, threshold *float64) (*Result, error) {
	return c.call(ctx, Request{
		Op:                OpRecognize,
		RequestID:         requestID,
		ImagePath:         imagePath,
		GalleryPath:       galleryPath,
		LivenessThreshold: threshold,
	})
}

// Enroll asks the engine to add the face in imagePath to the gallery under name.
func (c *Client) Enroll(ctx context.Context, requestID, imagePath, galleryPath, name string) (*Result, error) {
	return c.call(ctx, Request{
		Op:          OpEnroll,
		RequestID:   requestID,
		ImagePath:   imagePath,
		GalleryPath: galleryPath,
		Name:        name,
	})
}

// Close shuts the transport down when it holds resources.
func (c *Client) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, req Request) (*Result, error) {
	log := logging.WithOperation(c.logger, string(req.Op), req.RequestID)

	if err := Preflight(req.ImagePath, req.GalleryPath); err != nil {
		log.Warn("preflight failed", zap.Error(err))
		return nil, logging.NewOperationError("engine."+string(req.Op), req.RequestID, err)
	}

	start := time.Now()
	raw, err := c.transport.Call(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("engine call failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return nil, logging.NewOperationError("engine."+string(req.Op), req.RequestID, types.ErrEngineCall.WithError(err))
	}
	if err := checkPayload(raw); err != nil {
		log.Error("engine returned an unusable payload", zap.Error(err), zap.ByteString("payload", truncate(raw, 512)))
		return nil, logging.NewOperationError("engine."+string(req.Op), req.RequestID, types.ErrEngineCall.WithError(err))
	}

	log.Debug("engine call finished", zap.Duration("elapsed", elapsed), zap.Int("bytes", len(raw)))
	return &Result{Op: req.Op, Raw: raw, Elapsed: elapsed}, nil
}

// Preflight checks that the image exists and is non-empty and that the gallery exists.
// A zero-byte image is never sent to the engine.
func Preflight(imagePath, galleryPath string) error {
	img, err := os.Stat(imagePath)
	if err != nil {
		return types.ErrPreflight.WithError(fmt.Errorf("image: %w", err))
	}
	if !img.Mode().IsRegular() {
		return types.ErrPreflight.WithError(fmt.Errorf("image %s is not a regular file", imagePath))
	}
	if img.Size() == 0 {
		return types.ErrPreflight.WithError(fmt.Errorf("image %s is empty", imagePath))
	}
	if _, err := os.Stat(galleryPath); err != nil {
		return types.ErrPreflight.WithError(fmt.Errorf("gallery: %w", err))
	}
	return nil
}

// checkPayload rejects replies that are not JSON at all, and the {"error": ...} document
// engines emit when the request itself could not be served.
func checkPayload(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("empty response")
	}
	if !json.Valid(raw) {
		return fmt.Errorf("response is not JSON: %s", truncate(raw, 200))
	}

	var probe struct {
		types.ErrorResult
		Status *string `json:"status"`
	}
	if json.Unmarshal(raw, &probe) == nil && probe.Error != "" && probe.Status == nil {
		return errors.New(probe.Error)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
