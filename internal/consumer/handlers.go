package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/giobyte8/imagecache/internal/config"
	"github.com/giobyte8/imagecache/internal/models"
	"github.com/giobyte8/imagecache/internal/services"
	"github.com/giobyte8/imagecache/internal/telemetry"
	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
)

// ImageService is the part of services.ImageStorage the consumer drives.
type ImageService interface {
	GetImage(ctx context.Context, file services.Nameable, opts config.Options) (*services.Image, error)
	DeleteImage(ctx context.Context, file services.Nameable, excludedTypes []string) error
}

// errPermanent marks messages that would fail the same way on redelivery.
var errPermanent = errors.New("permanent failure")

// Handlers turns queue messages into ImageService calls.
type Handlers struct {
	images    ImageService
	telemetry *telemetry.TelemetrySvc
}

// NewHandlers falls back to noop telemetry when tel is nil.
func NewHandlers(images ImageService, tel *telemetry.TelemetrySvc) *Handlers {
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &Handlers{images: images, telemetry: tel}
}

// HandleDerivativeRequest generates the derivative described by body.
func (h *Handlers) HandleDerivativeRequest(ctx context.Context, body []byte) error {
	var req models.DerivativeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: malformed derivative request: %v", errPermanent, err)
	}
	if !services.ValidFileName(req.FileName) {
		return fmt.Errorf("%w: derivative request with invalid file name %q", errPermanent, req.FileName)
	}
	h.telemetry.Metrics().Increment(metrics.GenRequestReceived, nil)

	opts, err := config.ParseOptions(req.Options)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	img, err := h.images.GetImage(ctx, services.FileName(req.FileName), opts)
	if err != nil {
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return err
	}

	switch {
	case img == nil:
		slog.Warn("No image available", "requestId", requestID(req.RequestID), "file", req.FileName)
	case img.Placeholder:
		slog.Warn("Derivative not generated, placeholder served", "requestId", requestID(req.RequestID), "file", req.FileName)
	default:
		slog.Debug("Derivative ready", "requestId", requestID(req.RequestID), "src", img.Src)
	}
	return nil
}

// HandleDeleteRequest removes the image described by body.
func (h *Handlers) HandleDeleteRequest(ctx context.Context, body []byte) error {
	var req models.DeleteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: malformed delete request: %v", errPermanent, err)
	}
	if !services.ValidFileName(req.FileName) {
		return fmt.Errorf("%w: delete request with invalid file name %q", errPermanent, req.FileName)
	}
	h.telemetry.Metrics().Increment(metrics.DelRequestReceived, nil)

	slog.Debug(
		"Deleting image",
		"requestId", requestID(req.RequestID),
		"file", req.FileName,
		"keepTypes", req.KeepTypes,
	)
	return h.images.DeleteImage(ctx, services.FileName(req.FileName), req.KeepTypes)
}

func requestID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
