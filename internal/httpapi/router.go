// Package httpapi exposes the image storage over HTTP and serves the web
// root the derivative links point into.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/giobyte8/imagecache/internal/config"
	"github.com/giobyte8/imagecache/internal/services"
)

// ImageService is the part of services.ImageStorage served over HTTP.
type ImageService interface {
	GetImage(ctx context.Context, file services.Nameable, opts config.Options) (*services.Image, error)
	GetImageLink(ctx context.Context, file services.Nameable, opts config.Options) (string, error)
	GetConfig(opts config.Options) (config.Effective, error)
	SaveUpload(ctx context.Context, upload services.FileUpload) (string, error)
	DeleteImage(ctx context.Context, file services.Nameable, excludedTypes []string) error
}

type Handler struct {
	images   ImageService
	validate *validator.Validate
}

func NewHandler(images ImageService) *Handler {
	return &Handler{
		images:   images,
		validate: validator.New(),
	}
}

// NewRouter mounts the API under /api and serves webDir for every other
// path, so returned links resolve on the same server.
func NewRouter(h *Handler, webDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)

		r.Route("/images", func(r chi.Router) {
			r.Post("/", h.UploadImage)
			r.Get("/{file}", h.GetImage)
			r.Get("/{file}/link", h.GetImageLink)
			r.Delete("/{file}", h.DeleteImage)
		})

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	r.Handle("/*", http.FileServer(http.Dir(webDir)))
	return r
}
