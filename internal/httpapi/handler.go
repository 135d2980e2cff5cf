package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/giobyte8/imagecache/internal/config"
	"github.com/giobyte8/imagecache/internal/resize"
	"github.com/giobyte8/imagecache/internal/services"
	"github.com/giobyte8/imagecache/internal/transform"
)

const (
	maxUploadSize = 32 << 20
	maxMemory     = 8 << 20
)

type fileRequest struct {
	File string `validate:"required,max=255,excludesall=/\\"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type linkResponse struct {
	Src string `json:"src"`
}

type uploadResponse struct {
	FileName string `json:"fileName"`
}

type configResponse struct {
	Type        string            `json:"type,omitempty"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Compression int               `json:"compression"`
	Transform   resize.Strategies `json:"transform"`
	DestDir     string            `json:"destDir,omitempty"`
	Lazy        bool              `json:"lazy"`
	Placeholder string            `json:"placeholder"`
	ImgTagAttrs map[string]string `json:"imgTagAttrs"`
}

// GetImage describes the derivative selected by the query string. The
// placeholder is returned when the image is not available.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	file, opts, ok := h.parseImageRequest(w, r)
	if !ok {
		return
	}

	img, err := h.images.GetImage(r.Context(), services.FileName(file), opts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if img == nil {
		respondError(w, http.StatusNotFound, "Image not available")
		return
	}

	respondJSON(w, http.StatusOK, img)
}

func (h *Handler) GetImageLink(w http.ResponseWriter, r *http.Request) {
	file, opts, ok := h.parseImageRequest(w, r)
	if !ok {
		return
	}

	link, err := h.images.GetImageLink(r.Context(), services.FileName(file), opts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if link == "" {
		respondError(w, http.StatusNotFound, "Image not available")
		return
	}

	respondJSON(w, http.StatusOK, linkResponse{Src: link})
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	opts, err := config.ParseOptions(queryValues(r.URL.Query()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	eff, err := h.images.GetConfig(opts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, configResponse{
		Type:        eff.Type,
		Width:       eff.Width,
		Height:      eff.Height,
		Compression: eff.Compression,
		Transform:   eff.Transform,
		DestDir:     eff.DestDir,
		Lazy:        eff.Lazy,
		Placeholder: eff.Placeholder,
		ImgTagAttrs: eff.ImgTagAttrs,
	})
}

// UploadImage stores the multipart "file" field and returns its new name.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		slog.Warn("Failed to parse multipart form", "error", err)
		respondError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	defer r.MultipartForm.RemoveAll()

	upload := receive(r)
	defer upload.cleanup()

	name, err := h.images.SaveUpload(r.Context(), upload)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, uploadResponse{FileName: name})
}

// DeleteImage removes the image. Types listed in ?keep=a,b survive.
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	file, ok := h.parseFile(w, r)
	if !ok {
		return
	}

	var keep []string
	for _, t := range strings.Split(r.URL.Query().Get("keep"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			keep = append(keep, t)
		}
	}

	if err := h.images.DeleteImage(r.Context(), services.FileName(file), keep); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseFile(w http.ResponseWriter, r *http.Request) (string, bool) {
	req := fileRequest{File: chi.URLParam(r, "file")}
	if err := h.validate.Struct(req); err != nil || strings.Contains(req.File, "..") {
		respondError(w, http.StatusBadRequest, "Invalid file name")
		return "", false
	}
	return req.File, true
}

func (h *Handler) parseImageRequest(
	w http.ResponseWriter,
	r *http.Request,
) (string, config.Options, bool) {
	file, ok := h.parseFile(w, r)
	if !ok {
		return "", config.Options{}, false
	}

	opts, err := config.ParseOptions(queryValues(r.URL.Query()))
	if err != nil {
		h.handleError(w, r, err)
		return "", config.Options{}, false
	}
	return file, opts, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		configErr    *config.ConfigError
		uploadErr    *services.UploadError
		transformErr *transform.TransformError
	)

	switch {
	case errors.As(err, &configErr):
		respondError(w, http.StatusBadRequest, configErr.Error())
	case errors.As(err, &uploadErr):
		slog.Warn("Upload rejected", "requestId", requestIDFrom(r.Context()), "error", err)
		respondError(w, http.StatusBadRequest, uploadErr.Error())
	case errors.As(err, &transformErr):
		slog.Warn("Image could not be processed", "requestId", requestIDFrom(r.Context()), "error", err)
		respondError(w, http.StatusUnprocessableEntity, "Image could not be processed")
	default:
		slog.Error("Request failed", "requestId", requestIDFrom(r.Context()), "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// queryValues keeps the first value of every query parameter.
func queryValues(q url.Values) map[string]string {
	values := make(map[string]string, len(q))
	for key, vs := range q {
		if len(vs) > 0 {
			values[key] = vs[0]
		}
	}
	return values
}

// multipartUpload adapts a multipart file field to services.FileUpload.
// The part is spooled into a temp file the storage can move.
type multipartUpload struct {
	name string
	path string
	err  error
}

func (u *multipartUpload) Name() string     { return u.name }
func (u *multipartUpload) TempPath() string { return u.path }
func (u *multipartUpload) Err() error       { return u.err }

// cleanup removes the temp file unless the storage moved it away.
func (u *multipartUpload) cleanup() {
	if u.path != "" {
		_ = os.Remove(u.path)
	}
}

func receive(r *http.Request) *multipartUpload {
	file, header, err := r.FormFile("file")
	if err != nil {
		return &multipartUpload{err: fmt.Errorf("file field missing: %w", err)}
	}
	defer file.Close()

	u := &multipartUpload{name: filepath.Base(header.Filename)}

	tmp, err := os.CreateTemp("", "imagecache-upload-*")
	if err != nil {
		u.err = err
		return u
	}
	u.path = tmp.Name()

	_, copyErr := io.Copy(tmp, file)
	u.err = errors.Join(copyErr, tmp.Close())
	return u
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
