package models

import (
	"github.com/google/uuid"
)

// DerivativeRequest asks for a derivative to be generated ahead of the
// first page view.
type DerivativeRequest struct {
	RequestID uuid.UUID `json:"requestId"`

	// Stored file name, as returned by the upload
	FileName string `json:"fileName"`

	// Same keys accepted on a page request: type, width, height,
	// transform, compression, destDir...
	Options map[string]string `json:"options,omitempty"`
}

// DeleteRequest asks for a stored image and its derivatives to be
// removed.
type DeleteRequest struct {
	RequestID uuid.UUID `json:"requestId"`
	FileName  string    `json:"fileName"`

	// Types whose derivatives survive. When set, the original and the
	// working copy survive as well.
	KeepTypes []string `json:"keepTypes,omitempty"`
}
