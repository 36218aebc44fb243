// Package attachment decides how each file attached to a user turn reaches
// the model: inlined as an image, uploaded as an image, inlined as text, or
// skipped.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"openbridge/internal/config"
	"openbridge/internal/domain"
)

// ErrUpload marks a failed image upload. It aborts the turn.
var ErrUpload = errors.New("attachment upload failed")

// UploadPurpose is the file-store purpose used for uploaded images.
const UploadPurpose = "user_data"

type Disposition string

const (
	ImageInline   Disposition = "image-inline"
	ImageUploaded Disposition = "image-uploaded"
	TextInline    Disposition = "text-inline"
	Skipped       Disposition = "skipped"
)

var textMimeTypes = map[string]bool{
	"text/plain":          true,
	"text/csv":            true,
	"text/markdown":       true,
	"text/xml":            true,
	"text/yaml":           true,
	"text/x-yaml":         true,
	"application/json":    true,
	"application/ld+json": true,
	"application/xml":     true,
	"application/yaml":    true,
	"application/x-yaml":  true,
	"application/csv":     true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".xml": true, ".yaml": true, ".yml": true,
	".csv": true, ".tsv": true, ".log": true, ".ini": true, ".toml": true, ".html": true, ".htm": true,
}

// Uploader pushes bytes to the provider's file store.
type Uploader interface {
	UploadFile(ctx context.Context, f domain.FileUpload) (string, error)
}

// Uploads collects the file IDs created during one turn so they can all be
// deleted when the turn ends.
type Uploads struct {
	ids []string
}

func (u *Uploads) Add(id string) { u.ids = append(u.ids, id) }

func (u *Uploads) IDs() []string {
	out := make([]string, len(u.ids))
	copy(out, u.ids)
	return out
}

func (u *Uploads) Len() int { return len(u.ids) }

// Classify returns the disposition of att under the given transport mode.
func Classify(att domain.Attachment, mode config.AttachmentMode) Disposition {
	if len(att.Data) == 0 {
		return Skipped
	}
	mimeType := normalizeMime(att.MimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		if mode == config.ModeInline {
			return ImageInline
		}
		return ImageUploaded
	case textMimeTypes[mimeType]:
		return TextInline
	case mimeType == "" && textExtensions[strings.ToLower(filepath.Ext(att.Name))]:
		return TextInline
	default:
		return Skipped
	}
}

type Encoder struct {
	uploader Uploader
	mode     config.AttachmentMode
	logger   *slog.Logger
}

func NewEncoder(uploader Uploader, mode config.AttachmentMode, logger *slog.Logger) *Encoder {
	if mode == "" {
		mode = config.ModeUpload
	}
	return &Encoder{uploader: uploader, mode: mode, logger: logger}
}

// Encode turns one attachment into a content part. A nil part with a nil
// error means the attachment was skipped. Uploaded file IDs are recorded in
// uploads before Encode returns.
func (e *Encoder) Encode(ctx context.Context, att domain.Attachment, uploads *Uploads) (*domain.ContentPart, Disposition, error) {
	disposition := Classify(att, e.mode)
	mimeType := normalizeMime(att.MimeType)

	switch disposition {
	case ImageInline:
		e.logger.Debug("inlining image attachment", "name", att.Name, "mime_type", mimeType, "size", len(att.Data))
		return &domain.ContentPart{
			Type:     domain.PartInputImage,
			ImageURL: DataURI(mimeType, att.Data),
			Detail:   "auto",
		}, disposition, nil

	case ImageUploaded:
		fileID, err := e.uploader.UploadFile(ctx, domain.FileUpload{
			Name:     fileName(att),
			MimeType: mimeType,
			Purpose:  UploadPurpose,
			Data:     att.Data,
		})
		if err != nil {
			return nil, disposition, fmt.Errorf("%w: %s: %w", ErrUpload, fileName(att), err)
		}
		uploads.Add(fileID)
		e.logger.Debug("uploaded image attachment", "name", att.Name, "file_id", fileID)
		return &domain.ContentPart{
			Type:   domain.PartInputImage,
			FileID: fileID,
			Detail: "auto",
		}, disposition, nil

	case TextInline:
		content := strings.ToValidUTF8(string(att.Data), "\uFFFD")
		e.logger.Debug("inlining text attachment", "name", att.Name, "size", len(att.Data))
		return &domain.ContentPart{
			Type: domain.PartInputText,
			Text: fmt.Sprintf("File: %s\n\n%s", fileName(att), content),
		}, disposition, nil

	default:
		if len(att.Data) == 0 {
			e.logger.Info("skipping attachment without content", "name", att.Name)
		} else {
			e.logger.Info("skipping unsupported attachment", "name", att.Name, "mime_type", att.MimeType)
		}
		return nil, Skipped, nil
	}
}

// DataURI embeds data as a base64 data URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func normalizeMime(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func fileName(att domain.Attachment) string {
	if att.Name != "" {
		return att.Name
	}
	return "attachment"
}
