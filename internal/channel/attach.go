package channel

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"openbridge/internal/config"
	"openbridge/internal/domain"
)

// LoadAttachment reads a local file into an attachment, guessing its MIME
// type from the extension and then from the content.
func LoadAttachment(path string) (domain.Attachment, error) {
	path = config.ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" && len(data) > 0 {
		mimeType = http.DetectContentType(data)
	}
	return domain.Attachment{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}, nil
}
