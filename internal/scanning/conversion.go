package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/heic"
)

// MaxUploadSize is the largest payload the OCR provider accepts
const MaxUploadSize = 5 << 20

var (
	ErrNoImage         = errors.New("image reference has neither url nor data")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("file exceeds 5MB limit")
)

var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/tiff":      true,
	"image/bmp":       true,
	"application/pdf": true,
}

// Image is a reference to a receipt: either a URL (http(s) or a data: URI)
// or an uploaded payload.
type Image struct {
	URL         string
	Data        []byte
	ContentType string
	Filename    string
}

// Reference returns the string the pipeline annotates results with
func (i Image) Reference() string {
	if i.URL != "" {
		return i.URL
	}
	return i.Filename
}

func (i Image) validate() error {
	if (i.URL == "") == (len(i.Data) == 0) {
		return ErrNoImage
	}
	return nil
}

func (i Image) isDataURI() bool {
	return strings.HasPrefix(i.URL, "data:")
}

// normalizeContentType lower-cases the MIME type and folds known aliases
func normalizeContentType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	switch mimeType {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp":
		return "image/bmp"
	}
	return mimeType
}

// checkUpload enforces the content-type allow-list and the size cap
func checkUpload(data []byte, contentType string) error {
	if !allowedContentTypes[normalizeContentType(contentType)] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if len(data) > MaxUploadSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return nil
}

// PrepareUpload normalizes an uploaded receipt so it can be sent to the OCR
// provider. HEIC photos are transcoded to PNG first, then the allow-list and
// size cap are applied to what will actually be submitted.
func PrepareUpload(data []byte, contentType string) ([]byte, string, error) {
	mimeType := normalizeContentType(contentType)
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		pngData, err := heicToPNG(data)
		if err != nil {
			return nil, "", fmt.Errorf("converting HEIC to PNG: %w", err)
		}
		data = pngData
		mimeType = "image/png"
	}

	if err := checkUpload(data, mimeType); err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}

func heicToPNG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
