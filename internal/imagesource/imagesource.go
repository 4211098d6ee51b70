/**
 * Image source - turns uploaded bytes into something an OCR engine can read
 *
 * Raster scans are decoded, flattened to 8-bit grayscale and upscaled until
 * the MRZ glyphs are large enough for Tesseract. PDFs are passed through for
 * remote rendering and plain text is handed straight to the MRZ parser.
 */

package imagesource

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"unicode"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/encoding/charmap"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
)

// Kind classifies a loaded frame.
type Kind int

const (
	KindRaster Kind = iota + 1
	KindPDF
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindPDF:
		return "pdf"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

const (
	MimePNG  = "image/png"
	MimePDF  = "application/pdf"
	MimeText = "text/plain"

	// maxUpscale bounds how far a tiny thumbnail is blown up.
	maxUpscale = 4
)

// Options tune raster preprocessing.
type Options struct {
	// MinWidth is the width a raster is upscaled to when narrower; 0 disables.
	MinWidth int
}

// Frame is one OCR-ready input.
type Frame struct {
	Kind Kind
	// MimeType of Data: image/png for rasters, application/pdf for PDFs.
	MimeType string
	// SourceMime is the detected (or declared) type of the original bytes.
	SourceMime string
	Data       []byte
	// Text is set for KindText frames.
	Text   string
	Width  int
	Height int
}

// Load detects the type of data and prepares a frame. declaredMime is only
// consulted when the content cannot be sniffed.
func Load(data []byte, declaredMime string, opts Options) (*Frame, error) {
	if len(data) == 0 {
		return nil, apperrors.NewInvalidInputError("", "empty file")
	}

	mime := Detect(data)
	if mime == "" {
		mime = strings.ToLower(strings.TrimSpace(declaredMime))
	}

	switch {
	case mime == MimePDF:
		return &Frame{Kind: KindPDF, MimeType: MimePDF, SourceMime: mime, Data: data}, nil
	case mime == MimeText || strings.HasPrefix(mime, "text/"):
		text, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		return &Frame{Kind: KindText, MimeType: MimeText, SourceMime: mime, Text: text}, nil
	case strings.HasPrefix(mime, "image/"):
		return loadRaster(data, mime, opts)
	}
	return nil, apperrors.NewUnsupportedFormatError("", orUnknown(mime))
}

func loadRaster(data []byte, mime string, opts Options) (*Frame, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		pe := apperrors.NewUnsupportedFormatError("", mime)
		pe.Cause = fmt.Errorf("decode image: %w", err)
		return nil, pe
	}

	img := Preprocess(src, opts.MinWidth)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	b := img.Bounds()
	return &Frame{
		Kind:       KindRaster,
		MimeType:   MimePNG,
		SourceMime: mime,
		Data:       buf.Bytes(),
		Width:      b.Dx(),
		Height:     b.Dy(),
	}, nil
}

// Preprocess converts src to grayscale and upscales it with Catmull-Rom
// when it is narrower than minWidth.
func Preprocess(src image.Image, minWidth int) *image.Gray {
	sb := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	draw.Draw(gray, gray.Bounds(), src, sb.Min, draw.Src)

	if minWidth <= 0 || sb.Dx() == 0 || sb.Dx() >= minWidth {
		return gray
	}

	width := minWidth
	if width > sb.Dx()*maxUpscale {
		width = sb.Dx() * maxUpscale
	}
	height := sb.Dy() * width / sb.Dx()
	if height < 1 {
		height = 1
	}

	scaled := image.NewGray(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	return scaled
}

// decodeText reads UTF-8, falling back to ISO-8859-1 for legacy OCR exports.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode latin-1 text: %w", err)
	}
	return string(decoded), nil
}

func orUnknown(mime string) string {
	if mime == "" {
		return "application/octet-stream"
	}
	return mime
}

// Detect sniffs the MIME type from magic bytes. Sources such as browser
// uploads often declare application/octet-stream, so content wins over the
// declared type. Returns "" when the content is not recognised.
func Detect(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return MimePDF
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return MimePNG
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF87a / GIF89a
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF: little-endian or big-endian byte order mark
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	// ZIP containers are never scans.
	if bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) {
		return "application/zip"
	}

	if looksLikeText(data) {
		return MimeText
	}

	return ""
}

// looksLikeText accepts valid UTF-8 made of printable runes and whitespace.
func looksLikeText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
