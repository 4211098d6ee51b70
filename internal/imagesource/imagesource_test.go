package imagesource

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoad_RasterIsGrayAndUpscaled(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 120, 30))
	for x := 0; x < 120; x++ {
		src.Set(x, 15, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	}

	frame, err := Load(encodePNG(t, src), "application/octet-stream", Options{MinWidth: 400})
	require.NoError(t, err)

	assert.Equal(t, KindRaster, frame.Kind)
	assert.Equal(t, MimePNG, frame.MimeType)
	assert.Equal(t, MimePNG, frame.SourceMime)
	assert.Equal(t, 400, frame.Width)
	assert.Equal(t, 100, frame.Height)

	out, err := png.Decode(bytes.NewReader(frame.Data))
	require.NoError(t, err)
	_, isGray := out.(*image.Gray)
	assert.True(t, isGray, "re-encoded frame is 8-bit grayscale")
	assert.Equal(t, 400, out.Bounds().Dx())
}

func TestPreprocess_CapsUpscale(t *testing.T) {
	out := Preprocess(image.NewGray(image.Rect(0, 0, 10, 5)), 1000)
	assert.Equal(t, 40, out.Bounds().Dx())
	assert.Equal(t, 20, out.Bounds().Dy())
}

func TestPreprocess_WideImageKeepsSize(t *testing.T) {
	out := Preprocess(image.NewRGBA(image.Rect(0, 0, 800, 200)), 400)
	assert.Equal(t, image.Rect(0, 0, 800, 200), out.Bounds())
}

func TestLoad_PDFPassesThrough(t *testing.T) {
	data := []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")
	frame, err := Load(data, "", Options{MinWidth: 1600})
	require.NoError(t, err)

	assert.Equal(t, KindPDF, frame.Kind)
	assert.Equal(t, data, frame.Data)
}

func TestLoad_Text(t *testing.T) {
	text := "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\nL898902C36UTO7408122F1204159ZE184226B<<<<<10\n"
	frame, err := Load([]byte(text), "", Options{})
	require.NoError(t, err)

	assert.Equal(t, KindText, frame.Kind)
	assert.Equal(t, text, frame.Text)
}

func TestLoad_Latin1Text(t *testing.T) {
	data := []byte("ERIKSSON\xab<ANNA") // 0xAB is a guillemet in ISO-8859-1
	frame, err := Load(data, "text/plain; charset=iso-8859-1", Options{})
	require.NoError(t, err)

	assert.Equal(t, KindText, frame.Kind)
	assert.Equal(t, "ERIKSSON«<ANNA", frame.Text)
}

func TestLoad_Unsupported(t *testing.T) {
	_, err := Load([]byte{0x00, 0x01, 0x02, 0x03, 0xFE, 0xFF}, "application/octet-stream", Options{})
	assert.Equal(t, apperrors.ErrorUnsupportedFormat, apperrors.CodeOf(err))

	_, err = Load([]byte{0x50, 0x4B, 0x03, 0x04, 0x14, 0x00}, "", Options{})
	assert.Equal(t, apperrors.ErrorUnsupportedFormat, apperrors.CodeOf(err))

	_, err = Load([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "", Options{})
	assert.Equal(t, apperrors.ErrorUnsupportedFormat, apperrors.CodeOf(err), "truncated png")

	_, err = Load(nil, "image/png", Options{})
	assert.Equal(t, apperrors.ErrorInvalidInput, apperrors.CodeOf(err))
}

func TestDetect(t *testing.T) {
	cases := map[string][]byte{
		"application/pdf": []byte("%PDF-1.4"),
		"image/jpeg":      {0xFF, 0xD8, 0xFF, 0xE0},
		"image/gif":       []byte("GIF89a...."),
		"image/tiff":      {0x49, 0x49, 0x2A, 0x00, 0x08},
		"image/webp":      []byte("RIFF\x00\x00\x00\x00WEBPVP8 "),
		"text/plain":      []byte("hello world"),
		"":                {0x00, 0x00, 0x00, 0x00, 0x00},
	}
	for want, data := range cases {
		assert.Equal(t, want, Detect(data), "data %q", data)
	}
}
