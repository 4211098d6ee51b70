package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/adverant/nexus/mrz-worker/internal/imagesource"
	"github.com/adverant/nexus/mrz-worker/internal/ocr"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, "eng", e.language)
	assert.Equal(t, gosseract.PSM_SINGLE_BLOCK, e.pageSegMode)
	assert.True(t, e.Supports(imagesource.KindRaster))
	assert.False(t, e.Supports(imagesource.KindPDF))
	assert.False(t, e.Supports(imagesource.KindText))
}

func TestEngine_RecognizesRenderedMRZ(t *testing.T) {
	ensureTesseractAvailable(t)

	lines := []string{
		"P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10",
	}
	img := image.NewRGBA(image.Rect(0, 0, 360, 70))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
	for i, line := range lines {
		d.Dot = fixed.P(10, 25+i*25)
		d.DrawString(line)
	}

	gray := imagesource.Preprocess(img, 1400)
	frame, err := imagesource.Load(encode(t, gray), "", imagesource.Options{})
	require.NoError(t, err)

	res, err := New(Config{}).Recognize(context.Background(), ocr.Input{JobID: "t", Frame: frame})
	require.NoError(t, err)

	cleaned := ocr.CleanText(res.Text)
	assert.True(t, strings.Contains(cleaned, "UTO"), "unexpected OCR output: %q", res.Text)
	assert.Equal(t, "tesseract", res.Engine)
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
