package utils

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestNormalizeSignatureImage_ScalesWideImages(t *testing.T) {
	out, err := NormalizeSignatureImage("data:image/png;base64," + encodePNG(t, 1200, 300))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 600, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())

	// Transparent pixels are flattened onto white.
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	for _, c := range []uint32{r, g, b} {
		assert.Greater(t, c, uint32(0xf000))
	}
}

func TestNormalizeSignatureImage_KeepsSmallImages(t *testing.T) {
	out, err := NormalizeSignatureImage(encodePNG(t, 200, 80))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}

func TestNormalizeSignatureImage_Rejects(t *testing.T) {
	_, err := NormalizeSignatureImage("%%%")
	assert.Error(t, err)

	_, err = NormalizeSignatureImage("")
	assert.Error(t, err)

	_, err = NormalizeSignatureImage(base64.StdEncoding.EncodeToString([]byte("plain text")))
	assert.Error(t, err)
}
