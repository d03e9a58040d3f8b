package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxSignatureImageBytes bounds the decoded size of an uploaded signature.
const MaxSignatureImageBytes = 2 << 20

const signatureImageWidth = 600

// NormalizeSignatureImage decodes a base64 (optionally data-URL) image, flattens it on white,
// scales it to a fixed width and re-encodes it as PNG.
func NormalizeSignatureImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("signature image is not valid base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("signature image is empty")
	}
	if len(data) > MaxSignatureImageBytes {
		return nil, fmt.Errorf("signature image exceeds %d bytes", MaxSignatureImageBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("signature image cannot be decoded: %w", err)
	}

	bounds := img.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat := imaging.Overlay(background, img, image.Point{}, 1.0)
	if flat.Bounds().Dx() > signatureImageWidth {
		flat = imaging.Resize(flat, signatureImageWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
