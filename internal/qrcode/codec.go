// Package qrcode renders check-in tokens as QR bitmaps and reads them back
// from scanned images.
package qrcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// DefaultSize is the edge length of rendered codes in pixels.
const DefaultSize = 512

var (
	// ErrEmptyToken is returned when asked to encode a blank token.
	ErrEmptyToken = errors.New("qr token is empty")
	// ErrMalformedToken is returned for tokens that are not printable UTF-8.
	ErrMalformedToken = errors.New("qr token is malformed")
	// ErrNoCode is returned when a scanned image holds no readable code.
	ErrNoCode = errors.New("no qr code found in image")
)

// Codec encodes tokens to square bitmaps of a fixed size.
type Codec struct {
	size   int
	writer *qrcode.QRCodeWriter
}

// NewCodec returns a codec rendering size x size bitmaps.
func NewCodec(size int) *Codec {
	if size <= 0 {
		size = DefaultSize
	}
	return &Codec{size: size, writer: qrcode.NewQRCodeWriter()}
}

// Size returns the bitmap edge length.
func (c *Codec) Size() int { return c.size }

// Encode renders token as a grayscale bitmap, one matrix cell per pixel.
func (c *Codec) Encode(token string) (*image.Gray, error) {
	if err := validate(token); err != nil {
		return nil, err
	}
	matrix, err := c.writer.Encode(token, gozxing.BarcodeFormat_QR_CODE, c.size, c.size, nil)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := color.Gray{Y: 0xff}
			if matrix.Get(x, y) {
				px.Y = 0
			}
			img.SetGray(x, y, px)
		}
	}
	return img, nil
}

// EncodePNG renders token and returns PNG bytes.
func (c *Codec) EncodePNG(token string) ([]byte, error) {
	img, err := c.Encode(token)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads the first QR code in img.
func Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("prepare bitmap: %w", err)
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return result.GetText(), nil
}

// DecodeImage decodes a PNG or JPEG frame and reads the QR code it contains.
func DecodeImage(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return Decode(img)
}

func validate(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	if !utf8.ValidString(token) {
		return ErrMalformedToken
	}
	for _, r := range token {
		if unicode.IsControl(r) {
			return ErrMalformedToken
		}
	}
	return nil
}
