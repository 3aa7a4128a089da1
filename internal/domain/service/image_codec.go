package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
)

// ErrInvalidImageData байты не декодируются как PNG
var ErrInvalidImageData = errors.New("invalid image data")

// ErrEmptyImage изображение без пикселей
var ErrEmptyImage = errors.New("image has no pixels")

// MaxImagePixels ограничение на размер декодируемого изображения
const MaxImagePixels = 64 * 1024 * 1024

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// IsPNG проверяет сигнатуру PNG без декодирования
func IsPNG(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// DecodePNG декодирует PNG.
// Все ошибки формата оборачиваются в ErrInvalidImageData.
func DecodePNG(data []byte) (image.Image, error) {
	if !IsPNG(data) {
		return nil, fmt.Errorf("%w: missing png signature", ErrInvalidImageData)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageData, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageData, ErrEmptyImage)
	}
	if cfg.Width*cfg.Height > MaxImagePixels {
		return nil, fmt.Errorf("%w: image %dx%d exceeds pixel limit", ErrInvalidImageData, cfg.Width, cfg.Height)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageData, err)
	}
	return img, nil
}

// EncodePNG кодирует изображение в PNG (diff-артефакт)
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
