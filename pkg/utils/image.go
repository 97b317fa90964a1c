// Package utils предоставляет утилиты для обработки изображений.
package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Регистрируем PNG декодер
	"math"

	"github.com/nfnt/resize"
)

// ResizeImage ресайзит изображение до указанной ширины, сохраняя пропорции.
//
// Параметры:
//   - data: байты исходного изображения (JPEG, PNG)
//   - maxWidth: целевая ширина в пикселях. Если 0 или меньше исходной ширины - ресайз не применяется.
//   - quality: качество JPEG при кодировании (1-100). Рекомендуется 85.
//
// Возвращает байты JPEG изображения (для LLM и base64).
func ResizeImage(data []byte, maxWidth int, quality int) ([]byte, error) {
	// 1. Декодируем изображение
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	originalBounds := img.Bounds()
	originalWidth := originalBounds.Dx()

	// 2. Проверяем нужен ли ресайз
	if maxWidth <= 0 || originalWidth <= maxWidth {
		// Ресайз не нужен, но конвертируем в JPEG для консистентности
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode to jpeg: %w", err)
		}
		return buf.Bytes(), nil
	}

	// 3. Вычисляем новую высоту сохраняя aspect ratio
	aspectRatio := float64(originalBounds.Dy()) / float64(originalWidth)
	newHeight := uint(float64(maxWidth) * aspectRatio)

	// 4. Ресайзим используя Lanczos3 (качественный алгоритм)
	resized := resize.Resize(uint(maxWidth), newHeight, img, resize.Lanczos3)

	// 5. Кодируем в JPEG
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}

	return buf.Bytes(), nil
}

// maxFitAttempts ограничивает число проходов уменьшения в FitImage.
const maxFitAttempts = 8

// FitImage уменьшает изображение пока закодированный JPEG не влезет в limit байт.
//
// Каждый проход сжимает ширину пропорционально sqrt(limit/size) с запасом 10%.
// limit <= 0 означает "без ограничения": изображение только перекодируется в JPEG.
func FitImage(data []byte, limit int, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = 85
	}

	out, err := ResizeImage(data, 0, quality)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || len(out) <= limit {
		return out, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	width := img.Bounds().Dx()

	for attempt := 0; attempt < maxFitAttempts && len(out) > limit; attempt++ {
		scale := math.Sqrt(float64(limit)/float64(len(out))) * 0.9
		width = int(float64(width) * scale)
		if width < 1 {
			width = 1
		}
		if out, err = ResizeImage(data, width, quality); err != nil {
			return nil, err
		}
		Debug("Image downscaled", "attempt", attempt+1, "width", width, "bytes", len(out), "limit", limit)
	}

	if len(out) > limit {
		return nil, fmt.Errorf("image does not fit into %d bytes", limit)
	}
	return out, nil
}

// JPEGDataURI кодирует JPEG в data-uri для image_url части сообщения.
func JPEGDataURI(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}
