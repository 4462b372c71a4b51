package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// DefaultQuality качество JPEG для снимков
const DefaultQuality = 92

// JPEGEncoder кодирует кадры в JPEG
type JPEGEncoder struct {
	Quality int
}

// NewJPEGEncoder создает кодировщик с качеством по умолчанию
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{Quality: DefaultQuality}
}

// MimeType тип выдаваемых изображений
func (e *JPEGEncoder) MimeType() string {
	return "image/jpeg"
}

// EncodeStill переносит кадр на холст в полном разрешении и сжимает его.
// mirror отражает кадр по горизонтали.
func (e *JPEGEncoder) EncodeStill(img image.Image, mirror bool) ([]byte, error) {
	if img == nil {
		return nil, errors.New("нет кадра")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("кадр нулевого размера")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if mirror {
		Mirror(canvas, img)
	} else {
		draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)
	}

	quality := e.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Mirror рисует src на dst, отраженный по горизонтали
func Mirror(dst draw.Image, src image.Image) {
	b := src.Bounds()
	w := float64(b.Dx())
	// x' = w - (x - Min.X), y' = y - Min.Y
	m := f64.Aff3{
		-1, 0, w + float64(b.Min.X),
		0, 1, -float64(b.Min.Y),
	}
	draw.NearestNeighbor.Transform(dst, m, src, b, draw.Src, nil)
}
