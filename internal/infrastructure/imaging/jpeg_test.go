package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"webcam-capture/internal/assert"
)

func TestMirror(t *testing.T) {
	// Исходный кадр со смещенными границами
	src := image.NewRGBA(image.Rect(10, 5, 14, 7))
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	src.SetRGBA(10, 5, red)
	src.SetRGBA(13, 6, blue)

	dst := image.NewRGBA(image.Rect(0, 0, 4, 2))
	Mirror(dst, src)

	assert.DeepEqual(t, dst.RGBAAt(3, 0), red)
	assert.DeepEqual(t, dst.RGBAAt(0, 1), blue)
	assert.DeepEqual(t, dst.RGBAAt(0, 0), color.RGBA{})
}

func TestEncodeStill(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	enc := NewJPEGEncoder()
	assert.DeepEqual(t, enc.MimeType(), "image/jpeg")

	for _, mirror := range []bool{false, true} {
		data, err := enc.EncodeStill(src, mirror)
		assert.NilErr(t, err)

		img, err := jpeg.Decode(bytes.NewReader(data))
		assert.NilErr(t, err)
		assert.DeepEqual(t, img.Bounds(), image.Rect(0, 0, 64, 32))

		// Красная половина меняет сторону при отражении
		r, _, _, _ := img.At(8, 16).RGBA()
		assert.BoolIs(t, r > 0xc000, !mirror)
		r, _, _, _ = img.At(56, 16).RGBA()
		assert.BoolIs(t, r > 0xc000, mirror)
	}
}

func TestEncodeStillRejectsEmpty(t *testing.T) {
	enc := &JPEGEncoder{Quality: 150}
	_, err := enc.EncodeStill(nil, false)
	assert.NonNilErr(t, err)
	_, err = enc.EncodeStill(image.NewRGBA(image.Rectangle{}), false)
	assert.NonNilErr(t, err)

	// Недопустимое качество заменяется значением по умолчанию
	_, err = enc.EncodeStill(image.NewRGBA(image.Rect(0, 0, 8, 8)), false)
	assert.NilErr(t, err)
}
