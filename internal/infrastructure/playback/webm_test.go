package playback

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/at-wat/ebml-go/webm"

	"webcam-capture/internal/assert"
	"webcam-capture/internal/domain"
	"webcam-capture/internal/infrastructure/logger"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

type testBlock struct {
	keyframe bool
	ms       int64
	data     []byte
}

func buildWebM(t *testing.T, codecID string, blocks ...testBlock) []byte {
	t.Helper()
	var buf bufferCloser
	writers, err := webm.NewSimpleBlockWriter(&buf, []webm.TrackEntry{{
		Name:        "Video",
		TrackNumber: 1,
		TrackUID:    1,
		CodecID:     codecID,
		TrackType:   1,
		Video:       &webm.Video{PixelWidth: 16, PixelHeight: 16},
	}})
	assert.NilErr(t, err)
	for _, b := range blocks {
		_, err := writers[0].Write(b.keyframe, b.ms, b.data)
		assert.NilErr(t, err)
	}
	assert.NilErr(t, writers[0].Close())
	return buf.Bytes()
}

func TestReadKeyframes(t *testing.T) {
	data := buildWebM(t, "V_VP8",
		testBlock{true, 0, []byte{0x10}},
		testBlock{false, 33, []byte{0x11}},
		testBlock{true, 250, []byte{0x12}},
	)

	frames, err := readKeyframes(data)
	assert.NilErr(t, err)
	assert.DeepEqual(t, len(frames), 2)
	assert.DeepEqual(t, frames[0].at, time.Duration(0))
	assert.DeepEqual(t, frames[1].at, 250*time.Millisecond)
	assert.DeepEqual(t, frames[1].data, []byte{0x12})
}

func TestReadKeyframesRejects(t *testing.T) {
	_, err := readKeyframes([]byte("not a webm file"))
	assert.NonNilErr(t, err)

	_, err = readKeyframes(buildWebM(t, "V_VP9", testBlock{true, 0, []byte{0x82}}))
	assert.NonNilErr(t, err)

	_, err = readKeyframes(buildWebM(t, "V_VP8", testBlock{false, 0, []byte{0x11}}))
	assert.ErrorIs(t, err, ErrNoKeyframe)
}

func TestFrameAtUndecodable(t *testing.T) {
	player := NewWebMPlayer(logger.Discard())

	_, err := player.FrameAt(&domain.Blob{MimeType: "video/webm"}, 0)
	assert.NonNilErr(t, err)

	_, err = player.FrameAt(&domain.Blob{MimeType: "video/h264", Data: []byte{0, 0, 1, 0x65}}, 0)
	assert.NonNilErr(t, err)

	// Ключевые кадры есть, но их содержимое не декодируется
	blob := &domain.Blob{
		MimeType: "video/webm;codecs=vp8",
		Data:     buildWebM(t, "V_VP8", testBlock{true, 0, []byte{0x10, 0x00}}),
	}
	_, err = player.FrameAt(blob, 0)
	assert.ErrorIs(t, err, ErrNoKeyframe)

	// Позиция после последнего ключевого кадра
	_, err = player.FrameAt(blob, time.Second)
	assert.ErrorIs(t, err, ErrNoKeyframe)
}

func TestFrameAtDecodesKeyframe(t *testing.T) {
	key, err := os.ReadFile("testdata/keyframe.vp8")
	assert.NilErr(t, err)

	player := NewWebMPlayer(logger.Discard())
	blob := &domain.Blob{
		MimeType: "video/webm;codecs=vp8",
		Data: buildWebM(t, "V_VP8",
			testBlock{true, 0, []byte{0x10, 0x00}},
			testBlock{true, 250, key},
			testBlock{false, 283, []byte{0x11}},
		),
	}

	// Первый ключевой кадр поврежден, используется следующий
	img, err := player.FrameAt(blob, 0)
	assert.NilErr(t, err)
	assert.DeepEqual(t, img.Bounds().Dx(), 150)
	assert.DeepEqual(t, img.Bounds().Dy(), 103)

	img, err = player.FrameAt(blob, 100*time.Millisecond)
	assert.NilErr(t, err)
	assert.DeepEqual(t, img.Bounds().Dx(), 150)

	_, err = player.FrameAt(blob, 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoKeyframe)
}
