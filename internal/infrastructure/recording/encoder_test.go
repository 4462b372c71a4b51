package recording

import (
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"webcam-capture/internal/application"
	"webcam-capture/internal/assert"
	"webcam-capture/internal/domain"
	"webcam-capture/internal/infrastructure/logger"
)

type codecSet map[string]bool

func (c codecSet) Supports(name string) bool { return c[name] }

// chanReader отдает кадры, которые присылает тест
type chanReader struct {
	kind   domain.DeviceKind
	frames chan []byte
	reads  atomic.Int32
	sent   int32
	once   sync.Once
	closed chan struct{}
}

func newChanReader(kind domain.DeviceKind) *chanReader {
	return &chanReader{kind: kind, frames: make(chan []byte), closed: make(chan struct{})}
}

func (r *chanReader) Read() (*domain.EncodedFrame, error) {
	n := r.reads.Add(1)
	select {
	case data := <-r.frames:
		return &domain.EncodedFrame{Data: data, Size: len(data), Number: int(n), Kind: r.kind}, nil
	case <-r.closed:
		return nil, io.EOF
	}
}

func (r *chanReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// send передает кадр и ждет, пока он будет записан: каждый вызов Read
// забирает ровно один кадр, поэтому следующий вызов означает конец записи
func (r *chanReader) send(t *testing.T, data []byte) {
	t.Helper()
	r.frames <- data
	r.sent++
	assert.Eventually(t, func() bool { return r.reads.Load() > r.sent })
}

type readerStream struct {
	video *chanReader
	audio *chanReader
}

func (s *readerStream) ID() string                     { return "stream" }
func (s *readerStream) Label() string                  { return "Camera" }
func (s *readerStream) Resolution() (int, int)         { return 320, 240 }
func (s *readerStream) HasAudio() bool                 { return s.audio != nil }
func (s *readerStream) Snapshot() (image.Image, error) { return nil, errors.New("no frames") }
func (s *readerStream) Close() error                   { return nil }

func (s *readerStream) CreateReader(kind domain.DeviceKind, _ string) (domain.FrameReader, error) {
	if kind == domain.AudioInput {
		if s.audio == nil {
			return nil, errors.New("no audio")
		}
		return s.audio, nil
	}
	return s.video, nil
}

type collected struct {
	mutex   sync.Mutex
	chunks  [][]byte
	errs    []error
	stopped chan struct{}
}

func (c *collected) handlers() application.EncoderHandlers {
	c.stopped = make(chan struct{})
	return application.EncoderHandlers{
		OnChunk: func(chunk []byte) {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			c.chunks = append(c.chunks, chunk)
		},
		OnError: func(err error) {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			c.errs = append(c.errs, err)
		},
		OnStop: func() { close(c.stopped) },
	}
}

func (c *collected) data() []byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var all []byte
	for _, chunk := range c.chunks {
		all = append(all, chunk...)
	}
	return all
}

func (c *collected) count() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.chunks)
}

func newTestEncoder(t *testing.T, mimeType string, stream domain.MediaStream, clock clockwork.Clock) application.Encoder {
	t.Helper()
	factory := NewTrackEncoderFactory(codecSet{"vp8": true, "opus": true}, clock, logger.Discard())
	format, err := domain.ParseFormat(mimeType)
	assert.NilErr(t, err)
	enc, err := factory.NewEncoder(stream, application.EncoderOptions{
		Format:    format,
		Timeslice: 100 * time.Millisecond,
	})
	assert.NilErr(t, err)
	return enc
}

var (
	vp8Key   = []byte{0x10, 0x02, 0x00}
	vp8Inter = []byte{0x11, 0x02, 0x00}
)

func TestFactorySupport(t *testing.T) {
	factory := NewTrackEncoderFactory(codecSet{"vp8": true, "opus": true}, nil, logger.Discard())
	assert.BoolIs(t, factory.IsTypeSupported("video/webm;codecs=vp8,opus"), true)
	assert.BoolIs(t, factory.IsTypeSupported("video/webm;codecs=vp9"), false)
	assert.BoolIs(t, factory.IsTypeSupported("video/h264"), false)
	assert.BoolIs(t, factory.IsTypeSupported("audio/ogg"), false)
	assert.DeepEqual(t, factory.DefaultMimeType(), "video/webm")

	factory = NewTrackEncoderFactory(codecSet{"h264": true}, nil, logger.Discard())
	assert.DeepEqual(t, factory.DefaultMimeType(), "video/h264")

	factory = NewTrackEncoderFactory(codecSet{}, nil, logger.Discard())
	assert.DeepEqual(t, factory.DefaultMimeType(), "")
	format, _ := domain.ParseFormat("video/webm")
	_, err := factory.NewEncoder(&readerStream{}, application.EncoderOptions{Format: format})
	assert.NonNilErr(t, err)
}

func TestEncoderStartsAtKeyframe(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stream := &readerStream{video: newChanReader(domain.VideoInput)}
	enc := newTestEncoder(t, "video/webm;codecs=vp8", stream, clock)

	var out collected
	assert.NilErr(t, enc.Start(out.handlers()))

	stream.video.send(t, vp8Inter)
	stream.video.send(t, vp8Key)
	clock.Advance(40 * time.Millisecond)
	stream.video.send(t, vp8Inter)

	assert.NilErr(t, enc.Stop())
	assert.ChanWritten[struct{}](t, out.stopped)

	blocks := videoBlocks(parseWebM(t, out.data()))
	assert.DeepEqual(t, len(blocks), 2)
	assert.BoolIs(t, blocks[0].keyframe, true)
	assert.DeepEqual(t, blocks[0].data, vp8Key)
	assert.DeepEqual(t, blocks[1].at, 40*time.Millisecond)
	assert.DeepEqual(t, len(out.errs), 0)
}

func TestEncoderEmitsChunksEveryTimeslice(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stream := &readerStream{video: newChanReader(domain.VideoInput)}
	enc := newTestEncoder(t, "video/webm;codecs=vp8", stream, clock)

	var out collected
	assert.NilErr(t, enc.Start(out.handlers()))
	stream.video.send(t, vp8Key)

	// Ждем, пока flushLoop заведет тикер
	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return out.count() == 1 })

	// Остаток выдается последним фрагментом при остановке
	stream.video.send(t, vp8Inter)
	assert.NilErr(t, enc.Stop())
	assert.ChanWritten[struct{}](t, out.stopped)
	assert.DeepEqual(t, out.count(), 2)
	assert.DeepEqual(t, len(videoBlocks(parseWebM(t, out.data()))), 2)
}

func TestEncoderPauseSkipsFrames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stream := &readerStream{video: newChanReader(domain.VideoInput)}
	enc := newTestEncoder(t, "video/webm;codecs=vp8", stream, clock)

	var out collected
	assert.NilErr(t, enc.Start(out.handlers()))
	stream.video.send(t, vp8Key)

	clock.Advance(10 * time.Millisecond)
	assert.NilErr(t, enc.Pause())
	stream.video.send(t, vp8Inter)
	clock.Advance(time.Second)
	assert.NilErr(t, enc.Resume())

	// После паузы запись продолжается только с ключевого кадра
	stream.video.send(t, vp8Inter)
	clock.Advance(10 * time.Millisecond)
	stream.video.send(t, vp8Key)

	assert.NilErr(t, enc.Stop())
	assert.ChanWritten[struct{}](t, out.stopped)

	blocks := videoBlocks(parseWebM(t, out.data()))
	assert.DeepEqual(t, len(blocks), 2)
	assert.BoolIs(t, blocks[1].keyframe, true)
	// Время на паузе не входит в метки кадров
	assert.DeepEqual(t, blocks[1].at, 20*time.Millisecond)
}

func TestEncoderWithAudio(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stream := &readerStream{
		video: newChanReader(domain.VideoInput),
		audio: newChanReader(domain.AudioInput),
	}
	enc := newTestEncoder(t, "video/webm;codecs=vp8,opus", stream, clock)

	var out collected
	assert.NilErr(t, enc.Start(out.handlers()))
	// Звук до первого ключевого кадра отбрасывается
	stream.audio.send(t, []byte{0xfc, 0x01})
	stream.video.send(t, vp8Key)
	stream.audio.send(t, []byte{0xfc, 0x02})

	assert.NilErr(t, enc.Stop())
	assert.ChanWritten[struct{}](t, out.stopped)

	file := parseWebM(t, out.data())
	var audio int
	for _, c := range file.Segment.Cluster {
		for _, b := range c.SimpleBlock {
			if b.TrackNumber == audioTrackNumber {
				audio++
			}
		}
	}
	assert.DeepEqual(t, audio, 1)
}

func TestEncoderReadErrorReported(t *testing.T) {
	stream := &readerStream{video: newChanReader(domain.VideoInput)}
	enc := newTestEncoder(t, "video/webm;codecs=vp8", stream, clockwork.NewFakeClock())

	var out collected
	assert.NilErr(t, enc.Start(out.handlers()))
	// Ридер закрыт не кодировщиком: устройство пропало
	stream.video.Close()
	assert.Eventually(t, func() bool {
		out.mutex.Lock()
		defer out.mutex.Unlock()
		return len(out.errs) == 1
	})

	assert.NilErr(t, enc.Stop())
	assert.ChanWritten[struct{}](t, out.stopped)
}

func TestEncoderLifecycleErrors(t *testing.T) {
	stream := &readerStream{video: newChanReader(domain.VideoInput)}
	enc := newTestEncoder(t, "video/webm;codecs=vp8", stream, clockwork.NewFakeClock())

	assert.NonNilErr(t, enc.Pause())
	assert.NonNilErr(t, enc.Stop())

	var out collected
	assert.NilErr(t, enc.Start(out.handlers()))
	assert.NonNilErr(t, enc.Start(out.handlers()))
	assert.NilErr(t, enc.Stop())
	// Повторная остановка не вызывает OnStop второй раз
	assert.NilErr(t, enc.Stop())
	assert.ChanWritten[struct{}](t, out.stopped)
	assert.NonNilErr(t, enc.Resume())
}
