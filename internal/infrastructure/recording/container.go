package recording

import (
	"fmt"
	"io"
	"time"

	"github.com/at-wat/ebml-go/webm"

	"webcam-capture/internal/domain"
)

// containerWriter раскладывает закодированные кадры по контейнеру
type containerWriter interface {
	WriteVideo(keyframe bool, ts time.Duration, data []byte) error
	WriteAudio(ts time.Duration, data []byte) error
	Close() error
}

const (
	videoTrackNumber = 1
	audioTrackNumber = 2
)

var webmCodecIDs = map[string]string{
	"vp8":  "V_VP8",
	"vp9":  "V_VP9",
	"opus": "A_OPUS",
}

func newContainerWriter(format domain.RecordingFormat, w io.WriteCloser, width, height, frameRate int) (containerWriter, error) {
	switch format.Container {
	case domain.ContainerWebM:
		return newWebMWriter(format, w, width, height, frameRate)
	case domain.ContainerAnnexB:
		return &annexBWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("контейнер %q не поддерживается", format.Container)
	}
}

// webmWriter пишет дорожки WebM через ebml-go
type webmWriter struct {
	video io.Closer
	audio io.Closer

	videoBlock webm.BlockWriteCloser
	audioBlock webm.BlockWriteCloser
}

func newWebMWriter(format domain.RecordingFormat, w io.WriteCloser, width, height, frameRate int) (*webmWriter, error) {
	videoCodec, ok := webmCodecIDs[format.VideoCodec]
	if !ok {
		return nil, fmt.Errorf("видеокодек %q нельзя записать в WebM", format.VideoCodec)
	}
	if frameRate <= 0 {
		frameRate = 30
	}

	tracks := []webm.TrackEntry{{
		Name:            "Video",
		TrackNumber:     videoTrackNumber,
		TrackUID:        videoTrackNumber,
		CodecID:         videoCodec,
		TrackType:       1,
		DefaultDuration: uint64(time.Second / time.Duration(frameRate)),
		Video: &webm.Video{
			PixelWidth:  uint64(width),
			PixelHeight: uint64(height),
		},
	}}
	if format.AudioCodec != "" {
		audioCodec, ok := webmCodecIDs[format.AudioCodec]
		if !ok {
			return nil, fmt.Errorf("аудиокодек %q нельзя записать в WebM", format.AudioCodec)
		}
		tracks = append(tracks, webm.TrackEntry{
			Name:            "Audio",
			TrackNumber:     audioTrackNumber,
			TrackUID:        audioTrackNumber,
			CodecID:         audioCodec,
			TrackType:       2,
			DefaultDuration: uint64(20 * time.Millisecond),
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          1,
			},
		})
	}

	writers, err := webm.NewSimpleBlockWriter(w, tracks)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания WebM: %w", err)
	}

	ww := &webmWriter{videoBlock: writers[0]}
	if len(writers) > 1 {
		ww.audioBlock = writers[1]
	}
	return ww, nil
}

func (w *webmWriter) WriteVideo(keyframe bool, ts time.Duration, data []byte) error {
	_, err := w.videoBlock.Write(keyframe, ts.Milliseconds(), data)
	return err
}

func (w *webmWriter) WriteAudio(ts time.Duration, data []byte) error {
	if w.audioBlock == nil {
		return nil
	}
	_, err := w.audioBlock.Write(true, ts.Milliseconds(), data)
	return err
}

func (w *webmWriter) Close() error {
	var err error
	if w.audioBlock != nil {
		err = w.audioBlock.Close()
	}
	if cerr := w.videoBlock.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// annexBWriter пишет поток H.264 без контейнера, как сервер приема
type annexBWriter struct {
	w io.WriteCloser
}

func (a *annexBWriter) WriteVideo(_ bool, _ time.Duration, data []byte) error {
	_, err := a.w.Write(data)
	return err
}

func (a *annexBWriter) WriteAudio(time.Duration, []byte) error { return nil }

func (a *annexBWriter) Close() error { return a.w.Close() }

// isKeyframe определяет ключевой кадр по заголовку битового потока
func isKeyframe(codec string, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch codec {
	case "vp8":
		// Бит 0 первого байта: 0 для ключевого кадра
		return data[0]&0x01 == 0
	case "vp9":
		return isVP9Keyframe(data[0])
	case "h264":
		return isH264Keyframe(data)
	default:
		return true
	}
}

func isVP9Keyframe(b byte) bool {
	if b>>6 != 0x2 {
		return false
	}
	profile := (b>>5)&1 | ((b>>4)&1)<<1
	shift := uint(3)
	if profile == 3 {
		shift = 2
	}
	showExisting := (b >> shift) & 1
	frameType := (b >> (shift - 1)) & 1
	return showExisting == 0 && frameType == 0
}

// isH264Keyframe ищет NAL-блок IDR или SPS в потоке Annex B
func isH264Keyframe(data []byte) bool {
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var nal byte
		switch {
		case data[i+2] == 1:
			nal = data[i+3]
		case data[i+2] == 0 && i+4 < len(data) && data[i+3] == 1:
			nal = data[i+4]
		default:
			continue
		}
		switch nal & 0x1f {
		case 5, 7:
			return true
		}
	}
	return false
}
