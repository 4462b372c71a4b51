package playback

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"golang.org/x/image/vp8"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// ErrNoKeyframe в записи нет ключевого кадра после указанной позиции
var ErrNoKeyframe = errors.New("нет ключевого кадра после указанной позиции")

// WebMPlayer извлекает кадры из записи WebM с видеодорожкой VP8
type WebMPlayer struct {
	logger application.Logger
}

// NewWebMPlayer создает проигрыватель
func NewWebMPlayer(logger application.Logger) *WebMPlayer {
	return &WebMPlayer{logger: logger}
}

type webmFile struct {
	Header  webm.EBMLHeader `ebml:"EBML"`
	Segment webm.Segment    `ebml:"Segment"`
}

// keyframe ключевой кадр с абсолютной меткой времени
type keyframe struct {
	at   time.Duration
	data []byte
}

// FrameAt декодирует первый ключевой кадр не раньше offset
func (p *WebMPlayer) FrameAt(blob *domain.Blob, offset time.Duration) (image.Image, error) {
	if blob.Size() == 0 {
		return nil, errors.New("пустая запись")
	}
	format, err := domain.ParseFormat(blob.MimeType)
	if err != nil {
		return nil, err
	}
	if format.Container != domain.ContainerWebM {
		return nil, fmt.Errorf("воспроизведение контейнера %q не поддерживается", format.Container)
	}

	frames, err := readKeyframes(blob.Data)
	if err != nil {
		return nil, err
	}

	for _, kf := range frames {
		if kf.at < offset {
			continue
		}
		img, err := decodeVP8(kf.data)
		if err != nil {
			p.logger.Debug("Кадр %s не декодирован: %v", kf.at, err)
			continue
		}
		p.logger.Debug("Декодирован кадр %s для позиции %s", kf.at, offset)
		return img, nil
	}
	return nil, ErrNoKeyframe
}

// readKeyframes разбирает WebM и возвращает ключевые кадры видеодорожки
func readKeyframes(data []byte) ([]keyframe, error) {
	var file webmFile
	err := ebml.Unmarshal(bytes.NewReader(data), &file, ebml.WithIgnoreUnknown(true))
	if err != nil && len(file.Segment.Cluster) == 0 {
		return nil, fmt.Errorf("ошибка разбора WebM: %w", err)
	}

	var (
		track uint64
		codec string
	)
	for _, entry := range file.Segment.Tracks.TrackEntry {
		if entry.TrackType == 1 {
			track = entry.TrackNumber
			codec = entry.CodecID
			break
		}
	}
	if track == 0 {
		return nil, errors.New("в записи нет видеодорожки")
	}
	if codec != "V_VP8" {
		return nil, fmt.Errorf("декодирование %s не поддерживается", codec)
	}

	scale := time.Duration(file.Segment.Info.TimecodeScale)
	if scale == 0 {
		scale = time.Millisecond
	}

	var frames []keyframe
	for _, cluster := range file.Segment.Cluster {
		for _, block := range cluster.SimpleBlock {
			if block.TrackNumber != track || !block.Keyframe || len(block.Data) == 0 {
				continue
			}
			ts := (int64(cluster.Timecode) + int64(block.Timecode)) * int64(scale)
			frames = append(frames, keyframe{at: time.Duration(ts), data: block.Data[0]})
		}
	}
	if len(frames) == 0 {
		return nil, ErrNoKeyframe
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].at < frames[j].at })
	return frames, nil
}

func decodeVP8(data []byte) (image.Image, error) {
	dec := vp8.NewDecoder()
	dec.Init(bytes.NewReader(data), len(data))
	fh, err := dec.DecodeFrameHeader()
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, errors.New("кадр не ключевой")
	}
	return dec.DecodeFrame()
}
