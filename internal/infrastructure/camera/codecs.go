package camera

import (
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/codec/x264"

	"webcam-capture/internal/domain"
)

// CodecRegistry набор кодировщиков, доступных потокам
type CodecRegistry struct {
	limits domain.VideoConstraints
	video  map[string]codec.VideoEncoderBuilder
	audio  map[string]codec.AudioEncoderBuilder
	order  []string
}

// NewCodecRegistry настраивает кодировщики VP8, VP9, H.264 и Opus
// с битрейтом и частотой ключевых кадров профиля качества
func NewCodecRegistry(limits domain.VideoConstraints) (*CodecRegistry, error) {
	frameRate := limits.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}
	videoBitRate, audioBitRate := limits.VideoBitRate, limits.AudioBitRate
	r := &CodecRegistry{
		limits: limits,
		video:  make(map[string]codec.VideoEncoderBuilder),
		audio:  make(map[string]codec.AudioEncoderBuilder),
	}

	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания параметров VP8: %w", err)
	}
	vp8Params.BitRate = videoBitRate
	vp8Params.KeyFrameInterval = frameRate
	r.addVideo("vp8", &vp8Params)

	vp9Params, err := vpx.NewVP9Params()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания параметров VP9: %w", err)
	}
	vp9Params.BitRate = videoBitRate
	vp9Params.KeyFrameInterval = frameRate
	r.addVideo("vp9", &vp9Params)

	x264Params, err := x264.NewParams()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания параметров x264: %w", err)
	}
	x264Params.BitRate = videoBitRate           // битрейт в bps
	x264Params.Preset = x264.PresetUltrafast    // Использование самого быстрого пресета
	x264Params.KeyFrameInterval = 2 * frameRate // Keyframe каждые 2 секунды
	r.addVideo("h264", &x264Params)

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания параметров Opus: %w", err)
	}
	opusParams.BitRate = audioBitRate
	r.audio["opus"] = &opusParams

	return r, nil
}

// WithLimits возвращает набор тех же кодеков под другой профиль качества
func (r *CodecRegistry) WithLimits(limits domain.VideoConstraints) (*CodecRegistry, error) {
	if r.limits == limits {
		return r, nil
	}
	return NewCodecRegistry(limits)
}

// Limits ограничения, под которые настроены кодировщики
func (r *CodecRegistry) Limits() domain.VideoConstraints {
	return r.limits
}

func (r *CodecRegistry) addVideo(name string, builder codec.VideoEncoderBuilder) {
	r.video[name] = builder
	r.order = append(r.order, name)
}

// Selector возвращает селектор кодеков для GetUserMedia
func (r *CodecRegistry) Selector() *mediadevices.CodecSelector {
	video := make([]codec.VideoEncoderBuilder, 0, len(r.order))
	for _, name := range r.order {
		video = append(video, r.video[name])
	}
	audio := make([]codec.AudioEncoderBuilder, 0, len(r.audio))
	for _, b := range r.audio {
		audio = append(audio, b)
	}
	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(video...),
		mediadevices.WithAudioEncoders(audio...),
	)
}

// Supports сообщает, зарегистрирован ли кодек с коротким именем
func (r *CodecRegistry) Supports(name string) bool {
	name = strings.ToLower(name)
	if _, ok := r.video[name]; ok {
		return true
	}
	_, ok := r.audio[name]
	return ok
}

// VideoCodecs имена видеокодеков в порядке регистрации
func (r *CodecRegistry) VideoCodecs() []string {
	return append([]string(nil), r.order...)
}

// mimeType переводит короткое имя кодека в имя, понятное mediadevices
func (r *CodecRegistry) mimeType(name string) (string, error) {
	name = strings.ToLower(name)
	if b, ok := r.video[name]; ok {
		return b.RTPCodec().MimeType, nil
	}
	if b, ok := r.audio[name]; ok {
		return b.RTPCodec().MimeType, nil
	}
	return "", fmt.Errorf("кодек %q не зарегистрирован", name)
}
