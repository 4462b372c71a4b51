package domain

import (
	"fmt"
	"strings"
)

// Container формат контейнера записи
type Container string

const (
	ContainerWebM   Container = "webm"
	ContainerAnnexB Container = "h264" // Поток H.264 без контейнера
)

// RecordingFormat сочетание контейнера и кодеков записи
type RecordingFormat struct {
	MimeType   string
	Container  Container
	VideoCodec string // Имя видеокодека mediadevices: vp8, vp9, h264
	AudioCodec string // Имя аудиокодека, пусто если звук не пишется
}

// DefaultCodecPreference порядок выбора форматов записи. VP8 идет первым,
// так как только его ключевые кадры умеет декодировать резервный снимок.
var DefaultCodecPreference = []string{
	"video/webm;codecs=vp8,opus",
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8",
	"video/h264",
}

var knownFormats = map[string]RecordingFormat{
	"video/webm":                 {Container: ContainerWebM, VideoCodec: "vp8"},
	"video/webm;codecs=vp8":      {Container: ContainerWebM, VideoCodec: "vp8"},
	"video/webm;codecs=vp9":      {Container: ContainerWebM, VideoCodec: "vp9"},
	"video/webm;codecs=vp8,opus": {Container: ContainerWebM, VideoCodec: "vp8", AudioCodec: "opus"},
	"video/webm;codecs=vp9,opus": {Container: ContainerWebM, VideoCodec: "vp9", AudioCodec: "opus"},
	"video/h264":                 {Container: ContainerAnnexB, VideoCodec: "h264"},
}

// NormalizeMimeType приводит MIME-тип к каноническому виду
func NormalizeMimeType(mimeType string) string {
	s := strings.ToLower(mimeType)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, `"`, "")
	return s
}

// ParseFormat возвращает описание формата для MIME-типа
func ParseFormat(mimeType string) (RecordingFormat, error) {
	norm := NormalizeMimeType(mimeType)
	f, ok := knownFormats[norm]
	if !ok {
		return RecordingFormat{}, fmt.Errorf("неподдерживаемый формат записи %q", mimeType)
	}
	f.MimeType = norm
	return f, nil
}

// WithoutAudio возвращает формат без звуковой дорожки
func (f RecordingFormat) WithoutAudio() RecordingFormat {
	if f.AudioCodec == "" {
		return f
	}
	f.AudioCodec = ""
	f.MimeType = strings.TrimSuffix(f.MimeType, ",opus")
	return f
}

// FileExtension расширение файла для MIME-типа
func FileExtension(mimeType string) string {
	norm := NormalizeMimeType(mimeType)
	base, _, _ := strings.Cut(norm, ";")
	switch base {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "video/webm":
		return "webm"
	case "video/mp4":
		return "mp4"
	case "video/h264":
		return "h264"
	default:
		return "bin"
	}
}

// IsFrontFacing эвристически определяет фронтальную камеру по имени
// устройства. Имена задает драйвер, поэтому результат ненадежен: если
// платформа умеет сообщать направление камеры, его стоит использовать вместо этого.
func IsFrontFacing(label string) bool {
	l := strings.ToLower(label)
	for _, hint := range []string{"front", "facetime", "user facing", "user-facing"} {
		if strings.Contains(l, hint) {
			return true
		}
	}
	return false
}
