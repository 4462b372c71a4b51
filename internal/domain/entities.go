package domain

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// DeviceKind тип устройства захвата
type DeviceKind string

const (
	VideoInput DeviceKind = "videoinput"
	AudioInput DeviceKind = "audioinput"
)

// MediaDevice представляет устройство захвата (камера или микрофон)
type MediaDevice struct {
	ID    string     // Уникальный идентификатор устройства
	Kind  DeviceKind // Тип устройства
	Label string     // Человекочитаемое имя устройства
}

// QualityProfile уровень качества захвата
type QualityProfile string

const (
	QualityLow    QualityProfile = "low"
	QualityMedium QualityProfile = "medium"
	QualityHigh   QualityProfile = "high"
)

// VideoConstraints параметры видеопотока, выводимые из профиля качества
type VideoConstraints struct {
	Width        int // Ширина видео в пикселях
	Height       int // Высота видео в пикселях
	FrameRate    int // Частота кадров
	VideoBitRate int // Битрейт видео в bps
	AudioBitRate int // Битрейт звука в bps
}

// ParseQuality разбирает название профиля качества
func ParseQuality(s string) (QualityProfile, error) {
	switch q := QualityProfile(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityLow, QualityMedium, QualityHigh:
		return q, nil
	case "":
		return QualityMedium, nil
	default:
		return "", fmt.Errorf("неизвестный профиль качества %q", s)
	}
}

// Constraints возвращает разрешение, частоту кадров и битрейт для профиля
func (q QualityProfile) Constraints() VideoConstraints {
	switch q {
	case QualityLow:
		return VideoConstraints{Width: 640, Height: 480, FrameRate: 15, VideoBitRate: 500_000, AudioBitRate: 64_000}
	case QualityHigh:
		return VideoConstraints{Width: 1920, Height: 1080, FrameRate: 30, VideoBitRate: 4_000_000, AudioBitRate: 128_000}
	default:
		return VideoConstraints{Width: 1280, Height: 720, FrameRate: 30, VideoBitRate: 1_500_000, AudioBitRate: 96_000}
	}
}

// AudioConstraints параметры звуковой дорожки
type AudioConstraints struct {
	Enabled          bool
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	ChannelCount     int
}

// CaptureSession текущие настройки захвата, изменяемые пользователем
type CaptureSession struct {
	VideoDeviceID   string
	AudioDeviceID   string
	AudioEnabled    bool
	Quality         QualityProfile
	CodecPreference []string      // Упорядоченный список MIME-типов записи
	MaxDuration     time.Duration // Максимальная длительность записи
	FileName        string        // Имя файла, указанное пользователем
}

// StreamRequest запрос на открытие медиапотока
type StreamRequest struct {
	VideoDeviceID string
	AudioDeviceID string
	Video         VideoConstraints
	Audio         AudioConstraints
}

// Request строит запрос на открытие потока для сессии
func (s CaptureSession) Request() StreamRequest {
	return StreamRequest{
		VideoDeviceID: s.VideoDeviceID,
		AudioDeviceID: s.AudioDeviceID,
		Video:         s.Quality.Constraints(),
		Audio: AudioConstraints{
			Enabled:          s.AudioEnabled,
			EchoCancellation: true,
			NoiseSuppression: true,
			SampleRate:       48000,
			ChannelCount:     1,
		},
	}
}

// EncodedFrame представляет закодированный кадр медиапотока
type EncodedFrame struct {
	Data   []byte     // Закодированные данные
	Size   int        // Размер данных в байтах
	Number int        // Номер кадра
	Kind   DeviceKind // Видео или звук
}

// FrameReader интерфейс для чтения закодированных кадров
type FrameReader interface {
	Read() (*EncodedFrame, error)
	Close() error
}

// MediaStream живой медиапоток, удерживающий устройства захвата
type MediaStream interface {
	ID() string
	// Label имя видеоустройства, из которого идет поток
	Label() string
	// Resolution исходное разрешение видеодорожки
	Resolution() (width, height int)
	HasAudio() bool
	// Snapshot возвращает текущий декодированный кадр
	Snapshot() (image.Image, error)
	// CreateReader создает ридер закодированных кадров дорожки
	CreateReader(kind DeviceKind, codecName string) (FrameReader, error)
	Close() error
}

// RecorderState состояние машины записи
type RecorderState int

const (
	StateIdle RecorderState = iota
	StateRecording
	StatePaused
	StateStopping
)

func (s RecorderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
