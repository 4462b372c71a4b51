package application

import (
	"context"
	"image"
	"time"

	"webcam-capture/internal/domain"
)

// CameraManager интерфейс для управления устройствами захвата
type CameraManager interface {
	// RequestAccess проверяет, что у процесса есть доступ к устройствам
	RequestAccess(ctx context.Context) error

	// ListDevices возвращает список доступных устройств захвата
	ListDevices(ctx context.Context) ([]domain.MediaDevice, error)

	// OpenStream открывает медиапоток с заданными параметрами
	OpenStream(ctx context.Context, req domain.StreamRequest) (domain.MediaStream, error)
}

// DeviceWatcher уведомляет о подключении и отключении устройств
type DeviceWatcher interface {
	// Watch вызывает onChange при каждом изменении набора устройств
	// и блокируется до отмены контекста
	Watch(ctx context.Context, onChange func()) error
}

// PreviewStreamer интерфейс для трансляции живого превью
type PreviewStreamer interface {
	// StartStreaming транслирует поток до отмены контекста
	StartStreaming(ctx context.Context, stream domain.MediaStream) error

	// StopStreaming останавливает трансляцию
	StopStreaming() error
}

// EncoderOptions параметры кодировщика записи
type EncoderOptions struct {
	Format    domain.RecordingFormat
	Timeslice time.Duration // Период выдачи фрагментов
}

// EncoderHandlers обработчики событий кодировщика. Кодировщик вызывает их
// только из своих горутин и никогда изнутри Start, Pause, Resume или Stop.
type EncoderHandlers struct {
	OnChunk func(chunk []byte)
	OnError func(err error)
	OnStop  func()
}

// Encoder кодировщик записи, выдающий фрагменты контейнера
type Encoder interface {
	Start(h EncoderHandlers) error
	Pause() error
	Resume() error
	// Stop запрашивает выдачу последнего фрагмента и останавливает кодирование,
	// по завершении вызывается OnStop
	Stop() error
	MimeType() string
}

// EncoderFactory создает кодировщики для поддерживаемых форматов
type EncoderFactory interface {
	IsTypeSupported(mimeType string) bool
	// DefaultMimeType формат, используемый когда ни один из предпочтительных не подошел
	DefaultMimeType() string
	NewEncoder(stream domain.MediaStream, opts EncoderOptions) (Encoder, error)
}

// StillEncoder кодирует кадр в сжатое изображение
type StillEncoder interface {
	EncodeStill(img image.Image, mirror bool) ([]byte, error)
	MimeType() string
}

// FramePlayer извлекает кадр из записанного видео
type FramePlayer interface {
	// FrameAt возвращает первый декодируемый кадр не раньше offset
	FrameAt(blob *domain.Blob, offset time.Duration) (image.Image, error)
}

// Submitter отправляет материалы в сервис обработки
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (*domain.ProcessingResult, error)
}

// Logger интерфейс для логирования
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}
