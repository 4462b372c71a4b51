package application

import (
	"webcam-capture/internal/domain"
)

// StreamSource источник готового медиапотока
type StreamSource interface {
	Stream() (domain.MediaStream, bool)
}

// PhotoCapturer делает снимок с живого потока
type PhotoCapturer struct {
	streams StreamSource
	encoder StillEncoder
	logger  Logger

	// IsFrontFacing определяет, нужно ли отражать кадр
	IsFrontFacing func(label string) bool
}

// NewPhotoCapturer создает компонент снимков
func NewPhotoCapturer(streams StreamSource, encoder StillEncoder, logger Logger) *PhotoCapturer {
	return &PhotoCapturer{
		streams:       streams,
		encoder:       encoder,
		logger:        logger,
		IsFrontFacing: domain.IsFrontFacing,
	}
}

// Capture снимает текущий кадр и кодирует его в сжатое изображение.
// Повторных попыток не делает.
func (p *PhotoCapturer) Capture() (*domain.CapturedAsset, error) {
	stream, ready := p.streams.Stream()
	if !ready {
		return nil, domain.Errorf(domain.KindInvalidState, "capture photo", "Камера еще не готова")
	}

	img, err := stream.Snapshot()
	if err != nil {
		return nil, domain.NewError(domain.KindOther, "capture photo", err)
	}
	if img == nil {
		return nil, domain.Errorf(domain.KindOther, "capture photo", "Камера вернула пустой кадр")
	}

	mirror := p.IsFrontFacing != nil && p.IsFrontFacing(stream.Label())
	data, err := p.encoder.EncodeStill(img, mirror)
	if err != nil {
		return nil, domain.NewError(domain.KindOther, "encode photo", err)
	}

	b := img.Bounds()
	p.logger.Info("Снимок %dx%d, %d байт, отражение: %v", b.Dx(), b.Dy(), len(data), mirror)

	return &domain.CapturedAsset{
		Kind:     domain.AssetImage,
		Data:     data,
		MimeType: p.encoder.MimeType(),
	}, nil
}
