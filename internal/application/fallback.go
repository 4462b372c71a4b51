package application

import (
	"time"

	"webcam-capture/internal/domain"
)

// DefaultSeekOffset смещение от начала записи для резервного снимка
const DefaultSeekOffset = 100 * time.Millisecond

// ScreenshotFallback получает снимок из записи, которую не удалось отправить
type ScreenshotFallback struct {
	player  FramePlayer
	encoder StillEncoder
	logger  Logger

	SeekOffset time.Duration
}

// NewScreenshotFallback создает резервный путь
func NewScreenshotFallback(player FramePlayer, encoder StillEncoder, logger Logger) *ScreenshotFallback {
	return &ScreenshotFallback{
		player:     player,
		encoder:    encoder,
		logger:     logger,
		SeekOffset: DefaultSeekOffset,
	}
}

// Capture делает две попытки: кадр после перемотки, затем первый
// воспроизводимый кадр. Если обе неудачны, возвращает ошибку декодирования.
func (f *ScreenshotFallback) Capture(blob *domain.Blob) (*domain.CapturedAsset, error) {
	if blob.Size() == 0 {
		return nil, domain.Errorf(domain.KindPlaybackDecodeFailure, "fallback screenshot", "Нет записанного видео")
	}

	img, seekErr := f.player.FrameAt(blob, f.SeekOffset)
	if seekErr != nil {
		f.logger.Error("Кадр после перемотки недоступен: %v", seekErr)
		var playErr error
		img, playErr = f.player.FrameAt(blob, 0)
		if playErr != nil {
			f.logger.Error("Кадр при воспроизведении недоступен: %v", playErr)
			return nil, domain.NewError(domain.KindPlaybackDecodeFailure, "fallback screenshot", playErr)
		}
	}

	data, err := f.encoder.EncodeStill(img, false)
	if err != nil {
		return nil, domain.NewError(domain.KindPlaybackDecodeFailure, "encode screenshot", err)
	}

	f.logger.Info("Резервный снимок получен из записи: %d байт", len(data))
	return &domain.CapturedAsset{
		Kind:     domain.AssetImage,
		Data:     data,
		MimeType: f.encoder.MimeType(),
	}, nil
}
