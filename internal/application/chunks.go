package application

import (
	"encoding/base64"

	"webcam-capture/internal/domain"
)

// DefaultMinVideoBytes записи меньше этого размера считаются пустыми или поврежденными
const DefaultMinVideoBytes = 1024

// ChunkProcessor превращает записанный объект в тело запроса
type ChunkProcessor struct {
	logger Logger

	// MinVideoBytes минимальный правдоподобный размер записи
	MinVideoBytes int
	// encode преобразует данные в транспортную строку
	encode func(mimeType string, data []byte) string
}

// NewChunkProcessor создает обработчик фрагментов
func NewChunkProcessor(logger Logger) *ChunkProcessor {
	return &ChunkProcessor{
		logger:        logger,
		MinVideoBytes: DefaultMinVideoBytes,
		encode:        domain.EncodeDataURL,
	}
}

// Process проверяет запись, кодирует ее и заполняет поля видео.
// Поле снимка в результате всегда пустое.
func (p *ChunkProcessor) Process(blob *domain.Blob, fileName string) (*domain.Submission, error) {
	if blob.Size() < p.MinVideoBytes {
		p.logger.Error("Запись слишком мала: %d байт (минимум %d)", blob.Size(), p.MinVideoBytes)
		return nil, domain.Errorf(domain.KindEmptyCapture, "process recording",
			"Записанное видео пустое или повреждено (%d байт)", blob.Size())
	}

	encoded := p.encode(blob.MimeType, blob.Data)
	if !plausibleEncoding(len(blob.Data), domain.DataURLPayloadLen(encoded)) {
		p.logger.Error("Подозрительная длина после кодирования: %d байт -> %d символов",
			len(blob.Data), domain.DataURLPayloadLen(encoded))
		return nil, domain.NewError(domain.KindConversionFailure, "encode recording", nil)
	}

	sub := &domain.Submission{
		Video:         encoded,
		VideoMimeType: blob.MimeType,
		FileName:      fileName,
	}
	// Старый снимок не должен подменить видео
	sub.ClearImage()

	p.logger.Debug("Запись закодирована: %d байт -> %d символов", len(blob.Data), len(encoded))
	return sub, nil
}

// plausibleEncoding проверяет, что base64 не "сжал" данные. Длина base64
// определена однозначно, поэтому допуск нужен только на отсутствие паддинга.
func plausibleEncoding(inputLen, encodedLen int) bool {
	want := base64.StdEncoding.EncodedLen(inputLen)
	return encodedLen >= want-2
}
