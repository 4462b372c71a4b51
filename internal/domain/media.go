package domain

import (
	"errors"
	"strings"
)

// Blob двоичный объект с MIME-типом
type Blob struct {
	Data     []byte
	MimeType string
}

// Size возвращает размер данных в байтах
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// RecordingBuffer упорядоченный набор фрагментов активной записи
type RecordingBuffer struct {
	chunks [][]byte
	size   int
}

// Append добавляет фрагмент в конец буфера, пустые фрагменты пропускаются
func (b *RecordingBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
}

// Reset очищает буфер перед новой записью
func (b *RecordingBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}

// Len количество фрагментов
func (b *RecordingBuffer) Len() int { return len(b.chunks) }

// Size суммарный размер фрагментов
func (b *RecordingBuffer) Size() int { return b.size }

// Blob склеивает фрагменты в один объект с указанным MIME-типом
func (b *RecordingBuffer) Blob(mimeType string) *Blob {
	data := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		data = append(data, c...)
	}
	return &Blob{Data: data, MimeType: mimeType}
}

// AssetKind тип захваченного материала
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

// CapturedAsset готовый к отправке снимок или видео
type CapturedAsset struct {
	Kind     AssetKind
	Data     []byte
	MimeType string
}

// Submission тело запроса к сервису обработки. Одновременно заполнено
// не более одного из полей Image и Video.
type Submission struct {
	Image         string `json:"image,omitempty"`
	Video         string `json:"video,omitempty"`
	VideoMimeType string `json:"videoMimeType,omitempty"`
	FileName      string `json:"fileName,omitempty"`
}

// ErrMixedPayload возвращается, если в запросе есть и снимок, и видео
var ErrMixedPayload = errors.New("в запросе одновременно снимок и видео")

// ClearImage удаляет данные снимка
func (s *Submission) ClearImage() {
	s.Image = ""
}

// ClearVideo удаляет данные видео и его MIME-тип
func (s *Submission) ClearVideo() {
	s.Video = ""
	s.VideoMimeType = ""
}

// SetImage заполняет снимок и очищает поля видео
func (s *Submission) SetImage(asset *CapturedAsset) {
	s.ClearVideo()
	s.Image = EncodeDataURL(asset.MimeType, asset.Data)
}

// Kind возвращает тип содержимого запроса, пустую строку если он пуст
func (s *Submission) Kind() AssetKind {
	switch {
	case s.Video != "":
		return AssetVideo
	case s.Image != "":
		return AssetImage
	default:
		return ""
	}
}

// Validate проверяет взаимоисключаемость полей
func (s *Submission) Validate() error {
	if s.Image != "" && s.Video != "" {
		return ErrMixedPayload
	}
	return nil
}

// ErrorCodeNoMedia структурированный код ответа "медиа не получено"
const ErrorCodeNoMedia = "NO_MEDIA_RECEIVED"

// ProcessingResult ответ сервиса обработки
type ProcessingResult struct {
	Success              bool   `json:"success"`
	Error                string `json:"error,omitempty"`
	ErrorCode            string `json:"errorCode,omitempty"`
	SavedFileName        string `json:"savedFileName,omitempty"`
	SavedFileType        string `json:"savedFileType,omitempty"`
	CapturedImagePreview string `json:"capturedImagePreview,omitempty"`
	DownloadURL          string `json:"downloadUrl,omitempty"`
}

// IsNoMediaReceived сообщает, что сервер не получил медиаданные.
// Код ошибки проверяется первым, текст ошибки поддерживается для старых серверов.
func (r *ProcessingResult) IsNoMediaReceived() bool {
	if r == nil || r.Success {
		return false
	}
	if r.ErrorCode != "" {
		return r.ErrorCode == ErrorCodeNoMedia
	}
	return strings.Contains(strings.ToLower(r.Error), "no media")
}

// HasDownload сообщает, есть ли в ответе ссылка для скачивания
func (r *ProcessingResult) HasDownload() bool {
	return r != nil && r.Success && (r.DownloadURL != "" || r.CapturedImagePreview != "")
}
