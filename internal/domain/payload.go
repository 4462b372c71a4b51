package domain

import (
	"encoding/base64"
	"errors"
	"strings"
)

const (
	dataURLPrefix = "data:"
	base64Marker  = ";base64,"
)

// ErrInvalidDataURL ошибка разбора data URL
var ErrInvalidDataURL = errors.New("некорректный data URL")

// EncodeDataURL кодирует байты в data URL вида data:<mime>;base64,<данные>.
// Преобразование побайтовое и сохраняет порядок, DecodeDataURL
// восстанавливает исходные данные без потерь.
func EncodeDataURL(mimeType string, data []byte) string {
	var sb strings.Builder
	sb.Grow(len(dataURLPrefix) + len(mimeType) + len(base64Marker) + base64.StdEncoding.EncodedLen(len(data)))
	sb.WriteString(dataURLPrefix)
	sb.WriteString(mimeType)
	sb.WriteString(base64Marker)
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String()
}

// DecodeDataURL разбирает data URL и возвращает MIME-тип и данные.
// Строка без префикса data: считается чистым base64.
func DecodeDataURL(s string) (string, []byte, error) {
	if !strings.HasPrefix(s, dataURLPrefix) {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", nil, errors.Join(ErrInvalidDataURL, err)
		}
		return "", data, nil
	}

	// Список кодеков в MIME-типе сам содержит запятые
	mimeType, payload, ok := strings.Cut(s[len(dataURLPrefix):], base64Marker)
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Join(ErrInvalidDataURL, err)
	}
	return mimeType, data, nil
}

// DataURLPayloadLen длина base64-части data URL
func DataURLPayloadLen(s string) int {
	if i := strings.Index(s, base64Marker); i >= 0 && strings.HasPrefix(s, dataURLPrefix) {
		return len(s) - i - len(base64Marker)
	}
	return len(s)
}
