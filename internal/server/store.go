package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"webcam-capture/internal/domain"
)

// ErrInvalidName имя файла не из хранилища
var ErrInvalidName = errors.New("недопустимое имя файла")

var storedName = regexp.MustCompile(`^[0-9a-f-]{36}(_[A-Za-z0-9._-]{1,64})?\.[a-z0-9]{1,5}$`)

// FileStore сохраняет присланные материалы под уникальными именами
type FileStore struct {
	dir string
}

// NewFileStore создает каталог хранилища, если его нет
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию: %v", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save записывает данные и возвращает имя сохраненного файла
func (s *FileStore) Save(hint, mimeType string, data []byte) (string, error) {
	name := uuid.NewString()
	if base := sanitize(hint); base != "" {
		name += "_" + base
	}
	name += "." + domain.FileExtension(mimeType)

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return name, nil
}

// Path возвращает путь к сохраненному файлу
func (s *FileStore) Path(name string) (string, error) {
	if !storedName.MatchString(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// sanitize оставляет от имени, заданного клиентом, только безопасные символы
func sanitize(hint string) string {
	hint = strings.TrimSuffix(filepath.Base(hint), filepath.Ext(hint))
	var sb strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ' || r == '.':
			sb.WriteByte('_')
		}
		if sb.Len() >= 64 {
			break
		}
	}
	s := sb.String()
	if s == "." || s == "_" {
		return ""
	}
	return s
}
