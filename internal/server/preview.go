package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"webcam-capture/internal/application"
	"webcam-capture/internal/infrastructure/streaming"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Превью принимается от любого клиента
	},
}

// VideoWriter сохраняет поток кадров превью в файл
type VideoWriter struct {
	mutex      sync.Mutex
	outputFile *os.File
	filePath   string
	written    int64
}

// NewVideoWriter создает файл с именем по времени подключения
func NewVideoWriter(outputDir, codec string) (*VideoWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию: %v", err)
	}

	ext := strings.ToLower(codec)
	if ext == "" || strings.ContainsAny(ext, `/\.`) {
		ext = "bin"
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filePath := filepath.Join(outputDir, fmt.Sprintf("preview_%s.%s", timestamp, ext))

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать файл: %v", err)
	}
	return &VideoWriter{outputFile: file, filePath: filePath}, nil
}

// Write записывает кадр в файл
func (vw *VideoWriter) Write(data []byte) error {
	vw.mutex.Lock()
	defer vw.mutex.Unlock()

	if vw.outputFile == nil {
		return os.ErrClosed
	}
	n, err := vw.outputFile.Write(data)
	vw.written += int64(n)
	return err
}

// Written сколько байт записано в файл
func (vw *VideoWriter) Written() int64 {
	vw.mutex.Lock()
	defer vw.mutex.Unlock()
	return vw.written
}

// Close закрывает файл
func (vw *VideoWriter) Close() error {
	vw.mutex.Lock()
	defer vw.mutex.Unlock()

	if vw.outputFile != nil {
		err := vw.outputFile.Close()
		vw.outputFile = nil
		return err
	}
	return nil
}

// previewReceiver принимает трансляцию превью одного клиента
func previewReceiver(conn *websocket.Conn, dir string, st *stats, logger application.Logger) error {
	var header streaming.PreviewHeader
	if err := conn.ReadJSON(&header); err != nil {
		return fmt.Errorf("ошибка чтения заголовка превью: %w", err)
	}

	videoWriter, err := NewVideoWriter(dir, header.Codec)
	if err != nil {
		return err
	}
	defer func() {
		if err := videoWriter.Close(); err != nil {
			logger.Error("Ошибка закрытия файла превью: %v", err)
		}
		logger.Info("Превью %s завершено, записано %s", videoWriter.filePath,
			humanize.IBytes(uint64(videoWriter.Written())))
	}()

	logger.Info("Превью %s (%dx%d, %s) пишется в %s", header.Label, header.Width, header.Height,
		header.Codec, videoWriter.filePath)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		// Обрабатываем только бинарные сообщения с закодированными кадрами
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := videoWriter.Write(message); err != nil {
			return fmt.Errorf("ошибка записи данных: %w", err)
		}
		st.previewBytes.Add(float64(len(message)))
	}
}
