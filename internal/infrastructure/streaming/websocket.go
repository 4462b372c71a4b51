package streaming

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// PreviewHeader первое сообщение трансляции, описывает кодек кадров
type PreviewHeader struct {
	Codec  string `json:"codec"`
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// WebSocketStreamer транслирует закодированные кадры превью через WebSocket
type WebSocketStreamer struct {
	url       string
	codec     string
	logger    application.Logger
	debugMode bool

	mutex        sync.Mutex
	conn         *websocket.Conn
	cancel       context.CancelFunc
	frameCounter int
	startTime    time.Time
}

// NewWebSocketStreamer создает стример превью для адреса ws://host/ws
func NewWebSocketStreamer(rawURL, codec string, logger application.Logger, debugMode bool) *WebSocketStreamer {
	return &WebSocketStreamer{
		url:       rawURL,
		codec:     codec,
		logger:    logger,
		debugMode: debugMode,
	}
}

// StartStreaming транслирует кадры потока до отмены контекста или StopStreaming
func (s *WebSocketStreamer) StartStreaming(ctx context.Context, stream domain.MediaStream) error {
	// Предыдущая трансляция всегда завершается до новой
	if err := s.StopStreaming(); err != nil {
		return err
	}

	u, err := url.Parse(s.url)
	if err != nil {
		s.logger.Error("Некорректный URL превью: %v", err)
		return err
	}

	s.logger.Info("Подключение к %s", u.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		s.logger.Error("Ошибка подключения к серверу превью: %v", err)
		return err
	}

	reader, err := stream.CreateReader(domain.VideoInput, s.codec)
	if err != nil {
		conn.Close()
		s.logger.Error("Ошибка создания ридера: %v", err)
		return err
	}

	width, height := stream.Resolution()
	if err := conn.WriteJSON(PreviewHeader{Codec: s.codec, Label: stream.Label(), Width: width, Height: height}); err != nil {
		reader.Close()
		conn.Close()
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.mutex.Lock()
	s.conn = conn
	s.cancel = cancel
	s.frameCounter = 0
	s.startTime = time.Now()
	s.mutex.Unlock()

	// Read блокируется, закрытие ридера его прерывает
	go func() {
		<-streamCtx.Done()
		reader.Close()
	}()

	s.logger.Info("Начало трансляции превью...")
	for {
		frame, err := reader.Read()
		if err != nil {
			if streamCtx.Err() != nil {
				s.logger.Info("Трансляция превью остановлена")
				return nil
			}
			s.logger.Error("Ошибка чтения кадра: %v", err)
			s.StopStreaming()
			return err
		}
		if frame == nil {
			continue
		}
		if err := s.sendFrame(frame); err != nil {
			if streamCtx.Err() != nil {
				return nil
			}
			s.logger.Error("Ошибка отправки кадра: %v", err)
			s.StopStreaming()
			return err
		}
	}
}

// StopStreaming закрывает соединение превью. Повторный вызов безопасен.
func (s *WebSocketStreamer) StopStreaming() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn == nil {
		return nil
	}

	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("Ошибка закрытия WebSocket: %v", err)
	}
	s.conn.Close()
	s.conn = nil
	return nil
}

// IsConnected возвращает статус подключения
func (s *WebSocketStreamer) IsConnected() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conn != nil
}

func (s *WebSocketStreamer) sendFrame(frame *domain.EncodedFrame) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return errors.New("соединение закрыто")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
		return err
	}

	s.frameCounter++
	if s.debugMode && s.frameCounter%30 == 0 {
		elapsed := time.Since(s.startTime).Seconds()
		s.logger.Debug("Отправлено кадров превью: %d, FPS: %.2f, размер последнего: %d байт",
			s.frameCounter, float64(s.frameCounter)/elapsed, frame.Size)
	}
	return nil
}
