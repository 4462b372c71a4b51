package application

import (
	"context"
	"sync"

	"webcam-capture/internal/domain"
)

// StreamInitializer владеет единственным живым медиапотоком.
// Перед открытием нового потока предыдущий всегда освобождается.
type StreamInitializer struct {
	manager CameraManager
	preview PreviewStreamer
	logger  Logger

	initMutex  sync.Mutex
	mutex      sync.Mutex
	stream     domain.MediaStream
	ready      bool
	readyCh    chan struct{}
	cancelFunc context.CancelFunc
	generation int
}

// NewStreamInitializer создает инициализатор потока, preview может быть nil
func NewStreamInitializer(manager CameraManager, preview PreviewStreamer, logger Logger) *StreamInitializer {
	return &StreamInitializer{
		manager: manager,
		preview: preview,
		logger:  logger,
	}
}

// Initialize освобождает текущий поток и открывает новый по настройкам сессии.
// Готовность наступает только после получения первого кадра.
func (s *StreamInitializer) Initialize(ctx context.Context, session domain.CaptureSession) (domain.MediaStream, error) {
	s.initMutex.Lock()
	defer s.initMutex.Unlock()

	s.Release()

	req := session.Request()
	s.logger.Info("Открытие камеры с параметрами: %dx%d, %d fps, битрейт: %d bps",
		req.Video.Width, req.Video.Height, req.Video.FrameRate, req.Video.VideoBitRate)

	stream, err := s.manager.OpenStream(ctx, req)
	if err != nil {
		err = classifyStreamError(err)
		s.logger.Error("Ошибка открытия камеры: %v", err)
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan struct{})

	s.mutex.Lock()
	s.generation++
	gen := s.generation
	s.stream = stream
	s.ready = false
	s.readyCh = readyCh
	s.cancelFunc = cancel
	s.mutex.Unlock()

	s.logger.Info("Используется камера: %s (%s)", stream.Label(), stream.ID())

	go s.awaitFirstFrame(streamCtx, gen, stream, readyCh)

	if s.preview != nil {
		go func() {
			err := s.preview.StartStreaming(streamCtx, stream)
			if err != nil && streamCtx.Err() == nil {
				s.logger.Error("Ошибка трансляции превью: %v", err)
			}
		}()
	}

	return stream, nil
}

// awaitFirstFrame переводит поток в состояние готовности после первого кадра
func (s *StreamInitializer) awaitFirstFrame(ctx context.Context, gen int, stream domain.MediaStream, readyCh chan struct{}) {
	for ctx.Err() == nil {
		img, err := stream.Snapshot()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Ошибка чтения первого кадра: %v", err)
			}
			return
		}
		if img == nil {
			continue
		}

		s.mutex.Lock()
		if s.generation == gen && s.stream != nil {
			s.ready = true
			close(readyCh)
		}
		s.mutex.Unlock()
		s.logger.Debug("Первый кадр получен, поток готов")
		return
	}
}

// Ready сообщает, получен ли первый кадр текущего потока
func (s *StreamInitializer) Ready() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ready
}

// WaitReady ожидает первый кадр текущего потока
func (s *StreamInitializer) WaitReady(ctx context.Context) error {
	s.mutex.Lock()
	readyCh := s.readyCh
	s.mutex.Unlock()

	if readyCh == nil {
		return domain.Errorf(domain.KindInvalidState, "wait ready", "Поток камеры не инициализирован")
	}
	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream возвращает текущий поток, если он готов
func (s *StreamInitializer) Stream() (domain.MediaStream, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stream, s.ready && s.stream != nil
}

// Release останавливает превью и закрывает все дорожки потока.
// Повторный вызов безопасен.
func (s *StreamInitializer) Release() {
	s.mutex.Lock()
	stream := s.stream
	cancel := s.cancelFunc
	s.stream = nil
	s.ready = false
	s.readyCh = nil
	s.cancelFunc = nil
	s.generation++
	s.mutex.Unlock()

	if stream == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	if s.preview != nil {
		if err := s.preview.StopStreaming(); err != nil {
			s.logger.Error("Ошибка остановки превью: %v", err)
		}
	}
	if err := stream.Close(); err != nil {
		s.logger.Error("Ошибка закрытия потока: %v", err)
	}
	s.logger.Debug("Поток %s освобожден", stream.ID())
}

// classifyStreamError гарантирует, что ошибка открытия потока имеет категорию
func classifyStreamError(err error) error {
	if domain.KindOf(err) != domain.KindOther {
		return err
	}
	if ce, ok := err.(*domain.CaptureError); ok {
		return ce
	}
	return domain.NewError(domain.KindOther, "open stream", err)
}
