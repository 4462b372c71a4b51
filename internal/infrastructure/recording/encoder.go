package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// CodecSupport набор кодеков, доступных потокам камеры
type CodecSupport interface {
	Supports(name string) bool
}

// TrackEncoderFactory создает кодировщики записи поверх дорожек потока
type TrackEncoderFactory struct {
	codecs CodecSupport
	clock  clockwork.Clock
	logger application.Logger
}

// NewTrackEncoderFactory создает фабрику, clock может быть nil
func NewTrackEncoderFactory(codecs CodecSupport, clock clockwork.Clock, logger application.Logger) *TrackEncoderFactory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TrackEncoderFactory{codecs: codecs, clock: clock, logger: logger}
}

// IsTypeSupported проверяет контейнер и наличие всех кодеков формата
func (f *TrackEncoderFactory) IsTypeSupported(mimeType string) bool {
	format, err := domain.ParseFormat(mimeType)
	if err != nil {
		return false
	}
	if !f.codecs.Supports(format.VideoCodec) {
		return false
	}
	return format.AudioCodec == "" || f.codecs.Supports(format.AudioCodec)
}

// DefaultMimeType первый формат без звука, который можно записать
func (f *TrackEncoderFactory) DefaultMimeType() string {
	for _, mimeType := range []string{"video/webm", "video/webm;codecs=vp9", "video/h264"} {
		if f.IsTypeSupported(mimeType) {
			return mimeType
		}
	}
	return ""
}

// NewEncoder создает кодировщик для потока
func (f *TrackEncoderFactory) NewEncoder(stream domain.MediaStream, opts application.EncoderOptions) (application.Encoder, error) {
	if stream == nil {
		return nil, errors.New("поток не задан")
	}
	if !f.IsTypeSupported(opts.Format.MimeType) {
		return nil, fmt.Errorf("формат %q не поддерживается", opts.Format.MimeType)
	}
	if opts.Timeslice <= 0 {
		opts.Timeslice = application.DefaultTimeslice
	}
	return &TrackEncoder{
		stream: stream,
		opts:   opts,
		clock:  f.clock,
		logger: f.logger,
	}, nil
}

// TrackEncoder читает закодированные кадры из дорожек, раскладывает их
// по контейнеру и выдает накопленные байты фрагментами раз в Timeslice
type TrackEncoder struct {
	stream domain.MediaStream
	opts   application.EncoderOptions
	clock  clockwork.Clock
	logger application.Logger

	mutex        sync.Mutex
	started      bool
	stopping     bool
	paused       bool
	needKeyframe bool
	startTime    time.Time
	pauseStart   time.Time
	pausedTotal  time.Duration
	sink         *chunkSink
	container    containerWriter
	readers      []domain.FrameReader
	handlers     application.EncoderHandlers

	readWG   sync.WaitGroup
	done     chan struct{}
	flushed  chan struct{}
	errOnce  sync.Once
	stopOnce sync.Once
}

// MimeType формат выдаваемых фрагментов
func (e *TrackEncoder) MimeType() string {
	return e.opts.Format.MimeType
}

// Start открывает ридеры дорожек и запускает кодирование
func (e *TrackEncoder) Start(h application.EncoderHandlers) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.started {
		return errors.New("кодировщик уже запущен")
	}

	format := e.opts.Format
	video, err := e.stream.CreateReader(domain.VideoInput, format.VideoCodec)
	if err != nil {
		return fmt.Errorf("ошибка создания видеоридера: %w", err)
	}
	readers := []domain.FrameReader{video}

	if format.AudioCodec != "" {
		audio, err := e.stream.CreateReader(domain.AudioInput, format.AudioCodec)
		if err != nil {
			video.Close()
			return fmt.Errorf("ошибка создания аудиоридера: %w", err)
		}
		readers = append(readers, audio)
	}

	width, height := e.stream.Resolution()
	sink := &chunkSink{}
	container, err := newContainerWriter(format, sink, width, height, 0)
	if err != nil {
		for _, r := range readers {
			r.Close()
		}
		return err
	}

	e.started = true
	e.handlers = h
	e.sink = sink
	e.container = container
	e.readers = readers
	e.needKeyframe = true
	e.startTime = e.clock.Now()
	e.done = make(chan struct{})
	e.flushed = make(chan struct{})

	for _, r := range readers {
		e.readWG.Add(1)
		go e.readLoop(r)
	}
	go e.flushLoop()

	e.logger.Debug("Кодировщик %s запущен, фрагменты каждые %s", format.MimeType, e.opts.Timeslice)
	return nil
}

// readLoop переносит кадры из ридера в контейнер
func (e *TrackEncoder) readLoop(r domain.FrameReader) {
	defer e.readWG.Done()

	for {
		frame, err := r.Read()
		if err != nil {
			if !e.isStopping() {
				e.fail(fmt.Errorf("ошибка чтения кадра: %w", err))
			}
			return
		}
		if frame == nil {
			continue
		}
		if err := e.write(frame); err != nil {
			e.fail(err)
			return
		}
	}
}

func (e *TrackEncoder) write(frame *domain.EncodedFrame) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.paused || e.stopping {
		return nil
	}
	ts := e.clock.Since(e.startTime) - e.pausedTotal

	if frame.Kind == domain.AudioInput {
		if e.needKeyframe {
			return nil
		}
		return e.container.WriteAudio(ts, frame.Data)
	}

	keyframe := isKeyframe(e.opts.Format.VideoCodec, frame.Data)
	if e.needKeyframe {
		// После старта и паузы поток должен начинаться с ключевого кадра
		if !keyframe {
			return nil
		}
		e.needKeyframe = false
	}
	if err := e.container.WriteVideo(keyframe, ts, frame.Data); err != nil {
		return fmt.Errorf("ошибка записи кадра %d: %w", frame.Number, err)
	}
	return nil
}

// flushLoop выдает накопленные данные раз в Timeslice
func (e *TrackEncoder) flushLoop() {
	defer close(e.flushed)

	ticker := e.clock.NewTicker(e.opts.Timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.Chan():
			e.emit()
		}
	}
}

func (e *TrackEncoder) emit() {
	if chunk := e.sink.take(); chunk != nil && e.handlers.OnChunk != nil {
		e.handlers.OnChunk(chunk)
	}
}

// Pause перестает принимать кадры
func (e *TrackEncoder) Pause() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.started || e.stopping {
		return errors.New("кодировщик не запущен")
	}
	if e.paused {
		return nil
	}
	e.paused = true
	e.pauseStart = e.clock.Now()
	return nil
}

// Resume продолжает запись со следующего ключевого кадра
func (e *TrackEncoder) Resume() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.started || e.stopping {
		return errors.New("кодировщик не запущен")
	}
	if !e.paused {
		return nil
	}
	e.paused = false
	e.pausedTotal += e.clock.Since(e.pauseStart)
	e.needKeyframe = true
	return nil
}

// Stop завершает контейнер в отдельной горутине и вызывает OnStop
func (e *TrackEncoder) Stop() error {
	e.mutex.Lock()
	if !e.started {
		e.mutex.Unlock()
		return errors.New("кодировщик не запущен")
	}
	e.stopping = true
	e.mutex.Unlock()

	e.stopOnce.Do(func() {
		go e.finish()
	})
	return nil
}

func (e *TrackEncoder) finish() {
	// Закрытие ридеров прерывает блокирующее чтение
	for _, r := range e.readers {
		if err := r.Close(); err != nil {
			e.logger.Debug("Ошибка закрытия ридера: %v", err)
		}
	}
	e.readWG.Wait()

	close(e.done)
	<-e.flushed

	e.mutex.Lock()
	err := e.container.Close()
	e.mutex.Unlock()
	if err != nil {
		e.logger.Error("Ошибка завершения контейнера: %v", err)
	}

	e.emit()
	e.logger.Debug("Кодировщик остановлен, записано %d байт", e.sink.written())

	if e.handlers.OnStop != nil {
		e.handlers.OnStop()
	}
}

func (e *TrackEncoder) isStopping() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stopping
}

// fail сообщает о первой ошибке кодирования
func (e *TrackEncoder) fail(err error) {
	e.errOnce.Do(func() {
		if e.handlers.OnError != nil {
			e.handlers.OnError(err)
		}
	})
}
