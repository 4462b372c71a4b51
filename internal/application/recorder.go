package application

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"webcam-capture/internal/domain"
)

const (
	// DefaultTimeslice период выдачи фрагментов кодировщиком
	DefaultTimeslice = 500 * time.Millisecond
	// DefaultStopTimeout сколько ждать завершения кодировщика после Stop
	DefaultStopTimeout = 5 * time.Second
)

// RecordOptions параметры одной записи
type RecordOptions struct {
	CodecPreference []string
	MaxDuration     time.Duration
	Timeslice       time.Duration
	WithAudio       bool
}

// FinishedFunc получает результат записи: склеенный объект или ошибку
type FinishedFunc func(blob *domain.Blob, elapsed time.Duration, err error)

// Recorder машина состояний записи видео:
// Idle -> Recording -> (Paused <-> Recording) -> Stopping -> Idle
type Recorder struct {
	factory EncoderFactory
	clock   clockwork.Clock
	logger  Logger

	// OnFinished вызывается после перехода Stopping -> Idle или при ошибке кодировщика
	OnFinished FinishedFunc
	// StopTimeout ограничивает ожидание завершения кодировщика
	StopTimeout time.Duration

	mutex        sync.Mutex
	state        domain.RecorderState
	encoder      Encoder
	buffer       domain.RecordingBuffer
	mimeType     string
	generation   int
	maxDuration  time.Duration
	elapsed      time.Duration
	segmentStart time.Time
	timer        clockwork.Timer
}

// NewRecorder создает машину записи
func NewRecorder(factory EncoderFactory, clock clockwork.Clock, logger Logger) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		factory:     factory,
		clock:       clock,
		logger:      logger,
		StopTimeout: DefaultStopTimeout,
	}
}

// State возвращает текущее состояние
func (r *Recorder) State() domain.RecorderState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

// MimeType формат текущей или последней записи
func (r *Recorder) MimeType() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.mimeType
}

// Elapsed длительность записи без учета пауз
func (r *Recorder) Elapsed() time.Duration {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state == domain.StateRecording {
		return r.elapsed + r.clock.Since(r.segmentStart)
	}
	return r.elapsed
}

// Remaining оставшееся до автоматической остановки время
func (r *Recorder) Remaining() time.Duration {
	left := r.maxDurationSnapshot() - r.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

func (r *Recorder) maxDurationSnapshot() time.Duration {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.maxDuration
}

// SelectMimeType выбирает первый поддерживаемый формат из списка предпочтений,
// иначе формат кодировщика по умолчанию
func SelectMimeType(factory EncoderFactory, preference []string, withAudio bool) (domain.RecordingFormat, error) {
	for _, mimeType := range preference {
		format, err := domain.ParseFormat(mimeType)
		if err != nil {
			continue
		}
		if !withAudio {
			format = format.WithoutAudio()
		}
		if factory.IsTypeSupported(format.MimeType) {
			return format, nil
		}
	}

	def := factory.DefaultMimeType()
	if def == "" {
		return domain.RecordingFormat{}, domain.NewError(domain.KindEncoderUnsupported, "select format", nil)
	}
	format, err := domain.ParseFormat(def)
	if err != nil {
		return domain.RecordingFormat{}, domain.NewError(domain.KindEncoderUnsupported, "select format", err)
	}
	if !withAudio {
		format = format.WithoutAudio()
	}
	return format, nil
}

// Start начинает запись. Допустим только из состояния Idle.
func (r *Recorder) Start(stream domain.MediaStream, opts RecordOptions) error {
	if stream == nil {
		return domain.Errorf(domain.KindInvalidState, "start recording", "Камера еще не готова")
	}
	if opts.MaxDuration <= 0 {
		return errors.New("максимальная длительность записи должна быть положительной")
	}
	if opts.Timeslice <= 0 {
		opts.Timeslice = DefaultTimeslice
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state != domain.StateIdle {
		return domain.Errorf(domain.KindInvalidState, "start recording", "Запись уже в состоянии %s", r.state)
	}

	format, err := SelectMimeType(r.factory, opts.CodecPreference, opts.WithAudio && stream.HasAudio())
	if err != nil {
		return err
	}

	encoder, err := r.factory.NewEncoder(stream, EncoderOptions{
		Format:    format,
		Timeslice: opts.Timeslice,
	})
	if err != nil {
		return domain.NewError(domain.KindEncoderUnsupported, "create encoder", err)
	}

	r.buffer.Reset()
	r.generation++
	gen := r.generation

	err = encoder.Start(EncoderHandlers{
		OnChunk: func(chunk []byte) { r.handleChunk(gen, chunk) },
		OnError: func(err error) { r.handleError(gen, err) },
		OnStop:  func() { r.handleStop(gen) },
	})
	if err != nil {
		return domain.NewError(domain.KindEncoderUnsupported, "start encoder", err)
	}

	r.encoder = encoder
	r.mimeType = encoder.MimeType()
	r.maxDuration = opts.MaxDuration
	r.elapsed = 0
	r.segmentStart = r.clock.Now()
	r.state = domain.StateRecording
	r.timer = r.clock.AfterFunc(opts.MaxDuration, func() { r.autoStop(gen) })

	r.logger.Info("Запись начата: %s, максимум %s", r.mimeType, opts.MaxDuration)
	return nil
}

// Pause приостанавливает кодировщик и обратный отсчет
func (r *Recorder) Pause() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state != domain.StateRecording {
		return domain.Errorf(domain.KindInvalidState, "pause recording", "Нельзя приостановить запись в состоянии %s", r.state)
	}
	if err := r.encoder.Pause(); err != nil {
		return domain.NewError(domain.KindEncoderFailure, "pause recording", err)
	}
	r.stopTimerLocked()
	r.elapsed += r.clock.Since(r.segmentStart)
	r.state = domain.StatePaused
	r.logger.Debug("Запись на паузе, записано %s", r.elapsed)
	return nil
}

// Resume продолжает запись после паузы
func (r *Recorder) Resume() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state != domain.StatePaused {
		return domain.Errorf(domain.KindInvalidState, "resume recording", "Нельзя продолжить запись в состоянии %s", r.state)
	}
	if err := r.encoder.Resume(); err != nil {
		return domain.NewError(domain.KindEncoderFailure, "resume recording", err)
	}
	gen := r.generation
	r.segmentStart = r.clock.Now()
	r.state = domain.StateRecording
	r.timer = r.clock.AfterFunc(r.maxDuration-r.elapsed, func() { r.autoStop(gen) })
	r.logger.Debug("Запись продолжена, осталось %s", r.maxDuration-r.elapsed)
	return nil
}

// Stop останавливает запись вручную
func (r *Recorder) Stop() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state != domain.StateRecording && r.state != domain.StatePaused {
		return domain.Errorf(domain.KindInvalidState, "stop recording", "Нельзя остановить запись в состоянии %s", r.state)
	}
	r.logger.Info("Остановка записи")
	return r.stopLocked()
}

// autoStop срабатывает по истечении максимальной длительности
func (r *Recorder) autoStop(gen int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if gen != r.generation || r.state != domain.StateRecording {
		return
	}
	r.logger.Info("Достигнута максимальная длительность %s, остановка записи", r.maxDuration)
	if err := r.stopLocked(); err != nil {
		r.logger.Error("Ошибка автоматической остановки: %v", err)
	}
}

// stopLocked переводит машину в Stopping и запрашивает последний фрагмент
func (r *Recorder) stopLocked() error {
	if r.state == domain.StateRecording {
		r.elapsed += r.clock.Since(r.segmentStart)
		if r.elapsed > r.maxDuration {
			r.elapsed = r.maxDuration
		}
	}
	r.stopTimerLocked()
	r.state = domain.StateStopping

	gen := r.generation
	if err := r.encoder.Stop(); err != nil {
		go r.handleError(gen, err)
		return domain.NewError(domain.KindEncoderFailure, "stop recording", err)
	}
	r.timer = r.clock.AfterFunc(r.StopTimeout, func() {
		r.handleError(gen, errors.New("кодировщик не завершил запись вовремя"))
	})
	return nil
}

func (r *Recorder) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Recorder) handleChunk(gen int, chunk []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if gen != r.generation || r.state == domain.StateIdle {
		return
	}
	r.buffer.Append(chunk)
	r.logger.Debug("Получен фрагмент %d байт, всего %d", len(chunk), r.buffer.Size())
}

// handleStop завершает переход Stopping -> Idle и передает запись дальше
func (r *Recorder) handleStop(gen int) {
	r.mutex.Lock()
	if gen != r.generation || r.state != domain.StateStopping {
		r.mutex.Unlock()
		return
	}
	r.stopTimerLocked()

	var (
		blob *domain.Blob
		err  error
	)
	if r.buffer.Len() == 0 {
		err = domain.NewError(domain.KindEmptyCapture, "stop recording", nil)
	} else {
		blob = r.buffer.Blob(r.mimeType)
	}
	r.buffer.Reset()
	r.encoder = nil
	r.state = domain.StateIdle
	elapsed := r.elapsed
	onFinished := r.OnFinished
	r.mutex.Unlock()

	if err != nil {
		r.logger.Error("Запись не содержит данных")
	} else {
		r.logger.Info("Запись завершена: %d байт за %s", blob.Size(), elapsed)
	}
	if onFinished != nil {
		onFinished(blob, elapsed, err)
	}
}

// handleError немедленно возвращает машину в Idle при ошибке кодировщика
func (r *Recorder) handleError(gen int, cause error) {
	r.mutex.Lock()
	if gen != r.generation || r.state == domain.StateIdle {
		r.mutex.Unlock()
		return
	}
	r.stopTimerLocked()
	encoder := r.encoder
	r.encoder = nil
	r.generation++
	r.buffer.Reset()
	r.state = domain.StateIdle
	elapsed := r.elapsed
	onFinished := r.OnFinished
	r.mutex.Unlock()

	r.logger.Error("Ошибка кодировщика: %v", cause)
	if encoder != nil {
		// Кодировщик мог остаться активным, ошибку остановки игнорируем
		_ = encoder.Stop()
	}
	if onFinished != nil {
		onFinished(nil, elapsed, domain.NewError(domain.KindEncoderFailure, "record", cause))
	}
}

// Abort прерывает запись без выдачи результата
func (r *Recorder) Abort() {
	r.mutex.Lock()
	if r.state == domain.StateIdle {
		r.mutex.Unlock()
		return
	}
	r.stopTimerLocked()
	encoder := r.encoder
	r.encoder = nil
	r.generation++
	r.buffer.Reset()
	r.state = domain.StateIdle
	r.mutex.Unlock()

	if encoder != nil {
		_ = encoder.Stop()
	}
	r.logger.Info("Запись прервана")
}
