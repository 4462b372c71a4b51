package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"webcam-capture/internal/domain"
)

// DefaultSubmitTimeout ограничение ожидания ответа сервиса обработки
const DefaultSubmitTimeout = 20 * time.Second

// ServiceConfig настройки сервиса захвата
type ServiceConfig struct {
	SubmitTimeout time.Duration
	Timeslice     time.Duration
}

// Components зависимости сервиса захвата
type Components struct {
	Devices   *DeviceEnumerator
	Streams   *StreamInitializer
	Photos    *PhotoCapturer
	Recorder  *Recorder
	Chunks    *ChunkProcessor
	Fallback  *ScreenshotFallback
	Submitter Submitter
	Logger    Logger
}

// Outcome итог цикла захвата и отправки
type Outcome struct {
	Kind     domain.AssetKind
	Result   *domain.ProcessingResult
	Err      error
	Fallback bool // Отправлен резервный снимок вместо видео
	Elapsed  time.Duration
}

// WebcamService сервис для работы с веб-камерой: снимки, запись и отправка
type WebcamService struct {
	devices   *DeviceEnumerator
	streams   *StreamInitializer
	photos    *PhotoCapturer
	recorder  *Recorder
	chunks    *ChunkProcessor
	fallback  *ScreenshotFallback
	submitter Submitter
	logger    Logger
	config    ServiceConfig

	outcomes chan Outcome

	mutex        sync.Mutex
	session      domain.CaptureSession
	outgoing     domain.Submission
	busy         bool
	reopen       bool // Поток нужно переоткрыть после завершения цикла
	lastVideo    *domain.Blob
	cancelSubmit context.CancelFunc
	opened       bool
	closed       bool
}

// NewWebcamService создает новый сервис для работы с веб-камерой
func NewWebcamService(c Components, session domain.CaptureSession, config ServiceConfig) *WebcamService {
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = DefaultSubmitTimeout
	}
	if config.Timeslice <= 0 {
		config.Timeslice = DefaultTimeslice
	}
	if len(session.CodecPreference) == 0 {
		session.CodecPreference = domain.DefaultCodecPreference
	}

	s := &WebcamService{
		devices:   c.Devices,
		streams:   c.Streams,
		photos:    c.Photos,
		recorder:  c.Recorder,
		chunks:    c.Chunks,
		fallback:  c.Fallback,
		submitter: c.Submitter,
		logger:    c.Logger,
		config:    config,
		outcomes:  make(chan Outcome, 8),
		session:   session,
	}
	s.recorder.OnFinished = s.handleRecordingFinished
	s.devices.OnSelectionChange = s.handleSelectionChange
	return s
}

// Outcomes канал результатов записи видео
func (s *WebcamService) Outcomes() <-chan Outcome {
	return s.outcomes
}

// Devices возвращает перечислитель устройств
func (s *WebcamService) Devices() *DeviceEnumerator {
	return s.devices
}

// Recorder возвращает машину записи
func (s *WebcamService) Recorder() *Recorder {
	return s.recorder
}

// Session возвращает текущие настройки захвата
func (s *WebcamService) Session() domain.CaptureSession {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.session
}

// Outgoing возвращает копию текущего тела запроса
func (s *WebcamService) Outgoing() domain.Submission {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.outgoing
}

// Busy сообщает, идет ли цикл захвата или отправки
func (s *WebcamService) Busy() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.busy
}

// Open перечисляет устройства и открывает поток с выбранной камерой.
// Устройства из настроек сессии предпочтительнее устройств по умолчанию.
func (s *WebcamService) Open(ctx context.Context) error {
	if err := s.devices.Refresh(ctx); err != nil {
		return err
	}
	if !s.devices.HasVideo() {
		return domain.NewError(domain.KindDeviceNotFound, "open", nil)
	}

	s.mutex.Lock()
	wantVideo, wantAudio := s.session.VideoDeviceID, s.session.AudioDeviceID
	s.mutex.Unlock()

	if wantVideo != "" {
		if err := s.devices.Select(domain.VideoInput, wantVideo); err != nil {
			s.logger.Info("Камера %q не найдена, используется камера по умолчанию", wantVideo)
		}
	}
	if wantAudio != "" {
		if err := s.devices.Select(domain.AudioInput, wantAudio); err != nil {
			s.logger.Info("Микрофон %q не найден, используется микрофон по умолчанию", wantAudio)
		}
	}

	video, audio := s.devices.Selected()
	s.mutex.Lock()
	s.session.VideoDeviceID = video
	s.session.AudioDeviceID = audio
	session := s.session
	s.mutex.Unlock()

	if _, err := s.streams.Initialize(ctx, session); err != nil {
		return err
	}

	s.mutex.Lock()
	s.opened = true
	s.mutex.Unlock()
	return nil
}

// SetSession применяет новые настройки и переоткрывает поток
func (s *WebcamService) SetSession(ctx context.Context, session domain.CaptureSession) error {
	if len(session.CodecPreference) == 0 {
		session.CodecPreference = domain.DefaultCodecPreference
	}
	s.mutex.Lock()
	if s.busy {
		s.mutex.Unlock()
		return domain.Errorf(domain.KindInvalidState, "update settings", "Настройки нельзя менять во время захвата")
	}
	s.session = session
	s.mutex.Unlock()

	_, err := s.streams.Initialize(ctx, session)
	return err
}

// WaitReady ожидает первый кадр потока
func (s *WebcamService) WaitReady(ctx context.Context) error {
	return s.streams.WaitReady(ctx)
}

// handleSelectionChange переоткрывает поток при смене выбранных устройств
func (s *WebcamService) handleSelectionChange(videoID, audioID string) {
	s.mutex.Lock()
	if s.closed || !s.opened {
		s.mutex.Unlock()
		return
	}
	s.session.VideoDeviceID = videoID
	s.session.AudioDeviceID = audioID
	if videoID == "" {
		s.reopen = false
		s.mutex.Unlock()
		s.logger.Error("Камеры недоступны, захват отключен")
		s.streams.Release()
		return
	}
	s.mutex.Unlock()

	go s.reopenStream()
}

// reopenStream открывает поток с устройствами текущей сессии. Во время
// захвата переоткрытие откладывается до завершения цикла.
func (s *WebcamService) reopenStream() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	if s.busy {
		s.reopen = true
		s.mutex.Unlock()
		s.logger.Info("Набор устройств изменился во время захвата, поток будет переоткрыт после его завершения")
		return
	}
	s.busy = true
	s.reopen = false
	session := s.session
	s.mutex.Unlock()
	defer s.finish()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.streams.Initialize(ctx, session); err != nil {
		s.logger.Error("Не удалось переоткрыть поток: %v", err)
		return
	}

	s.mutex.Lock()
	closed := s.closed
	s.mutex.Unlock()
	if closed {
		s.streams.Release()
	}
}

// begin занимает сервис под новый цикл захвата
func (s *WebcamService) begin(op string) error {
	if s.closed {
		return domain.Errorf(domain.KindInvalidState, op, "Сервис захвата закрыт")
	}
	if s.busy {
		return domain.Errorf(domain.KindInvalidState, op, "Предыдущий захват еще обрабатывается")
	}
	if err := s.devices.LastError(); err != nil {
		return err
	}
	if !s.devices.HasVideo() {
		return domain.NewError(domain.KindDeviceNotFound, op, nil)
	}
	s.busy = true
	return nil
}

// finish освобождает сервис и выполняет отложенное переоткрытие потока
func (s *WebcamService) finish() {
	s.mutex.Lock()
	s.busy = false
	s.cancelSubmit = nil
	pending := s.reopen && !s.closed
	s.mutex.Unlock()

	if pending {
		go s.reopenStream()
	}
}

// TakePhoto делает снимок и отправляет его
func (s *WebcamService) TakePhoto(ctx context.Context) (*Outcome, error) {
	s.mutex.Lock()
	if err := s.begin("take photo"); err != nil {
		s.mutex.Unlock()
		return nil, err
	}
	// Новый снимок отменяет неотправленное видео
	s.outgoing.ClearVideo()
	s.mutex.Unlock()
	defer s.finish()

	asset, err := s.photos.Capture()
	if err != nil {
		s.logger.Error("Ошибка снимка: %v", err)
		return nil, err
	}

	s.mutex.Lock()
	s.outgoing.SetImage(asset)
	s.outgoing.FileName = s.session.FileName
	sub := s.outgoing
	s.mutex.Unlock()

	result, err := s.submit(ctx, sub)
	outcome := &Outcome{Kind: domain.AssetImage, Result: result}
	if err == nil {
		err = resultError(result)
	}
	if err != nil {
		s.logger.Error("Ошибка отправки снимка: %v", err)
		outcome.Err = err
		return outcome, err
	}

	s.mutex.Lock()
	s.outgoing.ClearImage()
	s.mutex.Unlock()
	return outcome, nil
}

// StartRecording начинает запись видео
func (s *WebcamService) StartRecording() error {
	s.mutex.Lock()
	if err := s.begin("start recording"); err != nil {
		s.mutex.Unlock()
		return err
	}
	// Новая запись отменяет неотправленный снимок
	s.outgoing.ClearImage()
	s.lastVideo = nil
	session := s.session
	s.mutex.Unlock()

	stream, ready := s.streams.Stream()
	if !ready {
		s.finish()
		return domain.Errorf(domain.KindInvalidState, "start recording", "Камера еще не готова")
	}

	err := s.recorder.Start(stream, RecordOptions{
		CodecPreference: session.CodecPreference,
		MaxDuration:     session.MaxDuration,
		Timeslice:       s.config.Timeslice,
		WithAudio:       session.AudioEnabled,
	})
	if err != nil {
		s.finish()
		s.logger.Error("Ошибка начала записи: %v", err)
		return err
	}
	return nil
}

// PauseRecording приостанавливает запись
func (s *WebcamService) PauseRecording() error { return s.recorder.Pause() }

// ResumeRecording продолжает запись
func (s *WebcamService) ResumeRecording() error { return s.recorder.Resume() }

// StopRecording останавливает запись, результат придет в Outcomes
func (s *WebcamService) StopRecording() error { return s.recorder.Stop() }

// handleRecordingFinished получает результат записи от машины состояний
func (s *WebcamService) handleRecordingFinished(blob *domain.Blob, elapsed time.Duration, err error) {
	if err != nil {
		s.publish(Outcome{Kind: domain.AssetVideo, Err: err, Elapsed: elapsed})
		return
	}

	s.mutex.Lock()
	s.lastVideo = blob
	fileName := s.session.FileName
	s.mutex.Unlock()

	s.processRecording(blob, fileName, elapsed)
}

// processRecording кодирует и отправляет запись, при неудаче переходит к резервному снимку
func (s *WebcamService) processRecording(blob *domain.Blob, fileName string, elapsed time.Duration) {
	sub, err := s.chunks.Process(blob, fileName)
	if err != nil {
		if domain.IsKind(err, domain.KindConversionFailure) {
			s.runFallback(blob, elapsed, err)
			return
		}
		s.publish(Outcome{Kind: domain.AssetVideo, Err: err, Elapsed: elapsed})
		return
	}

	s.mutex.Lock()
	s.outgoing = *sub
	s.mutex.Unlock()

	result, err := s.submit(context.Background(), *sub)
	switch {
	case errors.Is(err, context.Canceled):
		s.publish(Outcome{Kind: domain.AssetVideo, Err: err, Elapsed: elapsed})
	case err != nil:
		s.logger.Error("Отправка видео не удалась: %v", err)
		s.runFallback(blob, elapsed, err)
	case result.IsNoMediaReceived():
		s.logger.Error("Сервер не получил видео: %s", result.Error)
		s.runFallback(blob, elapsed, resultError(result))
	default:
		s.publish(Outcome{Kind: domain.AssetVideo, Result: result, Err: resultError(result), Elapsed: elapsed})
	}
}

// runFallback отправляет снимок из записи вместо видео. Вызывается не более
// одного раза за цикл: ошибки отправки снимка резервный путь не запускают.
func (s *WebcamService) runFallback(blob *domain.Blob, elapsed time.Duration, cause error) {
	s.logger.Info("Переход к резервному снимку: %v", cause)

	asset, err := s.fallback.Capture(blob)
	if err != nil {
		s.publish(Outcome{Kind: domain.AssetImage, Err: err, Fallback: true, Elapsed: elapsed})
		return
	}

	s.mutex.Lock()
	s.outgoing.SetImage(asset)
	sub := s.outgoing
	s.mutex.Unlock()

	result, err := s.submit(context.Background(), sub)
	if err == nil {
		err = resultError(result)
	}
	s.publish(Outcome{Kind: domain.AssetImage, Result: result, Err: err, Fallback: true, Elapsed: elapsed})
}

// submit отправляет запрос с ограничением времени ожидания. Зависшая отправка
// считается такой же ошибкой, как явный отказ сервера.
func (s *WebcamService) submit(ctx context.Context, sub domain.Submission) (*domain.ProcessingResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, domain.NewError(domain.KindSubmissionFailure, "submit", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.SubmitTimeout)
	defer cancel()

	s.mutex.Lock()
	s.cancelSubmit = cancel
	s.mutex.Unlock()

	type reply struct {
		result *domain.ProcessingResult
		err    error
	}
	replies := make(chan reply, 1)
	go func() {
		result, err := s.submitter.Submit(ctx, sub)
		replies <- reply{result, err}
	}()

	s.logger.Debug("Отправка %s", sub.Kind())
	select {
	case r := <-replies:
		if r.err != nil {
			return nil, domain.NewError(domain.KindSubmissionFailure, "submit", r.err)
		}
		if r.result == nil {
			return nil, domain.Errorf(domain.KindSubmissionFailure, "submit", "Пустой ответ сервиса обработки")
		}
		return r.result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.CaptureError{
				Kind: domain.KindSubmissionFailure,
				Op:   "submit",
				Msg:  "Сервис обработки не ответил вовремя",
				Err:  ctx.Err(),
			}
		}
		return nil, domain.NewError(domain.KindSubmissionFailure, "submit", ctx.Err())
	}
}

// CancelSubmission прерывает текущую отправку
func (s *WebcamService) CancelSubmission() {
	s.mutex.Lock()
	cancel := s.cancelSubmit
	s.mutex.Unlock()
	if cancel != nil {
		s.logger.Info("Отправка отменена пользователем")
		cancel()
	}
}

// publish завершает цикл и передает результат подписчику
func (s *WebcamService) publish(o Outcome) {
	s.finish()
	if o.Err != nil {
		s.logger.Error("Цикл захвата завершен с ошибкой: %v", o.Err)
	} else if o.Result != nil {
		s.logger.Info("Сервер сохранил %s (%s)", o.Result.SavedFileName, o.Result.SavedFileType)
	}
	select {
	case s.outcomes <- o:
	default:
		s.logger.Error("Результат захвата потерян: очередь переполнена")
	}
}

// Close прерывает запись и отправку и освобождает камеру
func (s *WebcamService) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelSubmit
	s.mutex.Unlock()

	s.recorder.Abort()
	if cancel != nil {
		cancel()
	}
	s.streams.Release()
}

// resultError превращает отрицательный ответ сервера в ошибку
func resultError(result *domain.ProcessingResult) error {
	if result == nil || result.Success {
		return nil
	}
	msg := result.Error
	if msg == "" {
		msg = "Сервис обработки отклонил запрос"
	}
	return &domain.CaptureError{Kind: domain.KindSubmissionFailure, Op: "submit", Msg: msg}
}
