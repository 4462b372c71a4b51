package application

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"webcam-capture/internal/domain"
	"webcam-capture/internal/infrastructure/logger"
)

var testLogger = logger.Discard()

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

// fakeStream поток с управляемыми кадрами
type fakeStream struct {
	label string
	audio bool

	mutex      sync.Mutex
	emptyFirst int // сколько первых Snapshot вернут nil
	snapErr    error
	closed     bool
}

func (s *fakeStream) ID() string             { return "stream-" + s.label }
func (s *fakeStream) Label() string          { return s.label }
func (s *fakeStream) Resolution() (int, int) { return 4, 2 }
func (s *fakeStream) HasAudio() bool         { return s.audio }

func (s *fakeStream) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

func (s *fakeStream) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) CreateReader(domain.DeviceKind, string) (domain.FrameReader, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStream) Snapshot() (image.Image, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	if s.emptyFirst > 0 {
		s.emptyFirst--
		return nil, nil
	}
	return testFrame(), nil
}

// fakeManager менеджер устройств с изменяемым набором
type fakeManager struct {
	mutex     sync.Mutex
	devices   []domain.MediaDevice
	accessErr error
	openErr   error
	requests  []domain.StreamRequest
	streams   []*fakeStream
	// openedWhileLive число открытий, при которых прежний поток не был закрыт
	openedWhileLive int
	newStream       func(req domain.StreamRequest) *fakeStream
}

func newFakeManager(devices ...domain.MediaDevice) *fakeManager {
	return &fakeManager{devices: devices}
}

func (m *fakeManager) setDevices(devices ...domain.MediaDevice) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.devices = devices
}

func (m *fakeManager) RequestAccess(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.accessErr
}

func (m *fakeManager) ListDevices(ctx context.Context) ([]domain.MediaDevice, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]domain.MediaDevice(nil), m.devices...), nil
}

func (m *fakeManager) OpenStream(ctx context.Context, req domain.StreamRequest) (domain.MediaStream, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	for _, s := range m.streams {
		if !s.isClosed() {
			m.openedWhileLive++
		}
	}
	m.requests = append(m.requests, req)
	var s *fakeStream
	if m.newStream != nil {
		s = m.newStream(req)
	} else {
		s = &fakeStream{label: req.VideoDeviceID, audio: req.Audio.Enabled}
	}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeManager) lastStream() *fakeStream {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// fakeEncoder кодировщик, события которого вызывает тест
type fakeEncoder struct {
	mimeType string

	mutex        sync.Mutex
	handlers     EncoderHandlers
	paused       bool
	stopped      int
	finishOnStop bool   // Stop асинхронно выдает final и вызывает OnStop
	final        []byte // Последний фрагмент при остановке
}

func (e *fakeEncoder) MimeType() string { return e.mimeType }

func (e *fakeEncoder) Start(h EncoderHandlers) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.handlers = h
	return nil
}

func (e *fakeEncoder) Pause() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.paused = true
	return nil
}

func (e *fakeEncoder) Resume() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.paused = false
	return nil
}

func (e *fakeEncoder) Stop() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.stopped++
	if e.finishOnStop && e.stopped == 1 {
		h, final := e.handlers, e.final
		go func() {
			if final != nil {
				h.OnChunk(final)
			}
			h.OnStop()
		}()
	}
	return nil
}

func (e *fakeEncoder) chunk(data []byte) {
	e.mutex.Lock()
	h := e.handlers
	e.mutex.Unlock()
	h.OnChunk(data)
}

func (e *fakeEncoder) fail(err error) {
	e.mutex.Lock()
	h := e.handlers
	e.mutex.Unlock()
	h.OnError(err)
}

func (e *fakeEncoder) stopCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stopped
}

// fakeFactory фабрика с фиксированным набором форматов
type fakeFactory struct {
	supported    map[string]bool
	def          string
	finishOnStop bool
	final        []byte

	mutex    sync.Mutex
	encoders []*fakeEncoder
	opts     []EncoderOptions
}

func newFakeFactory(supported ...string) *fakeFactory {
	f := &fakeFactory{supported: make(map[string]bool), finishOnStop: true}
	for _, s := range supported {
		f.supported[s] = true
	}
	return f
}

func (f *fakeFactory) IsTypeSupported(mimeType string) bool { return f.supported[mimeType] }
func (f *fakeFactory) DefaultMimeType() string              { return f.def }

func (f *fakeFactory) NewEncoder(stream domain.MediaStream, opts EncoderOptions) (Encoder, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	e := &fakeEncoder{mimeType: opts.Format.MimeType, finishOnStop: f.finishOnStop, final: f.final}
	f.encoders = append(f.encoders, e)
	f.opts = append(f.opts, opts)
	return e, nil
}

func (f *fakeFactory) last() *fakeEncoder {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.encoders[len(f.encoders)-1]
}

// fakeStill кодировщик снимков, запоминающий флаг отражения
type fakeStill struct {
	mutex   sync.Mutex
	mirrors []bool
	err     error
}

func (s *fakeStill) MimeType() string { return "image/jpeg" }

func (s *fakeStill) EncodeStill(img image.Image, mirror bool) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.mirrors = append(s.mirrors, mirror)
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

// fakePlayer проигрыватель с ошибками по смещению
type fakePlayer struct {
	mutex   sync.Mutex
	errs    map[time.Duration]error
	offsets []time.Duration
}

func (p *fakePlayer) FrameAt(blob *domain.Blob, offset time.Duration) (image.Image, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.offsets = append(p.offsets, offset)
	if err := p.errs[offset]; err != nil {
		return nil, err
	}
	return testFrame(), nil
}

// fakeSubmitter сервис обработки с подменяемым ответом
type fakeSubmitter struct {
	mutex  sync.Mutex
	calls  []domain.Submission
	handle func(ctx context.Context, sub domain.Submission) (*domain.ProcessingResult, error)
}

func (s *fakeSubmitter) Submit(ctx context.Context, sub domain.Submission) (*domain.ProcessingResult, error) {
	s.mutex.Lock()
	s.calls = append(s.calls, sub)
	handle := s.handle
	s.mutex.Unlock()
	if handle == nil {
		return &domain.ProcessingResult{Success: true, SavedFileName: "saved"}, nil
	}
	return handle(ctx, sub)
}

func (s *fakeSubmitter) submissions() []domain.Submission {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]domain.Submission(nil), s.calls...)
}

// fakeWatcher вызывает onChange по сигналу теста
type fakeWatcher struct {
	changes chan struct{}
}

func (w *fakeWatcher) Watch(ctx context.Context, onChange func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.changes:
			onChange()
		}
	}
}

// fakePreview трансляция, работающая до отмены контекста
type fakePreview struct {
	mutex   sync.Mutex
	started int
	stopped int
}

func (p *fakePreview) StartStreaming(ctx context.Context, stream domain.MediaStream) error {
	p.mutex.Lock()
	p.started++
	p.mutex.Unlock()
	<-ctx.Done()
	return nil
}

func (p *fakePreview) StopStreaming() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stopped++
	return nil
}

func (p *fakePreview) counts() (started, stopped int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.started, p.stopped
}

var (
	cameraA = domain.MediaDevice{ID: "cam-a", Kind: domain.VideoInput, Label: "Camera A"}
	cameraB = domain.MediaDevice{ID: "cam-b", Kind: domain.VideoInput, Label: "Camera B"}
	micA    = domain.MediaDevice{ID: "mic-a", Kind: domain.AudioInput, Label: "Microphone A"}
)
