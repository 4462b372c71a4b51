package camera

import (
	"errors"
	"image"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"golang.org/x/image/draw"

	"webcam-capture/internal/domain"
)

// MediaDevicesStream обертка для MediaStream из mediadevices
type MediaDevicesStream struct {
	stream mediadevices.MediaStream
	device domain.MediaDevice
	codecs *CodecRegistry

	readMutex   sync.Mutex // Кадры читаются по одному
	mutex       sync.Mutex
	frameReader video.Reader
	width       int
	height      int
	closed      bool
}

func newStream(stream mediadevices.MediaStream, device domain.MediaDevice, req domain.StreamRequest, codecs *CodecRegistry) *MediaDevicesStream {
	return &MediaDevicesStream{
		stream: stream,
		device: device,
		codecs: codecs,
		width:  req.Video.Width,
		height: req.Video.Height,
	}
}

// ID возвращает идентификатор видеотрека
func (s *MediaDevicesStream) ID() string {
	return s.stream.GetVideoTracks()[0].ID()
}

// Label имя камеры
func (s *MediaDevicesStream) Label() string {
	return s.device.Label
}

// Resolution разрешение последнего полученного кадра
func (s *MediaDevicesStream) Resolution() (int, int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.width, s.height
}

// HasAudio есть ли в потоке звуковая дорожка
func (s *MediaDevicesStream) HasAudio() bool {
	return len(s.stream.GetAudioTracks()) > 0
}

var errStreamClosed = errors.New("поток закрыт")

// Snapshot читает текущий кадр и копирует его в собственный буфер.
// Ожидание кадра не блокирует Close.
func (s *MediaDevicesStream) Snapshot() (image.Image, error) {
	s.readMutex.Lock()
	defer s.readMutex.Unlock()

	reader, err := s.reader()
	if err != nil {
		return nil, err
	}
	img, release, err := reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()

	// Буфер кадра переиспользуется драйвером, поэтому копируем
	b := img.Bounds()
	frame := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(frame, frame.Bounds(), img, b.Min, draw.Src)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, errStreamClosed
	}
	s.width, s.height = b.Dx(), b.Dy()
	return frame, nil
}

func (s *MediaDevicesStream) reader() (video.Reader, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, errStreamClosed
	}
	if s.frameReader == nil {
		tracks := s.stream.GetVideoTracks()
		if len(tracks) == 0 {
			return nil, errors.New("в потоке нет видеотрека")
		}
		track, ok := tracks[0].(*mediadevices.VideoTrack)
		if !ok {
			return nil, errors.New("видеотрек не поддерживает чтение кадров")
		}
		s.frameReader = track.NewReader(false)
	}
	return s.frameReader, nil
}

// CreateReader создает ридер для чтения закодированных кадров
func (s *MediaDevicesStream) CreateReader(kind domain.DeviceKind, codecName string) (domain.FrameReader, error) {
	var tracks []mediadevices.Track
	switch kind {
	case domain.VideoInput:
		tracks = s.stream.GetVideoTracks()
	case domain.AudioInput:
		tracks = s.stream.GetAudioTracks()
	}
	if len(tracks) == 0 {
		return nil, domain.Errorf(domain.KindDeviceNotFound, "create reader", "В потоке нет дорожки %s", kind)
	}
	if s.codecs == nil {
		return nil, domain.NewError(domain.KindEncoderUnsupported, "create reader", nil)
	}

	mimeType, err := s.codecs.mimeType(codecName)
	if err != nil {
		return nil, domain.NewError(domain.KindEncoderUnsupported, "create reader", err)
	}
	reader, err := tracks[0].NewEncodedReader(mimeType)
	if err != nil {
		return nil, domain.NewError(domain.KindEncoderUnsupported, "create reader", err)
	}

	return &MediaDevicesReader{reader: reader, kind: kind}, nil
}

// Close закрывает все дорожки потока
func (s *MediaDevicesStream) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	s.mutex.Unlock()

	var errs []error
	for _, track := range s.stream.GetTracks() {
		if err := track.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MediaDevicesReader обертка для закодированного ридера mediadevices
type MediaDevicesReader struct {
	reader      mediadevices.EncodedReadCloser
	kind        domain.DeviceKind
	frameNumber int
}

// Read читает следующий закодированный кадр
func (r *MediaDevicesReader) Read() (*domain.EncodedFrame, error) {
	buf, release, err := r.reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()

	if len(buf.Data) == 0 {
		return nil, nil
	}

	r.frameNumber++
	// Копируем данные, чтобы избежать проблем с перезаписью буфера
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)

	return &domain.EncodedFrame{
		Data:   data,
		Size:   len(data),
		Number: r.frameNumber,
		Kind:   r.kind,
	}, nil
}

// Close закрывает ридер
func (r *MediaDevicesReader) Close() error {
	return r.reader.Close()
}
