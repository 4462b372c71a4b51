package camera

import (
	"context"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // Регистрируем драйвер камеры
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // Регистрируем драйвер микрофона
	"github.com/pion/mediadevices/pkg/prop"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// MediaDevicesManager реализация CameraManager с использованием библиотеки mediadevices
type MediaDevicesManager struct {
	logger application.Logger
	codecs *CodecRegistry
	devDir string
}

// NewMediaDevicesManager создает новый менеджер медиаустройств
func NewMediaDevicesManager(codecs *CodecRegistry, logger application.Logger) *MediaDevicesManager {
	return &MediaDevicesManager{
		logger: logger,
		codecs: codecs,
		devDir: "/dev",
	}
}

// RequestAccess проверяет доступ к устройствам захвата
func (m *MediaDevicesManager) RequestAccess(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return checkAccess(m.devDir)
}

// ListDevices возвращает список доступных устройств захвата
func (m *MediaDevicesManager) ListDevices(ctx context.Context) ([]domain.MediaDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices := mediadevices.EnumerateDevices()
	result := make([]domain.MediaDevice, 0, len(devices))

	for _, device := range devices {
		var kind domain.DeviceKind
		switch device.Kind {
		case mediadevices.VideoInput:
			kind = domain.VideoInput
		case mediadevices.AudioInput:
			kind = domain.AudioInput
		default:
			continue
		}
		result = append(result, domain.MediaDevice{
			ID:    device.DeviceID,
			Kind:  kind,
			Label: device.Label,
		})
	}

	return result, nil
}

// OpenStream открывает камеру и, если нужно, микрофон с заданными параметрами
func (m *MediaDevicesManager) OpenStream(ctx context.Context, req domain.StreamRequest) (domain.MediaStream, error) {
	devices, err := m.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	video, ok := findDevice(devices, domain.VideoInput, req.VideoDeviceID)
	if !ok {
		if req.VideoDeviceID != "" {
			return nil, domain.Errorf(domain.KindDeviceNotFound, "open stream", "Камера %q не подключена", req.VideoDeviceID)
		}
		return nil, domain.NewError(domain.KindDeviceNotFound, "open stream", nil)
	}
	req.VideoDeviceID = video.ID

	if req.Audio.Enabled {
		audio, ok := findDevice(devices, domain.AudioInput, req.AudioDeviceID)
		if ok {
			req.AudioDeviceID = audio.ID
		} else {
			m.logger.Info("Микрофон не найден, запись без звука")
			req.Audio.Enabled = false
		}
		if req.Audio.EchoCancellation || req.Audio.NoiseSuppression {
			// Драйвер mediadevices не выполняет эхоподавление и шумоподавление
			m.logger.Debug("Эхоподавление и шумоподавление недоступны в драйвере, параметры игнорируются")
		}
	}

	// Битрейт кодировщиков берется из профиля качества запроса
	codecs := m.codecs
	if codecs != nil {
		if codecs, err = codecs.WithLimits(req.Video); err != nil {
			return nil, domain.NewError(domain.KindEncoderUnsupported, "open stream", err)
		}
	}

	// Пробуем получить медиа поток
	mediaStream, err := mediadevices.GetUserMedia(m.constraints(req, codecs, false))
	if err != nil {
		err = classifyOpenError(err, true)
		if !isConstraintsError(err) {
			return nil, err
		}
		m.logger.Error("Ошибка с исходными ограничениями: %v", err)

		// Пробуем с еще более простыми ограничениями
		m.logger.Info("Пробуем с минимальными ограничениями...")
		mediaStream, err = mediadevices.GetUserMedia(m.constraints(req, codecs, true))
		if err != nil {
			m.logger.Error("Не удалось получить доступ к медиа-устройству: %v", err)
			return nil, classifyOpenError(err, true)
		}
	}

	// Получаем видеотреки
	if len(mediaStream.GetVideoTracks()) == 0 {
		closeTracks(mediaStream)
		m.logger.Error("Видеотрек не обнаружен")
		return nil, domain.Errorf(domain.KindDeviceNotFound, "open stream", "Камера не выдала видеодорожку")
	}

	return newStream(mediaStream, video, req, codecs), nil
}

// constraints строит ограничения GetUserMedia. relaxed оставляет только ID устройства.
func (m *MediaDevicesManager) constraints(req domain.StreamRequest, codecs *CodecRegistry, relaxed bool) mediadevices.MediaStreamConstraints {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(req.VideoDeviceID)
			if relaxed {
				return
			}
			// Задаем предпочтительные параметры, но не строгие
			c.Width = prop.Int(req.Video.Width)
			c.Height = prop.Int(req.Video.Height)
			c.FrameRate = prop.Float(float32(req.Video.FrameRate))
		},
	}
	if codecs != nil {
		constraints.Codec = codecs.Selector()
	}
	if req.Audio.Enabled {
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			if req.AudioDeviceID != "" {
				c.DeviceID = prop.String(req.AudioDeviceID)
			}
			if relaxed {
				return
			}
			c.SampleRate = prop.Int(req.Audio.SampleRate)
			c.ChannelCount = prop.Int(req.Audio.ChannelCount)
		}
	}
	return constraints
}

func findDevice(devices []domain.MediaDevice, kind domain.DeviceKind, id string) (domain.MediaDevice, bool) {
	for _, d := range devices {
		if d.Kind != kind {
			continue
		}
		if id == "" || d.ID == id {
			return d, true
		}
	}
	return domain.MediaDevice{}, false
}

func closeTracks(stream mediadevices.MediaStream) {
	for _, track := range stream.GetTracks() {
		track.Close()
	}
}
