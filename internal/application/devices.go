package application

import (
	"context"
	"sync"

	"webcam-capture/internal/domain"
)

// DeviceEnumerator отслеживает список устройств и текущий выбор
type DeviceEnumerator struct {
	manager CameraManager
	logger  Logger

	mutex         sync.Mutex
	videoDevices  []domain.MediaDevice
	audioDevices  []domain.MediaDevice
	selectedVideo string
	selectedAudio string
	lastErr       error

	// OnSelectionChange вызывается при изменении выбранных устройств
	OnSelectionChange func(videoID, audioID string)
}

// NewDeviceEnumerator создает перечислитель устройств
func NewDeviceEnumerator(manager CameraManager, logger Logger) *DeviceEnumerator {
	return &DeviceEnumerator{
		manager: manager,
		logger:  logger,
	}
}

// Refresh запрашивает доступ, перечисляет устройства и при необходимости
// выбирает устройства по умолчанию
func (e *DeviceEnumerator) Refresh(ctx context.Context) error {
	devices, err := e.enumerate(ctx)

	e.mutex.Lock()
	prevVideo, prevAudio := e.selectedVideo, e.selectedAudio
	if err != nil {
		e.videoDevices, e.audioDevices = nil, nil
		e.selectedVideo, e.selectedAudio = "", ""
		e.lastErr = err
		cb := e.OnSelectionChange
		e.mutex.Unlock()
		e.logger.Error("Ошибка получения списка устройств: %v", err)
		// Без доступа к устройствам захват отключается
		if cb != nil && (prevVideo != "" || prevAudio != "") {
			cb("", "")
		}
		return err
	}

	e.videoDevices, e.audioDevices = partitionDevices(devices)
	e.selectedVideo = reselect(e.videoDevices, e.selectedVideo)
	e.selectedAudio = reselect(e.audioDevices, e.selectedAudio)
	e.lastErr = nil
	video, audio := e.selectedVideo, e.selectedAudio
	nVideo, nAudio := len(e.videoDevices), len(e.audioDevices)
	cb := e.OnSelectionChange
	e.mutex.Unlock()

	e.logger.Debug("Найдено камер: %d, микрофонов: %d", nVideo, nAudio)
	if video != prevVideo || audio != prevAudio {
		if prevVideo != "" && video != prevVideo {
			e.logger.Info("Выбранная камера %q недоступна, выбрана %q", prevVideo, video)
		}
		if cb != nil {
			cb(video, audio)
		}
	}
	return nil
}

func (e *DeviceEnumerator) enumerate(ctx context.Context) ([]domain.MediaDevice, error) {
	if err := e.manager.RequestAccess(ctx); err != nil {
		if domain.KindOf(err) == domain.KindOther {
			return nil, domain.NewError(domain.KindPermissionDenied, "request access", err)
		}
		return nil, err
	}
	devices, err := e.manager.ListDevices(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindOther, "enumerate devices", err)
	}
	return devices, nil
}

// Run обновляет список при старте и при каждом уведомлении watcher.
// Блокируется до отмены контекста.
func (e *DeviceEnumerator) Run(ctx context.Context, watcher DeviceWatcher) error {
	if err := e.Refresh(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if watcher == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return watcher.Watch(ctx, func() {
		// Ошибка уже залогирована и сохранена в LastError
		_ = e.Refresh(ctx)
	})
}

// Select явно выбирает устройство
func (e *DeviceEnumerator) Select(kind domain.DeviceKind, id string) error {
	e.mutex.Lock()
	var list []domain.MediaDevice
	switch kind {
	case domain.VideoInput:
		list = e.videoDevices
	case domain.AudioInput:
		list = e.audioDevices
	}
	if !containsDevice(list, id) {
		e.mutex.Unlock()
		return domain.Errorf(domain.KindDeviceNotFound, "select device", "Устройство %q недоступно", id)
	}

	changed := false
	if kind == domain.VideoInput && e.selectedVideo != id {
		e.selectedVideo, changed = id, true
	}
	if kind == domain.AudioInput && e.selectedAudio != id {
		e.selectedAudio, changed = id, true
	}
	video, audio := e.selectedVideo, e.selectedAudio
	cb := e.OnSelectionChange
	e.mutex.Unlock()

	if changed && cb != nil {
		cb(video, audio)
	}
	return nil
}

// Selected возвращает выбранные камеру и микрофон
func (e *DeviceEnumerator) Selected() (videoID, audioID string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.selectedVideo, e.selectedAudio
}

// VideoDevices возвращает найденные камеры
func (e *DeviceEnumerator) VideoDevices() []domain.MediaDevice {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]domain.MediaDevice(nil), e.videoDevices...)
}

// AudioDevices возвращает найденные микрофоны
func (e *DeviceEnumerator) AudioDevices() []domain.MediaDevice {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]domain.MediaDevice(nil), e.audioDevices...)
}

// HasVideo сообщает, можно ли начинать захват
func (e *DeviceEnumerator) HasVideo() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.lastErr == nil && e.selectedVideo != ""
}

// LastError последняя ошибка перечисления
func (e *DeviceEnumerator) LastError() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.lastErr
}

func partitionDevices(devices []domain.MediaDevice) (video, audio []domain.MediaDevice) {
	for _, d := range devices {
		switch d.Kind {
		case domain.VideoInput:
			video = append(video, d)
		case domain.AudioInput:
			audio = append(audio, d)
		}
	}
	return video, audio
}

// reselect сохраняет текущий выбор, если устройство еще доступно,
// иначе берет первое устройство или сбрасывает выбор
func reselect(devices []domain.MediaDevice, current string) string {
	if current != "" && containsDevice(devices, current) {
		return current
	}
	if len(devices) == 0 {
		return ""
	}
	return devices[0].ID
}

func containsDevice(devices []domain.MediaDevice, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
