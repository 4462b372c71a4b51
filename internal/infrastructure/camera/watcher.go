package camera

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"webcam-capture/internal/application"
)

// DeviceWatcher следит за появлением и исчезновением узлов устройств.
// Если каталог недоступен для наблюдения, используется периодический опрос.
type DeviceWatcher struct {
	logger       application.Logger
	dir          string
	prefixes     []string
	debounce     time.Duration
	pollInterval time.Duration
}

// NewDeviceWatcher создает наблюдатель за каталогом /dev
func NewDeviceWatcher(logger application.Logger) *DeviceWatcher {
	return &DeviceWatcher{
		logger:       logger,
		dir:          "/dev",
		prefixes:     []string{"video", "snd"},
		debounce:     300 * time.Millisecond,
		pollInterval: 5 * time.Second,
	}
}

// Watch вызывает onChange после каждой пачки изменений
func (w *DeviceWatcher) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Наблюдение за устройствами недоступно: %v", err)
		return w.poll(ctx, onChange)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		w.logger.Error("Не удалось наблюдать за %s: %v", w.dir, err)
		return w.poll(ctx, onChange)
	}
	w.logger.Debug("Наблюдение за устройствами в %s", w.dir)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Событие устройства: %s", event)
			// Подключение камеры порождает несколько событий подряд
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Ошибка наблюдения за устройствами: %v", err)
		}
	}
}

func (w *DeviceWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Base(event.Name)
	for _, p := range w.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// poll сравнивает список узлов устройств через равные промежутки
func (w *DeviceWatcher) poll(ctx context.Context, onChange func()) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	last := w.snapshot()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current := w.snapshot()
			if current != last {
				last = current
				onChange()
			}
		}
	}
}

func (w *DeviceWatcher) snapshot() string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		for _, p := range w.prefixes {
			if strings.HasPrefix(e.Name(), p) {
				names = append(names, e.Name())
				break
			}
		}
	}
	return strings.Join(names, ",")
}
