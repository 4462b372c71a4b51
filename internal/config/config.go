package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	strduration "github.com/xhit/go-str2duration/v2"

	"webcam-capture/internal/domain"
)

// DefaultMaxDuration предел длительности одной записи
const DefaultMaxDuration = 30 * time.Second

// Config настройки клиента захвата. Длительности задаются строками
// вида "30s", "1m30s" или "1d".
type Config struct {
	Endpoint      string   `toml:"endpoint"`       // Адрес сервиса обработки
	PreviewURL    string   `toml:"preview_url"`    // Адрес трансляции превью, пусто чтобы отключить
	PreviewCodec  string   `toml:"preview_codec"`  // Кодек кадров превью
	VideoDevice   string   `toml:"video_device"`   // ID камеры, пусто для первой найденной
	AudioDevice   string   `toml:"audio_device"`   // ID микрофона
	Audio         bool     `toml:"audio"`          // Записывать звук
	Quality       string   `toml:"quality"`        // low, medium или high
	Codecs        []string `toml:"codecs"`         // Предпочтения форматов записи
	MaxDuration   string   `toml:"max_duration"`   // Предел длительности записи
	Timeslice     string   `toml:"timeslice"`      // Период выдачи фрагментов
	SubmitTimeout string   `toml:"submit_timeout"` // Ожидание ответа сервиса обработки
	OutputDir     string   `toml:"output_dir"`     // Куда сохранять скачанные результаты
	LogFile       string   `toml:"log_file"`
	Debug         bool     `toml:"debug"`
	Watch         bool     `toml:"watch"` // Следить за подключением устройств
}

// Settings разобранные и проверенные настройки
type Settings struct {
	Endpoint      string
	PreviewURL    string
	PreviewCodec  string
	Session       domain.CaptureSession
	Timeslice     time.Duration
	SubmitTimeout time.Duration
	OutputDir     string
	LogFile       string
	Debug         bool
	Watch         bool
}

// Default настройки по умолчанию
func Default() *Config {
	return &Config{
		Endpoint:      "http://localhost:8080/api/capture",
		PreviewCodec:  "vp8",
		Audio:         true,
		Quality:       string(domain.QualityMedium),
		Codecs:        append([]string(nil), domain.DefaultCodecPreference...),
		MaxDuration:   "30s",
		Timeslice:     "500ms",
		SubmitTimeout: "20s",
		OutputDir:     ".",
		Watch:         true,
	}
}

// DefaultPath путь к файлу настроек по умолчанию
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "webcam-capture.toml"
	}
	return filepath.Join(dir, "webcam-capture", "config.toml")
}

// Load читает файл настроек поверх значений по умолчанию.
// Отсутствующий файл не считается ошибкой, если required ложно.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}
	return cfg, nil
}

// Settings проверяет настройки и переводит их в рабочие типы
func (c *Config) Settings() (*Settings, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("некорректный адрес сервиса обработки %q", c.Endpoint)
	}
	if c.PreviewURL != "" {
		pu, err := url.Parse(c.PreviewURL)
		if err != nil || (pu.Scheme != "ws" && pu.Scheme != "wss") {
			return nil, fmt.Errorf("некорректный адрес превью %q", c.PreviewURL)
		}
	}

	quality, err := domain.ParseQuality(c.Quality)
	if err != nil {
		return nil, err
	}

	for _, mimeType := range c.Codecs {
		if _, err := domain.ParseFormat(mimeType); err != nil {
			return nil, err
		}
	}
	codecs := c.Codecs
	if len(codecs) == 0 {
		codecs = domain.DefaultCodecPreference
	}

	maxDuration, err := parseDuration("max_duration", c.MaxDuration)
	if err != nil {
		return nil, err
	}
	timeslice, err := parseDuration("timeslice", c.Timeslice)
	if err != nil {
		return nil, err
	}
	submitTimeout, err := parseDuration("submit_timeout", c.SubmitTimeout)
	if err != nil {
		return nil, err
	}

	return &Settings{
		Endpoint:     c.Endpoint,
		PreviewURL:   c.PreviewURL,
		PreviewCodec: strings.ToLower(c.PreviewCodec),
		Session: domain.CaptureSession{
			VideoDeviceID:   c.VideoDevice,
			AudioDeviceID:   c.AudioDevice,
			AudioEnabled:    c.Audio,
			Quality:         quality,
			CodecPreference: codecs,
			MaxDuration:     maxDuration,
		},
		Timeslice:     timeslice,
		SubmitTimeout: submitTimeout,
		OutputDir:     expandHome(c.OutputDir),
		LogFile:       expandHome(c.LogFile),
		Debug:         c.Debug,
		Watch:         c.Watch,
	}, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := strduration.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("некорректное значение %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s должно быть положительным", name)
	}
	return d, nil
}

// ServerConfig настройки сервера приема
type ServerConfig struct {
	Listen     string `toml:"listen"`
	StorageDir string `toml:"storage_dir"`
	MaxBody    string `toml:"max_body"` // Например "64MiB"
	LogFile    string `toml:"log_file"`
	Debug      bool   `toml:"debug"`
}

// DefaultServer настройки сервера по умолчанию
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Listen:     ":8080",
		StorageDir: "uploads",
		MaxBody:    "64MiB",
	}
}

// LoadServer читает настройки сервера
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServer()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет адрес прослушивания
func (c *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("некорректный адрес прослушивания: %w", err)
	}
	if c.StorageDir == "" {
		return errors.New("не задан каталог хранения")
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
