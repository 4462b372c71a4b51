package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"webcam-capture/internal/application"
	"webcam-capture/internal/config"
	"webcam-capture/internal/domain"
	"webcam-capture/internal/infrastructure/logger"
)

// readyTimeout сколько ждать первого кадра камеры
const readyTimeout = 15 * time.Second

// Downloader скачивает результат обработки по ссылке из ответа
type Downloader interface {
	Download(ctx context.Context, ref string, w io.Writer) (int64, error)
}

// App собранные компоненты клиента
type App struct {
	Service    *application.WebcamService
	Watcher    application.DeviceWatcher
	Downloader Downloader
	Close      func()
}

// Builder собирает компоненты по настройкам
type Builder func(settings *config.Settings, log *logger.Logger) (*App, error)

// CLI представляет CLI интерфейс приложения
type CLI struct {
	build Builder
	out   io.Writer
	in    io.Reader
	root  *cobra.Command
	flags flags
}

type flags struct {
	config      string
	endpoint    string
	device      string
	audioDevice string
	quality     string
	maxDuration string
	preview     string
	logFile     string
	noAudio     bool
	debug       bool
	watch       bool
	download    bool
	output      string
}

// NewCLI создает CLI интерфейс
func NewCLI(build Builder) *CLI {
	c := &CLI{build: build, out: os.Stdout, in: os.Stdin}

	c.root = &cobra.Command{
		Use:           "webcam-client",
		Short:         "Снимки и запись видео с веб-камеры с отправкой в сервис обработки",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := c.root.PersistentFlags()
	pf.StringVarP(&c.flags.config, "config", "c", config.DefaultPath(), "файл настроек TOML")
	pf.StringVar(&c.flags.endpoint, "endpoint", "", "адрес сервиса обработки")
	pf.StringVar(&c.flags.device, "device", "", "ID устройства камеры для использования")
	pf.StringVar(&c.flags.audioDevice, "audio-device", "", "ID микрофона")
	pf.StringVarP(&c.flags.quality, "quality", "q", "", "качество: low, medium, high")
	pf.StringVar(&c.flags.preview, "preview", "", "адрес трансляции превью, например ws://localhost:8080/ws")
	pf.StringVar(&c.flags.logFile, "log-file", "", "файл журнала")
	pf.BoolVar(&c.flags.noAudio, "no-audio", false, "записывать без звука")
	pf.BoolVar(&c.flags.debug, "debug", false, "включить отладочные сообщения")
	pf.BoolVarP(&c.flags.download, "download", "d", false, "скачать результат обработки")
	pf.StringVarP(&c.flags.output, "output", "o", "", "директория для скачанных файлов")

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "Показать список доступных камер и микрофонов",
		Args:  cobra.NoArgs,
		RunE:  c.runDevices,
	}
	devicesCmd.Flags().BoolVarP(&c.flags.watch, "watch", "w", false, "следить за подключением устройств")

	photoCmd := &cobra.Command{
		Use:   "photo [имя]",
		Short: "Сделать снимок и отправить его",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.runPhoto,
	}

	recordCmd := &cobra.Command{
		Use:   "record [имя]",
		Short: "Записать видео и отправить его",
		Long: "Записывает видео до остановки или до максимальной длительности.\n" +
			"Управление: p - пауза, r - продолжить, s - остановить, c - отменить отправку.",
		Args: cobra.MaximumNArgs(1),
		RunE: c.runRecord,
	}
	recordCmd.Flags().StringVar(&c.flags.maxDuration, "max-duration", "", "максимальная длительность записи, например 30s")

	downloadCmd := &cobra.Command{
		Use:   "download <ссылка>",
		Short: "Скачать результат обработки по ссылке или data URL",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runDownload,
	}

	c.root.AddCommand(devicesCmd, photoCmd, recordCmd, downloadCmd)
	return c
}

// SetIO подменяет ввод и вывод команд
func (c *CLI) SetIO(in io.Reader, out io.Writer) {
	c.in = in
	c.out = out
	c.root.SetOut(out)
}

// Run запускает CLI
func (c *CLI) Run(args []string) error {
	c.root.SetArgs(args)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.root.ExecuteContext(ctx)
}

// settings собирает настройки: значения по умолчанию, файл, затем флаги
func (c *CLI) settings(cmd *cobra.Command) (*config.Settings, error) {
	required := cmd.Flags().Changed("config")
	cfg, err := config.Load(c.flags.config, required)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("endpoint") {
		cfg.Endpoint = c.flags.endpoint
	}
	if changed("device") {
		cfg.VideoDevice = c.flags.device
	}
	if changed("audio-device") {
		cfg.AudioDevice = c.flags.audioDevice
	}
	if changed("quality") {
		cfg.Quality = c.flags.quality
	}
	if changed("preview") {
		cfg.PreviewURL = c.flags.preview
	}
	if changed("log-file") {
		cfg.LogFile = c.flags.logFile
	}
	if changed("no-audio") {
		cfg.Audio = !c.flags.noAudio
	}
	if changed("debug") {
		cfg.Debug = c.flags.debug
	}
	if changed("output") {
		cfg.OutputDir = c.flags.output
	}
	if changed("max-duration") {
		cfg.MaxDuration = c.flags.maxDuration
	}
	return cfg.Settings()
}

// app собирает компоненты для команды
func (c *CLI) app(cmd *cobra.Command, name string) (*App, *config.Settings, error) {
	settings, err := c.settings(cmd)
	if err != nil {
		return nil, nil, err
	}
	settings.Session.FileName = fileName(name)
	log, err := logger.New(logger.Options{Debug: settings.Debug, LogFile: settings.LogFile, Component: "client"})
	if err != nil {
		return nil, nil, err
	}
	app, err := c.build(settings, log)
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	closeApp := app.Close
	app.Close = func() {
		if closeApp != nil {
			closeApp()
		}
		log.Close()
	}
	return app, settings, nil
}

// runDevices выводит список доступных устройств
func (c *CLI) runDevices(cmd *cobra.Command, _ []string) error {
	app, _, err := c.app(cmd, "")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	devices := app.Service.Devices()
	if err := devices.Refresh(ctx); err != nil {
		return userError(err)
	}
	c.printDevices(devices)

	if !c.flags.watch || app.Watcher == nil {
		return nil
	}
	fmt.Fprintln(c.out, "Ожидание изменений, Ctrl+C для выхода...")
	err = app.Watcher.Watch(ctx, func() {
		if err := devices.Refresh(ctx); err != nil {
			fmt.Fprintf(c.out, "Ошибка: %s\n", domain.UserMessage(err))
			return
		}
		c.printDevices(devices)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *CLI) printDevices(devices *application.DeviceEnumerator) {
	video, audio := devices.Selected()

	fmt.Fprintln(c.out, "Камеры:")
	for i, device := range devices.VideoDevices() {
		fmt.Fprintf(c.out, "%s[%d] %s (%s)\n", marker(device.ID == video), i, device.Label, device.ID)
	}
	fmt.Fprintln(c.out, "Микрофоны:")
	for i, device := range devices.AudioDevices() {
		fmt.Fprintf(c.out, "%s[%d] %s (%s)\n", marker(device.ID == audio), i, device.Label, device.ID)
	}
}

func marker(selected bool) string {
	if selected {
		return "* "
	}
	return "  "
}

// open открывает камеру и ждет первого кадра
func (c *CLI) open(ctx context.Context, app *App) error {
	if err := app.Service.Open(ctx); err != nil {
		return userError(err)
	}
	if app.Watcher != nil {
		// Отключение камеры во время работы переключает поток на оставшуюся
		go app.Service.Devices().Run(ctx, app.Watcher)
	}

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := app.Service.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("камера не выдала кадр за %s: %w", readyTimeout, err)
	}
	return nil
}

func (c *CLI) runPhoto(cmd *cobra.Command, args []string) error {
	app, settings, err := c.app(cmd, firstArg(args))
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := c.open(ctx, app); err != nil {
		return err
	}

	outcome, err := app.Service.TakePhoto(ctx)
	if err != nil {
		return userError(err)
	}
	return c.report(ctx, app, settings, outcome)
}

func (c *CLI) runRecord(cmd *cobra.Command, args []string) error {
	app, settings, err := c.app(cmd, firstArg(args))
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if err := c.open(ctx, app); err != nil {
		return err
	}
	if err := app.Service.StartRecording(); err != nil {
		return userError(err)
	}
	fmt.Fprintf(c.out, "Запись начата, максимум %s. p - пауза, r - продолжить, s - остановить\n",
		settings.Session.MaxDuration)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	commands := scanCommands(c.in, done)
	var outcome application.Outcome

	g.Go(func() error {
		defer close(done)
		select {
		case outcome = <-app.Service.Outcomes():
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		recorder := app.Service.Recorder()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if recorder.State() == domain.StateRecording {
					fmt.Fprintf(c.out, "\rЗаписано %s, осталось %s   ",
						recorder.Elapsed().Truncate(time.Second), recorder.Remaining().Truncate(time.Second))
				}
			case line, ok := <-commands:
				if !ok {
					commands = nil
					continue
				}
				c.control(app.Service, line)
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	return c.report(ctx, app, settings, &outcome)
}

// scanCommands читает команды построчно, пока не закрыт done или не кончился ввод
func scanCommands(in io.Reader, done <-chan struct{}) <-chan string {
	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case commands <- strings.TrimSpace(strings.ToLower(scanner.Text())):
			case <-done:
				return
			}
		}
	}()
	return commands
}

// control выполняет команду управления записью
func (c *CLI) control(service *application.WebcamService, line string) {
	var err error
	switch line {
	case "p", "pause":
		err = service.PauseRecording()
	case "r", "resume":
		err = service.ResumeRecording()
	case "s", "stop":
		err = service.StopRecording()
	case "c", "cancel":
		service.CancelSubmission()
	case "":
		return
	default:
		fmt.Fprintf(c.out, "Неизвестная команда %q\n", line)
		return
	}
	if err != nil {
		fmt.Fprintf(c.out, "Ошибка: %s\n", domain.UserMessage(err))
	}
}

// report выводит результат цикла и при необходимости скачивает файл
func (c *CLI) report(ctx context.Context, app *App, settings *config.Settings, o *application.Outcome) error {
	if o.Fallback {
		fmt.Fprintln(c.out, "Видео не было доставлено, отправлен снимок из записи")
	}
	if o.Err != nil {
		return userError(o.Err)
	}
	if o.Result == nil {
		return errors.New("нет ответа сервиса обработки")
	}

	fmt.Fprintf(c.out, "Сохранено: %s (%s)\n", o.Result.SavedFileName, o.Result.SavedFileType)
	if o.Elapsed > 0 {
		fmt.Fprintf(c.out, "Длительность: %s\n", o.Elapsed.Truncate(time.Millisecond))
	}
	if o.Result.DownloadURL != "" {
		fmt.Fprintf(c.out, "Ссылка: %s\n", o.Result.DownloadURL)
	}

	if !c.flags.download || !o.Result.HasDownload() || app.Downloader == nil {
		return nil
	}
	ref := o.Result.DownloadURL
	if ref == "" {
		ref = o.Result.CapturedImagePreview
	}
	name := o.Result.SavedFileName
	if name == "" {
		name = fileName("") + "." + domain.FileExtension(o.Result.SavedFileType)
	}
	return c.download(ctx, app.Downloader, ref, filepath.Join(settings.OutputDir, filepath.Base(name)))
}

func (c *CLI) runDownload(cmd *cobra.Command, args []string) error {
	app, settings, err := c.app(cmd, "")
	if err != nil {
		return err
	}
	defer app.Close()

	ref := args[0]
	name := filepath.Base(ref)
	if strings.HasPrefix(ref, "data:") || name == "." || name == "/" {
		mimeType, _, _ := strings.Cut(strings.TrimPrefix(ref, "data:"), ";")
		name = fileName("") + "." + domain.FileExtension(mimeType)
	}
	return c.download(cmd.Context(), app.Downloader, ref, filepath.Join(settings.OutputDir, name))
}

func (c *CLI) download(ctx context.Context, d Downloader, ref, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := d.Download(ctx, ref, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	fmt.Fprintf(c.out, "Скачано %s в %s\n", humanize.Bytes(uint64(n)), path)
	return nil
}

// fileName имя файла для сервиса обработки, уникальное если не задано
func fileName(name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("capture_%s_%s", time.Now().Format("2006-01-02_15-04-05"), uuid.NewString()[:8])
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// userError заменяет ошибку захвата понятным пользователю текстом
func userError(err error) error {
	var ce *domain.CaptureError
	if errors.As(err, &ce) {
		return errors.New(ce.Message())
	}
	return err
}
