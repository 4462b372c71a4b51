package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/jonboulle/clockwork"

	"webcam-capture/internal/application"
	"webcam-capture/internal/config"
	"webcam-capture/internal/infrastructure/camera"
	"webcam-capture/internal/infrastructure/imaging"
	"webcam-capture/internal/infrastructure/logger"
	"webcam-capture/internal/infrastructure/playback"
	"webcam-capture/internal/infrastructure/recording"
	"webcam-capture/internal/infrastructure/streaming"
	"webcam-capture/internal/infrastructure/submission"
	"webcam-capture/internal/presentation/cli"
)

func main() {
	cliApp := cli.NewCLI(build)
	if err := cliApp.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

// build собирает инфраструктурные компоненты и сервис приложения
func build(settings *config.Settings, log *logger.Logger) (*cli.App, error) {
	session := settings.Session

	codecs, err := camera.NewCodecRegistry(session.Quality.Constraints())
	if err != nil {
		return nil, err
	}
	cameraManager := camera.NewMediaDevicesManager(codecs, log.With("camera"))

	var preview application.PreviewStreamer
	if settings.PreviewURL != "" {
		preview = streaming.NewWebSocketStreamer(settings.PreviewURL, settings.PreviewCodec, log.With("preview"), settings.Debug)
	}

	gateway, err := submission.NewHTTPGateway(settings.Endpoint, &http.Client{}, log.With("submit"))
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	stills := imaging.NewJPEGEncoder()
	streams := application.NewStreamInitializer(cameraManager, preview, log.With("stream"))

	service := application.NewWebcamService(application.Components{
		Devices:   application.NewDeviceEnumerator(cameraManager, log.With("devices")),
		Streams:   streams,
		Photos:    application.NewPhotoCapturer(streams, stills, log.With("photo")),
		Recorder:  application.NewRecorder(recording.NewTrackEncoderFactory(codecs, clock, log.With("encoder")), clock, log.With("recorder")),
		Chunks:    application.NewChunkProcessor(log.With("chunks")),
		Fallback:  application.NewScreenshotFallback(playback.NewWebMPlayer(log.With("playback")), stills, log.With("fallback")),
		Submitter: gateway,
		Logger:    log,
	}, session, application.ServiceConfig{
		SubmitTimeout: settings.SubmitTimeout,
		Timeslice:     settings.Timeslice,
	})

	var watcher application.DeviceWatcher
	if settings.Watch {
		watcher = camera.NewDeviceWatcher(log.With("watcher"))
	}

	return &cli.App{
		Service:    service,
		Watcher:    watcher,
		Downloader: gateway,
		Close:      service.Close,
	}, nil
}
