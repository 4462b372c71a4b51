package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"webcam-capture/internal/config"
	"webcam-capture/internal/infrastructure/logger"
	"webcam-capture/internal/server"
)

var (
	configFlag  string
	listenFlag  string
	storageFlag string
	previewFlag string
	maxBodyFlag string
	debugFlag   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "capture-server",
		Short:         "Сервер приема снимков и видео с веб-камеры",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "файл настроек TOML")
	rootCmd.Flags().StringVar(&listenFlag, "listen", "", "адрес для запуска сервера")
	rootCmd.Flags().StringVar(&storageFlag, "output", "", "директория для сохранения файлов")
	rootCmd.Flags().StringVar(&previewFlag, "preview-dir", "", "директория для записей превью")
	rootCmd.Flags().StringVar(&maxBodyFlag, "max-body", "", "максимальный размер запроса, например 64MiB")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "включить отладочные сообщения")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(configFlag)
	if err != nil {
		return err
	}
	if listenFlag != "" {
		cfg.Listen = listenFlag
	}
	if storageFlag != "" {
		cfg.StorageDir = storageFlag
	}
	if maxBodyFlag != "" {
		cfg.MaxBody = maxBodyFlag
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debugFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	maxBody, err := humanize.ParseBytes(cfg.MaxBody)
	if err != nil {
		return fmt.Errorf("некорректный max_body %q: %w", cfg.MaxBody, err)
	}

	log, err := logger.New(logger.Options{Debug: cfg.Debug, LogFile: cfg.LogFile, Component: "server"})
	if err != nil {
		return err
	}
	defer log.Close()

	srv, err := server.New(server.Options{
		Listen:     cfg.Listen,
		StorageDir: cfg.StorageDir,
		PreviewDir: previewFlag,
		MaxBody:    int64(maxBody),
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
