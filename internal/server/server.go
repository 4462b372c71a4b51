package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image"
	_ "image/jpeg" // Регистрируем декодеры снимков
	_ "image/png"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
	"webcam-capture/internal/infrastructure/imaging"
	"webcam-capture/internal/infrastructure/playback"
)

// MsgNoMedia текст ответа для запроса без медиаданных
const MsgNoMedia = "No media data received"

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// Options настройки сервера приема
type Options struct {
	Listen     string
	StorageDir string
	PreviewDir string
	MaxBody    int64
}

// Server сервис обработки: принимает снимки и видео, раздает сохраненные файлы
type Server struct {
	opts   Options
	store  *FileStore
	stats  *stats
	logger application.Logger
	player *playback.WebMPlayer
	stills *imaging.JPEGEncoder
	mux    *http.ServeMux
}

// New создает сервер и его хранилище
func New(opts Options, logger application.Logger) (*Server, error) {
	store, err := NewFileStore(opts.StorageDir)
	if err != nil {
		return nil, err
	}
	if opts.PreviewDir == "" {
		opts.PreviewDir = opts.StorageDir
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 64 << 20
	}

	s := &Server{
		opts:   opts,
		store:  store,
		stats:  newStats(),
		logger: logger,
		player: playback.NewWebMPlayer(logger),
		stills: imaging.NewJPEGEncoder(),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/capture", s.handleCapture)
	s.mux.HandleFunc("GET /files/{name}", s.handleFile)
	s.mux.HandleFunc("GET /ws", s.handlePreview)
	s.mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		s.stats.reg, promhttp.HandlerFor(s.stats.reg, promhttp.HandlerOpts{}),
	))
	s.mux.HandleFunc("GET /{$}", s.handleStatus)
	return s, nil
}

// Handler корневой обработчик HTTP
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run слушает адрес до отмены контекста
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Запуск сервера на %s...", ln.Addr())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Остановка сервера")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) reply(w http.ResponseWriter, status int, result *domain.ProcessingResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("Ошибка отправки ответа: %v", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, kind domain.AssetKind, code, msg string) {
	s.stats.submission(string(kind), "rejected")
	s.reply(w, status, &domain.ProcessingResult{Error: msg, ErrorCode: code})
}

// handleCapture принимает запрос на обработку снимка или видео
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBody)

	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, http.StatusRequestEntityTooLarge, "", "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("Request exceeds %s", humanize.IBytes(uint64(s.opts.MaxBody))))
			return
		}
		s.fail(w, http.StatusBadRequest, "", "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := sub.Validate(); err != nil {
		s.fail(w, http.StatusBadRequest, "", "MIXED_PAYLOAD", "Send either an image or a video, not both")
		return
	}

	kind := sub.Kind()
	payload := sub.Image
	if kind == domain.AssetVideo {
		payload = sub.Video
	}
	if kind == "" {
		s.fail(w, http.StatusBadRequest, "", domain.ErrorCodeNoMedia, MsgNoMedia)
		return
	}

	mimeType, data, err := domain.DecodeDataURL(payload)
	if err != nil {
		s.fail(w, http.StatusBadRequest, kind, "INVALID_ENCODING", "Media payload is not valid base64")
		return
	}
	if len(data) == 0 {
		s.fail(w, http.StatusBadRequest, kind, domain.ErrorCodeNoMedia, MsgNoMedia)
		return
	}

	result := &domain.ProcessingResult{Success: true}
	switch kind {
	case domain.AssetImage:
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			s.fail(w, http.StatusUnprocessableEntity, kind, "INVALID_MEDIA", "Image could not be decoded")
			return
		}
		result.CapturedImagePreview = domain.EncodeDataURL(mimeType, data)

	case domain.AssetVideo:
		if sub.VideoMimeType != "" {
			mimeType = sub.VideoMimeType
		}
		if mimeType == "" {
			mimeType = "video/webm"
		}
		format, err := domain.ParseFormat(mimeType)
		if err != nil {
			s.fail(w, http.StatusUnprocessableEntity, kind, "UNSUPPORTED_FORMAT", "Unsupported video format")
			return
		}
		if format.Container == domain.ContainerWebM && !bytes.HasPrefix(data, ebmlMagic) {
			s.fail(w, http.StatusUnprocessableEntity, kind, "INVALID_MEDIA", "Video container is corrupt")
			return
		}
		result.CapturedImagePreview = s.videoPreview(&domain.Blob{Data: data, MimeType: mimeType})
	}

	name, err := s.store.Save(sub.FileName, mimeType, data)
	if err != nil {
		s.logger.Error("Ошибка сохранения файла: %v", err)
		s.stats.submission(string(kind), "error")
		s.reply(w, http.StatusInternalServerError, &domain.ProcessingResult{Error: "Failed to store media"})
		return
	}

	s.stats.submission(string(kind), "stored")
	s.stats.bytesStored.Add(float64(len(data)))
	s.logger.Info("Сохранен %s %s (%s)", kind, name, humanize.Bytes(uint64(len(data))))

	result.SavedFileName = name
	result.SavedFileType = mimeType
	result.DownloadURL = "/files/" + name
	s.reply(w, http.StatusOK, result)
}

// videoPreview извлекает кадр из видео для ответа, пустая строка если не удалось
func (s *Server) videoPreview(blob *domain.Blob) string {
	img, err := s.player.FrameAt(blob, 0)
	if err != nil {
		s.logger.Debug("Превью видео недоступно: %v", err)
		return ""
	}
	data, err := s.stills.EncodeStill(img, false)
	if err != nil {
		return ""
	}
	return domain.EncodeDataURL(s.stills.MimeType(), data)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.Path(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	s.logger.Info("Клиент подключен: %s", clientAddr)
	s.stats.previewConns.Inc()
	defer s.stats.previewConns.Dec()

	if err := previewReceiver(conn, s.opts.PreviewDir, s.stats, s.logger); err != nil {
		s.logger.Error("Ошибка приема превью: %v", err)
	}
	s.logger.Info("Клиент отключен: %s", clientAddr)
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Сервер приема снимков и видео</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		.status { padding: 20px; background-color: #e0f7fa; border-radius: 5px; }
	</style>
</head>
<body>
	<h1>Сервер приема снимков и видео</h1>
	<div class="status">
		<p>✅ Сервер запущен и принимает запросы на <code>POST /api/capture</code></p>
		<p>Директория для файлов: <code>{{.StorageDir}}</code></p>
		<p>Максимальный размер запроса: {{.MaxBody}}</p>
	</div>
</body>
</html>
`))

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := statusPage.Execute(w, struct {
		StorageDir string
		MaxBody    string
	}{s.opts.StorageDir, humanize.IBytes(uint64(s.opts.MaxBody))})
	if err != nil {
		s.logger.Error("Ошибка вывода страницы статуса: %v", err)
	}
}
