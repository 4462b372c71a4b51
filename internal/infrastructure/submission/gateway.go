package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// maxResponseSize ограничивает размер ответа сервиса обработки
const maxResponseSize = 64 << 20

// HTTPGateway отправляет материалы в сервис обработки по HTTP
type HTTPGateway struct {
	client   *http.Client
	endpoint *url.URL
	logger   application.Logger
}

// NewHTTPGateway создает шлюз для адреса вида http://host:port/api/capture.
// Таймаут запроса задает контекст вызывающего.
func NewHTTPGateway(endpoint string, client *http.Client, logger application.Logger) (*HTTPGateway, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("некорректный адрес сервиса обработки: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("неподдерживаемая схема %q", u.Scheme)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGateway{client: client, endpoint: u, logger: logger}, nil
}

// Submit отправляет запрос и разбирает ответ. Ответ с кодом ошибки
// тоже разбирается, если в нем есть JSON.
func (g *HTTPGateway) Submit(ctx context.Context, sub domain.Submission) (*domain.ProcessingResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	g.logger.Info("Отправка %s (%s) на %s", sub.Kind(), humanize.Bytes(uint64(len(body))), g.endpoint.Host)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	var result domain.ProcessingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("сервис обработки вернул %s", resp.Status)
		}
		return nil, fmt.Errorf("некорректный ответ сервиса обработки: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest && result.Success {
		result.Success = false
		if result.Error == "" {
			result.Error = resp.Status
		}
	}

	g.logger.Debug("Ответ сервиса: %s, success=%t, errorCode=%q", resp.Status, result.Success, result.ErrorCode)
	return &result, nil
}

// Download сохраняет результат обработки в w. ref может быть data URL
// или ссылкой, в том числе относительной к адресу сервиса.
func (g *HTTPGateway) Download(ctx context.Context, ref string, w io.Writer) (int64, error) {
	if ref == "" {
		return 0, errors.New("нет ссылки для скачивания")
	}
	if strings.HasPrefix(ref, "data:") {
		_, data, err := domain.DecodeDataURL(ref)
		if err != nil {
			return 0, err
		}
		n, err := w.Write(data)
		return int64(n), err
	}

	target, err := g.endpoint.Parse(ref)
	if err != nil {
		return 0, fmt.Errorf("некорректная ссылка %q: %w", ref, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("скачивание %s: %s", target, resp.Status)
	}
	return io.Copy(w, resp.Body)
}
