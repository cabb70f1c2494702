// Пакет chainclient — HTTP-клиент внешнего сервиса построения транзакций
// Cardano (ODATANO): сборка mint/spend/metadata транзакций, запросы на
// подпись, отправка подписанных транзакций и проверка статуса.
//
// Клиент не хранит состояния. Ответ «ещё не найдено» (HTTP 404) от
// CheckSubmissionStatus и GetTxStatus возвращается как статус pending,
// а не как ошибка.
package chainclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики запросов к сервису транзакций.
var (
	chainRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pt_chain_requests_total",
		Help: "Количество запросов к сервису транзакций.",
	}, []string{"operation", "result"})

	chainRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pt_chain_request_duration_seconds",
		Help:    "Длительность запросов к сервису транзакций.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// maxErrorBody — сколько байт тела ответа сохранять в APIError.
const maxErrorBody = 4096

// APIError — сервис транзакций вернул статус, отличный от 2xx.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("сервис транзакций: %s вернул статус %d: %s", e.Operation, e.StatusCode, e.Body)
}

// IsNotFound проверяет, является ли ошибка ответом 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Options — параметры клиента.
type Options struct {
	// TxURL — базовый URL сервиса транзакций
	TxURL string
	// QueryURL — базовый URL сервиса запросов к сети (пусто — TxURL)
	QueryURL string
	// APIKey — Bearer-токен (опционально)
	APIKey string
	// Timeout — таймаут HTTP-запроса
	Timeout time.Duration
	// CACertPath — путь к CA-сертификату (опционально)
	CACertPath string
	// Validators — каталог Plutus-валидаторов
	Validators *Validators
}

// Client — HTTP-клиент сервиса транзакций.
type Client struct {
	httpClient *http.Client
	txURL      string
	queryURL   string
	apiKey     string
	validators *Validators
	logger     *slog.Logger
}

// New создаёт клиент сервиса транзакций.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.TxURL == "" {
		return nil, errors.New("не задан URL сервиса транзакций")
	}
	if opts.Validators == nil {
		return nil, errors.New("не задан каталог валидаторов")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата сервиса транзакций: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		logger.Info("CA-сертификат сервиса транзакций добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	queryURL := opts.QueryURL
	if queryURL == "" {
		queryURL = opts.TxURL
	}

	return &Client{
		httpClient: httpClient,
		txURL:      normalizeURL(opts.TxURL),
		queryURL:   normalizeURL(queryURL),
		apiKey:     opts.APIKey,
		validators: opts.Validators,
		logger:     logger.With(slog.String("component", "chain_client")),
	}, nil
}

func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// do выполняет запрос и декодирует JSON-ответ в out (если out != nil).
// Статус вне 2xx возвращается как *APIError.
func (c *Client) do(ctx context.Context, operation, method, reqURL string, body, out any) error {
	start := time.Now()
	err := c.doRaw(ctx, operation, method, reqURL, body, out)
	chainRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case err == nil:
	case IsNotFound(err):
		result = "not_found"
	default:
		result = "error"
	}
	chainRequestsTotal.WithLabelValues(operation, result).Inc()
	return err
}

func (c *Client) doRaw(ctx context.Context, operation, method, reqURL string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("сериализация запроса %s: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s: %w", operation, err)
	}
	return nil
}

// CheckReady проверяет доступность сервиса транзакций (для /health/ready).
// Любой ответ HTTP означает, что сервис доступен.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.txURL+"/", http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("сервис транзакций недоступен: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "degraded", fmt.Sprintf("сервис транзакций вернул статус %d", resp.StatusCode)
	}
	return "ok", "сервис транзакций доступен"
}

// TxURL возвращает базовый URL сервиса транзакций.
func (c *Client) TxURL() string {
	return c.txURL
}

func normalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}
