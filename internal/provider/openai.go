package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"openbridge/internal/domain"
	"openbridge/internal/redact"
)

const defaultAPIBase = "https://api.openai.com/v1"

// OpenAI implements domain.Provider against the Responses and Files APIs.
type OpenAI struct {
	apiKey  string
	apiBase string
	client  *http.Client
	retry   retryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	Timeout    time.Duration
	MaxRetries int           // 0 uses the default; negative disables retries
	RetryDelay time.Duration // base backoff between retries
	HTTPClient *http.Client  // optional, overrides Timeout
	// RequestsPerMinute throttles outgoing calls client-side; 0 disables.
	RequestsPerMinute float64
	Logger            *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	policy := retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryDelay}
	switch {
	case policy.maxRetries == 0:
		policy.maxRetries = defaultMaxRetries
	case policy.maxRetries < 0:
		policy.maxRetries = 0
	}
	if policy.baseDelay <= 0 {
		policy.baseDelay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		client:  client,
		retry:   policy,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Close releases pooled connections. The client must not be used afterwards.
func (o *OpenAI) Close() {
	o.client.CloseIdleConnections()
}

func (o *OpenAI) CreateResponse(ctx context.Context, req domain.ResponseRequest) (*domain.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if o.logger.Enabled(ctx, slog.LevelDebug) {
		o.logger.Debug("creating response", "request", redact.JSON(body))
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, o.retry, o.limiter, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/responses", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		o.authorize(httpReq)
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("openai create response: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out domain.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out.Raw = raw

	o.logger.Debug("response created",
		"response_id", out.ID,
		"status", out.Status,
		"latency", time.Since(start),
		"response", redact.JSON(raw),
	)
	return &out, nil
}

// UploadFile stores bytes in the provider's file store and returns the file ID.
func (o *OpenAI) UploadFile(ctx context.Context, f domain.FileUpload) (string, error) {
	body, contentType, err := multipartFile(f)
	if err != nil {
		return "", fmt.Errorf("encode upload: %w", err)
	}

	// A lost reply to a stored upload would leave an untracked file behind.
	policy := o.retry
	policy.answeredOnly = true
	resp, err := doWithRetry(ctx, o.client, policy, o.limiter, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/files", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		o.authorize(httpReq)
		httpReq.Header.Set("Content-Type", contentType)
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return "", fmt.Errorf("openai upload %s: %w", f.Name, err)
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode upload: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("openai upload %s: empty file id", f.Name)
	}
	o.logger.Debug("file uploaded", "file_id", created.ID, "name", f.Name, "size", len(f.Data))
	return created.ID, nil
}

func (o *OpenAI) DeleteFile(ctx context.Context, fileID string) error {
	resp, err := doWithRetry(ctx, o.client, o.retry, o.limiter, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, o.apiBase+"/files/"+url.PathEscape(fileID), nil)
		if err != nil {
			return nil, err
		}
		o.authorize(httpReq)
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return fmt.Errorf("openai delete file %s: %w", fileID, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	o.logger.Debug("file deleted", "file_id", fileID)
	return nil
}

func (o *OpenAI) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
}

func multipartFile(f domain.FileUpload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", f.Purpose); err != nil {
		return nil, "", err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
