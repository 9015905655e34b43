package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/letsssgooo/examSession/internal/domain/models"
	"github.com/letsssgooo/examSession/internal/lib/idempotency"
)

const tracerName = "github.com/letsssgooo/examSession/internal/client"

// HTTPClient ходит в REST бэкенд тестирований.
// Реализует каталог секций, сервис оценки и сохранение секций.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	tracer     trace.Tracer
}

// Option настраивает HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient задает http.Client для запросов.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithTimeout задает таймаут одного запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		c.timeout = timeout
	}
}

// WithRateLimit ограничивает частоту запросов до rps в секунду.
// rps <= 0 снимает ограничение.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}

		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTracerProvider задает провайдера спанов вместо глобального.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *HTTPClient) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// NewHTTPClient создаёт нового HTTP клиента бэкенда по адресу baseURL и токену token.
func NewHTTPClient(baseURL, token string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(defaultRPS, defaultBurst),
		timeout:    defaultTimeout,
		tracer:     otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StartAssessment создает попытку прохождения тестирования assessmentID для userID.
func (c *HTTPClient) StartAssessment(ctx context.Context, assessmentID, userID string) (*models.Submission, error) {
	path := "/assessments/" + url.PathEscape(assessmentID) + "/start"

	rawResp, err := c.doRequest(ctx, "StartAssessment", http.MethodPost, path, startRequest{UserID: userID})
	if err != nil {
		return nil, err
	}

	var sub models.Submission
	if err = json.Unmarshal(rawResp, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode submission: %w", err)
	}

	return &sub, nil
}

// GetSectionQuestions получает вопросы секции sectionOrder.
func (c *HTTPClient) GetSectionQuestions(
	ctx context.Context,
	submissionID string,
	sectionOrder int,
) (*models.SectionTest, error) {
	rawResp, err := c.doRequest(ctx, "GetSectionQuestions", http.MethodGet, sectionPath(submissionID, sectionOrder), nil)
	if err != nil {
		return nil, err
	}

	var section models.SectionTest
	if err = json.Unmarshal(rawResp, &section); err != nil {
		return nil, fmt.Errorf("failed to decode section %d: %w", sectionOrder, err)
	}

	return &section, nil
}

// SaveSection сохраняет ответы секции на сервере.
// Возвращает nil в случае успеха.
func (c *HTTPClient) SaveSection(ctx context.Context, submissionID string, batch models.SectionSubmitBatch) error {
	path := sectionPath(submissionID, batch.SectionOrder) + "/answers"

	_, err := c.doRequest(ctx, "SaveSection", http.MethodPost, path, batch)

	return err
}

// SubmitAssessment отправляет все секции на оценку.
// Ключ идемпотентности берется из ctx.
func (c *HTTPClient) SubmitAssessment(
	ctx context.Context,
	submissionID string,
	batches []models.SectionSubmitBatch,
) (*models.GradingResult, error) {
	path := "/submissions/" + url.PathEscape(submissionID) + "/submit"

	rawResp, err := c.doRequest(ctx, "SubmitAssessment", http.MethodPost, path, submitRequest{Sections: batches})
	if err != nil {
		return nil, err
	}

	var result models.GradingResult
	if err = json.Unmarshal(rawResp, &result); err != nil {
		return nil, fmt.Errorf("failed to decode grading result: %w", err)
	}

	return &result, nil
}

// GetSubmission получает попытку submissionID.
func (c *HTTPClient) GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	path := "/submissions/" + url.PathEscape(submissionID)

	rawResp, err := c.doRequest(ctx, "GetSubmission", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var sub models.Submission
	if err = json.Unmarshal(rawResp, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode submission: %w", err)
	}

	return &sub, nil
}

func sectionPath(submissionID string, sectionOrder int) string {
	return "/submissions/" + url.PathEscape(submissionID) + "/sections/" + strconv.Itoa(sectionOrder)
}

// doRequest выполняет запрос к бэкенду.
// Возвращает поле result ответа в случае успеха.
func (c *HTTPClient) doRequest(
	ctx context.Context,
	operation string,
	method string,
	path string,
	params any,
) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancelFunc := context.WithTimeout(ctx, c.timeout)
	defer cancelFunc()

	ctx, span := c.tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	data, err := c.roundTrip(ctx, span, method, path, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return data, nil
}

func (c *HTTPClient) roundTrip(
	ctx context.Context,
	span trace.Span,
	method string,
	path string,
	params any,
) (json.RawMessage, error) {
	var body io.Reader
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key := idempotency.Key(ctx); key != "" {
		request.Header.Set(idempotency.Header, key)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(request.Header))

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to do %s request for %s: %w", method, path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body for %s: %w", path, err)
	}

	var result envelope
	if err = json.Unmarshal(data, &result); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to decode response for %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !result.OK {
		description := result.Error
		if description == "" {
			description = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Description: description}
	}

	return result.Result, nil
}
