package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/model"
)

const defaultTimeout = 30 * time.Second

// Outcome is the result of exactly one delivery attempt. Every attempt
// resolves to success or a retryable failure; there is no in-between.
type Outcome struct {
	Success    bool
	StatusCode int
	Error      string
	Duration   time.Duration
}

type Sender struct {
	client *http.Client
	logger *zap.Logger
}

func NewSender(timeout time.Duration, logger *zap.Logger) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Attempt POSTs the payload to the webhook URL. A 2xx response is success;
// network errors, timeouts and every non-2xx status are retryable failures.
// 4xx is deliberately not treated as permanent: the remote directory rolls
// endpoints and a today-404 can be a tomorrow-200.
func (s *Sender) Attempt(ctx context.Context, webhookURL, payload string) Outcome {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewBufferString(payload))
	if err != nil {
		return Outcome{Error: fmt.Sprintf("building request: %v", err), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook request failed",
			zap.String("url", webhookURL),
			zap.Error(err),
		)
		return Outcome{Error: err.Error(), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the response body is only kept
	// as failure context.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	outcome := Outcome{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.Success = true
		return outcome
	}

	outcome.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, body)
	s.logger.Warn("webhook delivery rejected",
		zap.String("url", webhookURL),
		zap.Int("status", resp.StatusCode),
	)
	return outcome
}

// TruncateErrorMessage cuts a failure message to model.MaxErrorLength
// characters, no ellipsis. Idempotent.
func TruncateErrorMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= model.MaxErrorLength {
		return message
	}
	return string(runes[:model.MaxErrorLength])
}

// ShouldDeadLetter reports whether an entry whose latest attempt just
// finished has exhausted its retry budget. The attempt count passed in must
// already include the attempt that produced the outcome.
func ShouldDeadLetter(attempt int, success bool) bool {
	return !success && attempt >= model.MaxRetryAttempts
}
