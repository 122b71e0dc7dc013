package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAttemptSuccessOn2xx(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received = string(buf)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewSender(5*time.Second, zap.NewNop())
	outcome := sender.Attempt(context.Background(), server.URL, `{"hello":"world"}`)

	if !outcome.Success {
		t.Fatalf("expected success, got error %q", outcome.Error)
	}
	if outcome.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", outcome.StatusCode)
	}
	if received != `{"hello":"world"}` {
		t.Fatalf("payload not delivered verbatim: %q", received)
	}
}

func TestAttemptNon2xxIsRetryableFailure(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		sender := NewSender(5*time.Second, zap.NewNop())
		outcome := sender.Attempt(context.Background(), server.URL, `{}`)
		server.Close()

		if outcome.Success {
			t.Fatalf("status %d must not be success", status)
		}
		if outcome.Error == "" {
			t.Fatalf("status %d must produce an error message", status)
		}
		if outcome.StatusCode != status {
			t.Fatalf("expected status %d, got %d", status, outcome.StatusCode)
		}
	}
}

func TestAttemptTimeoutIsRetryableFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	sender := NewSender(20*time.Millisecond, zap.NewNop())
	outcome := sender.Attempt(context.Background(), server.URL, `{}`)

	if outcome.Success {
		t.Fatal("timed-out attempt must not be success")
	}
	if outcome.Error == "" {
		t.Fatal("timed-out attempt must carry an error message")
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	long := strings.Repeat("x", 2000)
	truncated := TruncateErrorMessage(long)
	if len(truncated) != 1000 {
		t.Fatalf("expected exactly 1000 characters, got %d", len(truncated))
	}
	if TruncateErrorMessage(truncated) != truncated {
		t.Fatal("truncation must be idempotent")
	}

	short := "connection refused"
	if TruncateErrorMessage(short) != short {
		t.Fatal("short messages must be stored unchanged")
	}
}

func TestShouldDeadLetter(t *testing.T) {
	cases := []struct {
		attempt int
		success bool
		want    bool
	}{
		{1, false, false},
		{4, false, false},
		{5, false, true},
		{5, true, false},
		{10, false, true},
	}

	for _, tc := range cases {
		if got := ShouldDeadLetter(tc.attempt, tc.success); got != tc.want {
			t.Fatalf("ShouldDeadLetter(%d, %v) = %v, want %v", tc.attempt, tc.success, got, tc.want)
		}
	}
}
