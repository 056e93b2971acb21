package inference_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/inference"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/resilience"
)

func TestEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer model-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req inference.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Seed != 42 || req.Temperature != 0 || req.Model != "gpt-oss-120b-f16" {
			t.Fatalf("unexpected request %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "evidence" {
			t.Fatalf("unexpected messages %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-oss-120b-f16","choices":[{"message":{"content":"{\"decision\":\"deny\"}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := inference.NewClient(inference.Options{BaseURL: srv.URL + "/", APIKey: "model-key", Model: "gpt-oss-120b-f16"})
	out, err := client.Evaluate(context.Background(), "system", "evidence", 42)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out != `{"decision":"deny"}` {
		t.Errorf("unexpected content %q", out)
	}
	if client.Name() != "gpt-oss-120b-f16" {
		t.Errorf("unexpected name %q", client.Name())
	}
}

func TestEvaluateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c2","choices":[]}`))
	}))
	defer srv.Close()

	client := inference.NewClient(inference.Options{BaseURL: srv.URL, Model: "m"})
	_, err := client.Evaluate(context.Background(), "s", "u", 1)
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestEvaluateClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, domain.KindTransient},
		{"server error", http.StatusServiceUnavailable, domain.KindTransient},
		{"bad request", http.StatusBadRequest, domain.KindInvalidInput},
		{"unauthorized", http.StatusUnauthorized, domain.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := inference.NewClient(inference.Options{BaseURL: srv.URL, Model: "m"})
			_, err := client.Evaluate(context.Background(), "s", "u", 1)
			if got := domain.KindOf(err); got != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestEvaluateBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := inference.NewClient(inference.Options{BaseURL: srv.URL, Model: "m"})
	client.SetBreaker(resilience.NewBreaker(1, time.Minute))

	_, _ = client.Evaluate(context.Background(), "s", "u", 1)
	_, err := client.Evaluate(context.Background(), "s", "u", 1)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestEvaluateRateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := inference.NewClient(inference.Options{BaseURL: srv.URL, Model: "m", RequestsPerSecond: 0.001})
	if _, err := client.Evaluate(context.Background(), "s", "u", 1); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Evaluate(ctx, "s", "u", 1)
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected transient rate-limit error, got %v", err)
	}
}
