package ledgerrpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/ledgerrpc"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/ledger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/resilience"
)

var key = dispute.Key("0x" + strings.Repeat("ab", 32))

func newServer(t *testing.T, h http.HandlerFunc) *ledgerrpc.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return ledgerrpc.NewClient(srv.URL, "gw-key", 5*time.Second)
}

func TestGetAllEvidence(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/disputes/"+key.String()+"/evidence" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer gw-key" {
			t.Fatalf("unexpected auth: %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"entries":[
			{"submitter":"0xpayer","role":0,"timestamp":1735689600,"cid":"service never delivered"},
			{"submitter":"0xrecv","role":1,"timestamp":1735693200,"cid":"ipfs://bafy"}
		]}`))
	})

	entries, err := c.GetAllEvidence(context.Background(), key)
	if err != nil {
		t.Fatalf("GetAllEvidence: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Role != dispute.RoleReceiver || entries[1].Identifier != "ipfs://bafy" {
		t.Errorf("unexpected entry %+v", entries[1])
	}
	if !entries[0].Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", entries[0].Timestamp)
	}
}

func TestSubmitEvidence(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/disputes/"+key.String()+"/evidence" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["cid"] != `{"type":"x402r-arbiter-commitment"}` {
			t.Fatalf("unexpected cid %q", body["cid"])
		}
		_, _ = w.Write([]byte(`{"txHash":"0xtx1"}`))
	})

	tx, err := c.SubmitEvidence(context.Background(), key, `{"type":"x402r-arbiter-commitment"}`)
	if err != nil {
		t.Fatal(err)
	}
	if tx != "0xtx1" {
		t.Errorf("expected 0xtx1, got %s", tx)
	}
}

func TestApproveConflict(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`execution reverted: dispute not pending`))
	})

	_, err := c.Approve(context.Background(), key)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var perm *resilience.PermanentError
	if errors.As(err, &perm) {
		t.Fatal("permanent marker must not leak")
	}
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		body string
		want dispute.Status
	}{
		{`{"status":"pending"}`, dispute.StatusPending},
		{`{"status":"Approved"}`, dispute.StatusApproved},
		{`{"status":3}`, dispute.StatusCancelled},
	}
	for _, tt := range tests {
		c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(tt.body))
		})
		got, err := c.GetStatus(context.Background(), key)
		if err != nil {
			t.Fatalf("%s: %v", tt.body, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.body, got, tt.want)
		}
	}
}

func TestGetStatusUnknown(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":9}`))
	})
	if _, err := c.GetStatus(context.Background(), key); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestListRecentDisputeKeys(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fromBlock") != "900" || r.URL.Query().Get("toBlock") != "1000" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"keys":["` + strings.ToUpper(key.String()[2:]) + `"]}`))
	})

	keys, err := c.ListRecentDisputeKeys(context.Background(), ledger.BlockRange{From: 900, To: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("expected normalized key, got %v", keys)
	}
}

func TestExecuteRefund(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/0xfeed/refund" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var info payment.Info
		if err := json.Unmarshal(body, &info); err != nil {
			t.Fatal(err)
		}
		if info.Amount != "1000000" {
			t.Fatalf("unexpected amount %q", info.Amount)
		}
		_, _ = w.Write([]byte(`{"txHash":"0xrefund"}`))
	})

	tx, err := c.ExecuteRefund(context.Background(), payment.Info{Hash: "0xFEED", Payer: "0x1", Receiver: "0x2", Amount: "1000000"})
	if err != nil {
		t.Fatal(err)
	}
	if tx != "0xrefund" {
		t.Errorf("unexpected tx %s", tx)
	}
}

func TestGetPaymentInfoNotFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	_, err := c.GetPaymentInfo(context.Background(), "0xfeed")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServerErrorIsTransientAndTripsBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := c.LatestBlock(context.Background())
		if domain.KindOf(err) != domain.KindTransient {
			t.Fatalf("expected transient, got %v", err)
		}
	}

	_, err := c.LatestBlock(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) || domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected open circuit surfaced as transient, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls.Load())
	}
}

func TestConflictsDoNotTripBreaker(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	b := resilience.NewBreaker(1, time.Minute)
	c.SetBreaker(b)

	for i := 0; i < 3; i++ {
		if _, err := c.Deny(context.Background(), key); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	}
	if b.State() != "closed" {
		t.Errorf("expected closed breaker, got %s", b.State())
	}
}

func TestGetDispute(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"key":"` + key.String() + `","paymentInfoHash":"0x11","nonce":2,"status":0,"requestedAt":1735689600}`))
	})
	d, err := c.GetDispute(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if d.Nonce != 2 || d.Status != dispute.StatusPending || d.PaymentInfoHash != "0x11" {
		t.Errorf("unexpected dispute %+v", d)
	}
}
