package payment

import (
	"errors"
	"testing"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
)

func TestValidate(t *testing.T) {
	valid := Info{Hash: "0xab", Payer: "0x1", Receiver: "0x2", Amount: "1000"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Info)
	}{
		{"no hash", func(i *Info) { i.Hash = " " }},
		{"no payer", func(i *Info) { i.Payer = "" }},
		{"no amount", func(i *Info) { i.Amount = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := valid
			tt.modify(&info)
			if err := info.Validate(); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNormalizeHash(t *testing.T) {
	tests := map[string]string{
		"0xABCD":  "0xabcd",
		"abcd":    "0xabcd",
		" 0xab\n": "0xab",
	}
	for in, want := range tests {
		if got := NormalizeHash(in); got != want {
			t.Errorf("NormalizeHash(%q) = %q, want %q", in, got, want)
		}
	}
}
