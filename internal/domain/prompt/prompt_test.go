package prompt

import (
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

func sample() []Resolved {
	return []Resolved{
		{
			Entry:   dispute.EvidenceEntry{Submitter: "0xpayer", Role: dispute.RolePayer, Timestamp: t0, Identifier: "service never delivered"},
			Content: "service never delivered",
		},
		{
			Entry:   dispute.EvidenceEntry{Submitter: "0xrecv", Role: dispute.RoleReceiver, Timestamp: t0.Add(time.Hour), Identifier: "ipfs://bafy"},
			Content: "delivered per logs",
		},
	}
}

func TestBuildLayout(t *testing.T) {
	p := NewBuilder(0, 0).Build("sys", sample())

	want := preamble + "\n\n" +
		"### Evidence 1: Payer\n" +
		"Submitter: 0xpayer\n" +
		"Submitted at: 2025-03-01T11:00:00Z\n" +
		"Identifier: service never delivered\n" +
		"Content:\n" +
		"service never delivered\n\n" +
		"### Evidence 2: Receiver\n" +
		"Submitter: 0xrecv\n" +
		"Submitted at: 2025-03-01T12:00:00Z\n" +
		"Identifier: ipfs://bafy\n" +
		"Content:\n" +
		"delivered per logs"

	if p.User != want {
		t.Errorf("unexpected prompt:\n%s\n--- want ---\n%s", p.User, want)
	}
	if p.System != "sys" {
		t.Errorf("expected system prompt kept, got %q", p.System)
	}
	if p.Canonical() != "sys"+systemDivider+want {
		t.Error("canonical text must join system and user prompt")
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder(0, 0)
	a := b.Build(DefaultSystemPrompt, sample())
	c := b.Build(DefaultSystemPrompt, sample())
	if a != c {
		t.Fatal("expected byte-identical prompts")
	}
}

func TestBuildUnknownRoleVisible(t *testing.T) {
	entries := []Resolved{{Entry: dispute.EvidenceEntry{Role: dispute.Role(5)}, Content: "x"}}
	p := NewBuilder(0, 0).Build("", entries)
	if !strings.Contains(p.User, "### Evidence 1: Unknown(role=5)") {
		t.Errorf("unknown role must render with raw number:\n%s", p.User)
	}
	if !strings.Contains(p.User, "Submitted at: unknown") {
		t.Errorf("zero timestamp should render as unknown:\n%s", p.User)
	}
}

func TestBuildEntryTruncation(t *testing.T) {
	entries := []Resolved{{Entry: dispute.EvidenceEntry{Role: dispute.RolePayer}, Content: strings.Repeat("é", 15)}}
	p := NewBuilder(10, 1000).Build("", entries)

	if !strings.Contains(p.User, strings.Repeat("é", 10)+"\n[truncated: 5 characters omitted]") {
		t.Errorf("expected rune-based truncation marker:\n%s", p.User)
	}
	if strings.Contains(p.User, strings.Repeat("é", 11)) {
		t.Error("content exceeded entry cap")
	}
}

func TestBuildPromptTruncation(t *testing.T) {
	entries := []Resolved{
		{Entry: dispute.EvidenceEntry{Role: dispute.RolePayer}, Content: strings.Repeat("a", 500)},
		{Entry: dispute.EvidenceEntry{Role: dispute.RoleReceiver}, Content: strings.Repeat("b", 500)},
	}
	b := NewBuilder(500, 600)
	p := b.Build("", entries)

	full := NewBuilder(500, 100000).Build("", entries).User
	omitted := utf8.RuneCountInString(full) - 600

	marker := "\n[prompt truncated: "
	idx := strings.Index(p.User, marker)
	if idx < 0 {
		t.Fatalf("expected prompt truncation marker:\n%s", p.User)
	}
	if utf8.RuneCountInString(p.User[:idx]) != 600 {
		t.Errorf("expected 600 characters before marker, got %d", utf8.RuneCountInString(p.User[:idx]))
	}
	if !strings.HasSuffix(p.User, " characters omitted]") || !strings.Contains(p.User, strconv.Itoa(omitted)) {
		t.Errorf("marker should report %d omitted characters: %q", omitted, p.User[idx:])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in      string
		limit   int
		want    string
		omitted int
	}{
		{"hello", 10, "hello", 0},
		{"hello", 5, "hello", 0},
		{"hello", 3, "hel", 2},
		{"日本語テキスト", 2, "日本", 5},
		{"abc", 0, "", 3},
	}
	for _, tt := range tests {
		got, n := truncate(tt.in, tt.limit)
		if got != tt.want || n != tt.omitted {
			t.Errorf("truncate(%q, %d) = (%q, %d), want (%q, %d)", tt.in, tt.limit, got, n, tt.want, tt.omitted)
		}
	}
}
