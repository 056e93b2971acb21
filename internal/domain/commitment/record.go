package commitment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
)

// Record identification written into every arbiter evidence payload.
const (
	RecordType    = "x402r-arbiter-commitment"
	RecordVersion = 1
)

// Record is the arbiter's evidence payload. Fields are declared in key order
// so the encoding is canonical.
type Record struct {
	CommitmentHash string  `json:"commitmentHash"`
	Confidence     float64 `json:"confidence"`
	Decision       string  `json:"decision"`
	Enacted        string  `json:"enacted"`
	EvaluatedAt    string  `json:"evaluatedAt"`
	Model          string  `json:"model"`
	PromptHash     string  `json:"promptHash"`
	Reasoning      string  `json:"reasoning"`
	ResponseHash   string  `json:"responseHash"`
	Seed           uint64  `json:"seed"`
	Type           string  `json:"type"`
	Version        int     `json:"version"`
}

// Commitment returns the sealed hashes carried by the record.
func (r Record) Commitment() Commitment {
	return Commitment{
		PromptHash:     r.PromptHash,
		ResponseHash:   r.ResponseHash,
		CommitmentHash: r.CommitmentHash,
		Seed:           r.Seed,
	}
}

// Encode renders r as compact JSON without HTML escaping.
func Encode(r Record) (string, error) {
	if r.Type == "" {
		r.Type = RecordType
	}
	if r.Version == 0 {
		r.Version = RecordVersion
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("encode commitment record: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Decode parses an arbiter evidence payload and checks its type, version and
// internal consistency.
func Decode(s string) (Record, error) {
	var r Record
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(s)))
	if err := dec.Decode(&r); err != nil {
		return Record{}, fmt.Errorf("%w: commitment record: %v", domain.ErrInvalidInput, err)
	}
	if r.Type != RecordType {
		return Record{}, fmt.Errorf("%w: unexpected record type %q", domain.ErrInvalidInput, r.Type)
	}
	if r.Version != RecordVersion {
		return Record{}, fmt.Errorf("%w: unsupported record version %d", domain.ErrInvalidInput, r.Version)
	}
	if err := r.Commitment().Verify(); err != nil {
		return Record{}, err
	}
	return r, nil
}
