// Package commitment binds a ruling to the exact prompt, response and seed
// that produced it.
//
//	promptHash     = keccak256(prompt)
//	responseHash   = keccak256(stripped response)
//	commitmentHash = keccak256(promptHash ‖ responseHash ‖ uint256(seed))
//
// All three inputs to the final hash are fixed 32-byte words.
package commitment

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
)

// DefaultSeed is used for replay when a dispute carries no arbiter record.
const DefaultSeed uint64 = 42

// Commitment is the tamper-evident seal of one evaluation.
type Commitment struct {
	PromptHash     string `json:"prompt_hash"`
	ResponseHash   string `json:"response_hash"`
	CommitmentHash string `json:"commitment_hash"`
	Seed           uint64 `json:"seed"`
}

// Compute seals prompt, seed and the display-stripped response.
func Compute(prompt string, seed uint64, response string) Commitment {
	ph := keccak([]byte(prompt))
	rh := keccak([]byte(response))
	return Commitment{
		PromptHash:     hex0x(ph),
		ResponseHash:   hex0x(rh),
		CommitmentHash: hex0x(seal(ph, rh, seed)),
		Seed:           seed,
	}
}

// Matches reports whether two commitments seal the same evaluation.
func (c Commitment) Matches(other Commitment) bool {
	return strings.EqualFold(c.CommitmentHash, other.CommitmentHash)
}

// Verify recomputes CommitmentHash from the component hashes and seed.
func (c Commitment) Verify() error {
	ph, err := decodeWord(c.PromptHash)
	if err != nil {
		return fmt.Errorf("prompt hash: %w", err)
	}
	rh, err := decodeWord(c.ResponseHash)
	if err != nil {
		return fmt.Errorf("response hash: %w", err)
	}
	if want := hex0x(seal(ph, rh, c.Seed)); !strings.EqualFold(want, c.CommitmentHash) {
		return fmt.Errorf("%w: commitment hash %s does not match components (want %s)", domain.ErrInvalidInput, c.CommitmentHash, want)
	}
	return nil
}

// Keccak256Hex returns the 0x-prefixed keccak256 digest of data.
func Keccak256Hex(data []byte) string {
	return hex0x(keccak(data))
}

func seal(promptHash, responseHash []byte, seed uint64) []byte {
	var buf [96]byte
	copy(buf[0:32], promptHash)
	copy(buf[32:64], responseHash)
	binary.BigEndian.PutUint64(buf[88:96], seed)
	return keccak(buf[:])
}

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func hex0x(b []byte) string { return "0x" + hex.EncodeToString(b) }

func decodeWord(s string) ([]byte, error) {
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: expected 32-byte hex word", domain.ErrInvalidInput)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return b, nil
}
