package ledgerrpc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
)

type wireEvidence struct {
	Submitter string `json:"submitter"`
	Role      uint8  `json:"role"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	CID       string `json:"cid"`
}

func (w wireEvidence) toDomain() dispute.EvidenceEntry {
	e := dispute.EvidenceEntry{
		Submitter:  w.Submitter,
		Role:       dispute.Role(w.Role),
		Identifier: w.CID,
	}
	if w.Timestamp > 0 {
		e.Timestamp = time.Unix(w.Timestamp, 0).UTC()
	}
	return e
}

// wireStatus accepts the contract enum either as its name or its ordinal.
type wireStatus string

var statusOrdinals = []dispute.Status{
	dispute.StatusPending,
	dispute.StatusApproved,
	dispute.StatusDenied,
	dispute.StatusCancelled,
}

func (s *wireStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		st := dispute.Status(strings.ToLower(name))
		if !st.Valid() {
			return fmt.Errorf("unknown dispute status %q", name)
		}
		*s = wireStatus(st)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("dispute status: %w", err)
	}
	if n < 0 || n >= len(statusOrdinals) {
		return fmt.Errorf("unknown dispute status %d", n)
	}
	*s = wireStatus(statusOrdinals[n])
	return nil
}
