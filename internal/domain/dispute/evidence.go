package dispute

import (
	"fmt"
	"time"
)

// Role identifies who submitted an evidence entry.
type Role uint8

const (
	RolePayer    Role = 0
	RoleReceiver Role = 1
	RoleArbiter  Role = 2
)

var roleLabels = map[Role]string{
	RolePayer:    "Payer",
	RoleReceiver: "Receiver",
	RoleArbiter:  "Arbiter",
}

// Label returns the human-readable role name. Unknown roles render with
// their raw number so the entry stays visible in the prompt.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return fmt.Sprintf("Unknown(role=%d)", uint8(r))
}

func (r Role) String() string { return r.Label() }

// EvidenceEntry is one submission on the ledger. Entries are append-only and
// returned in ledger order.
type EvidenceEntry struct {
	Submitter  string    `json:"submitter"`
	Role       Role      `json:"role"`
	Timestamp  time.Time `json:"timestamp"`
	Identifier string    `json:"cid"`
}

// Canonical returns the first entry per non-arbiter role, keeping ledger
// order. Later submissions for a role already seen are retries and ignored.
func Canonical(entries []EvidenceEntry) []EvidenceEntry {
	seen := make(map[Role]bool, 3)
	out := make([]EvidenceEntry, 0, len(entries))
	for _, e := range entries {
		if e.Role == RoleArbiter || seen[e.Role] {
			continue
		}
		seen[e.Role] = true
		out = append(out, e)
	}
	return out
}

// FirstOfRole returns the first entry submitted under role.
func FirstOfRole(entries []EvidenceEntry, role Role) (EvidenceEntry, bool) {
	for _, e := range entries {
		if e.Role == role {
			return e, true
		}
	}
	return EvidenceEntry{}, false
}

// HasRole reports whether any entry was submitted under role.
func HasRole(entries []EvidenceEntry, role Role) bool {
	_, ok := FirstOfRole(entries, role)
	return ok
}

// BothPartiesSubmitted reports whether payer and receiver have both submitted.
func BothPartiesSubmitted(entries []EvidenceEntry) bool {
	return HasRole(entries, RolePayer) && HasRole(entries, RoleReceiver)
}
