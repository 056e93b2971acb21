package dispute

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func entriesFromRoles(roles []uint8) []EvidenceEntry {
	out := make([]EvidenceEntry, len(roles))
	for i, r := range roles {
		out[i] = EvidenceEntry{Role: Role(r % 4), Identifier: fmt.Sprintf("e%d", i)}
	}
	return out
}

// Appending a retry for a role that already submitted never changes the canonical set.
func TestCanonicalIgnoresDuplicateRoles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("duplicate submissions do not change canonical evidence", prop.ForAll(
		func(roles []uint8, pick int) bool {
			entries := entriesFromRoles(roles)
			if len(entries) == 0 {
				return true
			}
			dup := entries[pick%len(entries)]
			dup.Identifier = "retry"

			before := Canonical(entries)
			after := Canonical(append(entries, dup))
			return reflect.DeepEqual(before, after)
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(0, 1000),
	))

	properties.Property("at most one entry per role and never an arbiter entry", prop.ForAll(
		func(roles []uint8) bool {
			seen := map[Role]bool{}
			for _, e := range Canonical(entriesFromRoles(roles)) {
				if e.Role == RoleArbiter || seen[e.Role] {
					return false
				}
				seen[e.Role] = true
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
