package messagequeue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const hash32 = `{"type": "string", "pattern": "^(0[xX])?[0-9a-fA-F]{64}$"}`

// subjectSchemas constrain what the typed payloads cannot: required fields,
// hash formats and enums.
var subjectSchemas = map[string]string{
	SubjectRefundRequested: `{
		"type": "object",
		"properties": {
			"dispute_key": ` + hash32 + `,
			"payment_info_hash": ` + hash32 + `,
			"nonce": {"type": "integer", "minimum": 0},
			"block_number": {"type": "integer", "minimum": 0}
		},
		"anyOf": [
			{"required": ["dispute_key"]},
			{"required": ["payment_info_hash", "nonce"]}
		]
	}`,
	SubjectEvidenceAdded: `{
		"type": "object",
		"required": ["dispute_key"],
		"properties": {
			"dispute_key": ` + hash32 + `,
			"role": {"type": "integer", "minimum": 0, "maximum": 255},
			"block_number": {"type": "integer", "minimum": 0}
		}
	}`,
	SubjectRuling: `{
		"type": "object",
		"required": ["dispute_key", "decision", "enacted", "confidence", "commitment_hash"],
		"properties": {
			"decision": {"enum": ["approve", "deny"]},
			"enacted": {"enum": ["approve", "deny"]},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`,
	SubjectRulingFailed: `{
		"type": "object",
		"required": ["dispute_key", "kind"]
	}`,
	SubjectReplay: `{
		"type": "object",
		"required": ["dispute_key", "replay_commitment", "seed_source"]
	}`,
}

var compiledSchemas = mustCompileSubjectSchemas()

func mustCompileSubjectSchemas() map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	out := make(map[string]*jsonschema.Schema, len(subjectSchemas))
	for subject, src := range subjectSchemas {
		url := "https://x402r.local/schemas/" + subject + ".json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("messagequeue: schema %s: %v", subject, err))
		}
		s, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("messagequeue: compile schema %s: %v", subject, err))
		}
		out[subject] = s
	}
	return out
}

// Validate checks that data is JSON that decodes into the subject's payload
// type and satisfies its schema. Unknown subjects only need to be JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch subject {
	case SubjectRefundRequested:
		target = &RefundRequestedPayload{}
	case SubjectEvidenceAdded:
		target = &EvidenceAddedPayload{}
	case SubjectRuling:
		target = &RulingPayload{}
	case SubjectRulingFailed:
		target = &RulingFailedPayload{}
	case SubjectReplay:
		target = &ReplayPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if err := compiledSchemas[subject].Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
