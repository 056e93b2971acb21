package ruling

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
)

//go:embed ruling.schema.json
var schemaJSON string

const schemaURL = "https://x402r.local/schemas/ruling.schema.json"

var rulingSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("ruling schema load failed: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("ruling schema compile failed: %v", err))
	}
	return s
}

// Strategy names the parse stage that produced a ruling.
type Strategy string

const (
	StrategyStrict Strategy = "strict"
	StrategyFenced Strategy = "fenced"
	StrategyScan   Strategy = "scan"
)

// Scan bounds. Output beyond maxScanBytes is never inspected.
const (
	maxScanBytes      = 256 << 10
	maxScanCandidates = 64
	maxRawInError     = 4000
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\n?(.*?)```")

var errNotRuling = errors.New("not a ruling object")

// Parse extracts a ruling from raw model output.
func Parse(raw string) (Ruling, error) {
	r, _, err := ParseDetailed(raw)
	return r, err
}

// ParseDetailed is Parse that also reports which stage succeeded.
// Stages run in order: the whole text as one object, the first fenced code
// block, then a bounded scan for the first balanced object that validates.
func ParseDetailed(raw string) (Ruling, Strategy, error) {
	text := strings.TrimSpace(raw)

	if r, err := parseCandidate(text); err == nil {
		return r, StrategyStrict, nil
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(text, 4) {
		if r, err := parseCandidate(strings.TrimSpace(m[1])); err == nil {
			return r, StrategyFenced, nil
		}
	}

	if r, ok := scanObjects(text); ok {
		return r, StrategyScan, nil
	}

	return Ruling{}, "", malformed(raw)
}

// scanObjects tries each balanced {...} span in order of its opening brace.
// Every opening brace counts against maxScanCandidates, balanced or not, so
// the scan stays linear in maxScanBytes.
func scanObjects(text string) (Ruling, bool) {
	if len(text) > maxScanBytes {
		text = text[:maxScanBytes]
	}
	tried := 0
	for i := 0; i < len(text) && tried < maxScanCandidates; i++ {
		if text[i] != '{' {
			continue
		}
		tried++
		end := objectEnd(text, i)
		if end < 0 {
			continue
		}
		if r, err := parseCandidate(text[i : end+1]); err == nil {
			return r, true
		}
	}
	return Ruling{}, false
}

// objectEnd returns the index of the brace closing the object opened at
// start, honoring JSON string escapes, or -1 when unbalanced.
func objectEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseCandidate(s string) (Ruling, error) {
	if !strings.HasPrefix(s, "{") {
		return Ruling{}, errNotRuling
	}
	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return Ruling{}, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Ruling{}, errNotRuling
	}
	if d, ok := obj["decision"].(string); ok {
		obj["decision"] = strings.ToLower(strings.TrimSpace(d))
	}
	if err := rulingSchema.Validate(obj); err != nil {
		return Ruling{}, err
	}
	return Ruling{
		Decision:   Decision(obj["decision"].(string)),
		Reasoning:  obj["reasoning"].(string),
		Confidence: obj["confidence"].(float64),
	}, nil
}

func malformed(raw string) error {
	shown := raw
	if len(shown) > maxRawInError {
		shown = shown[:maxRawInError]
	}
	return &domain.Error{
		Kind:    domain.KindMalformedOutput,
		Msg:     "model output is not a valid ruling",
		Details: map[string]string{"raw": shown},
	}
}
