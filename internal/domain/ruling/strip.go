package ruling

import (
	"regexp"
	"strings"
)

// StripDisplay removes provider wrapper tokens from raw model output so the
// hashed text is what a replay regenerates. It knows reasoning blocks
// (<think>…</think>), harmony-style channel framing and <|…|> special tokens.
// A provider changing its framing breaks verification of older commitments;
// records carry a version so such a change is detectable.
func StripDisplay(raw string) string {
	s := raw
	if i := strings.LastIndex(s, harmonyFinal); i >= 0 {
		s = s[i+len(harmonyFinal):]
	}
	s = thinkBlock.ReplaceAllString(s, "")
	s = danglingThink.ReplaceAllString(s, "")
	s = specialToken.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

const harmonyFinal = "<|channel|>final<|message|>"

var (
	thinkBlock    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	danglingThink = regexp.MustCompile(`(?s)^.*?</think>`)
	specialToken  = regexp.MustCompile(`<\|[^|<>]{1,64}\|>`)
)
