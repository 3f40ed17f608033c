// Package parse extracts a candidate move from an agent's raw reply.
//
// Interpretation runs an ordered chain of strategies — structured JSON first
// (repaired when the model emits almost-JSON), then pattern extraction of a
// move-shaped token from free text — and stops at the first success. Agents
// often think out loud before stating their final move, so pattern extraction
// prefers the last plausible token. Interpret never fails: every input maps
// to a Result, with a failure tag standing in for "nothing usable found".
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// FailureTag classifies why no move could be extracted.
type FailureTag string

const (
	// FailureMalformed: the reply looked structured but could not be decoded.
	FailureMalformed FailureTag = "malformed-structure"
	// FailureNoMove: nothing move-shaped anywhere in the reply.
	FailureNoMove FailureTag = "no-move-found"
)

// Result is the outcome of interpreting one reply.
type Result struct {
	Move        string // empty when no move was found
	Explanation string
	Failure     FailureTag // set only when Move is empty
}

// Found reports whether a move was extracted.
func (r Result) Found() bool { return r.Move != "" }

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

	// SAN token patterns. Each consumes one trailing non-word rune (or end of
	// input) in place of a lookahead, which RE2 does not support; the move
	// itself is always capture group 1.
	castlingRe = regexp.MustCompile(`(?i)\b(O-O-O|0-0-0|O-O|0-0)(?:[^\w]|$)`)
	pieceRe    = regexp.MustCompile(`(?i)\b([KQRBN][a-h]?[1-8]?x?[a-h][1-8][+#]?)(?:[^\w]|$)`)
	pawnRe     = regexp.MustCompile(`(?i)\b([a-h](?:x[a-h])?[1-8](?:=[QRBN])?[+#]?)(?:[^\w]|$)`)

	sanPatterns = []*regexp.Regexp{castlingRe, pieceRe, pawnRe}
)

// Interpret runs the extraction chain over the raw reply.
func Interpret(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Failure: FailureNoMove}
	}

	for _, strategy := range []func(string) (Result, bool){fromJSON, fromPattern} {
		if res, ok := strategy(raw); ok {
			return res
		}
	}

	// Nothing usable. A reply that looked like JSON gets the structural tag
	// so the retry prompt tells the agent to fix its format.
	if strings.Contains(raw, "{") {
		return Result{Failure: FailureMalformed}
	}
	return Result{Failure: FailureNoMove}
}

// fromJSON decodes a JSON object carrying "move" and optional "explanation",
// unwrapping a markdown code fence first and repairing near-JSON. When the
// object exists but its move field is unusable, the explanation text (then
// the full reply) gets one pattern pass before giving up on this strategy.
func fromJSON(raw string) (Result, bool) {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	obj, ok := decodeObject(s)
	if !ok {
		return Result{}, false
	}

	explanation := strings.TrimSpace(asString(obj["explanation"]))
	// Only a string move field counts; numbers and objects fall through.
	if move, _ := obj["move"].(string); strings.TrimSpace(move) != "" {
		return Result{Move: normalizeCastling(strings.TrimSpace(move)), Explanation: explanation}, true
	}

	// Valid object, empty move field: the move may still be stated in prose.
	for _, text := range []string{explanation, raw} {
		if move := lastSANToken(text); move != "" {
			return Result{Move: move, Explanation: explanation}, true
		}
	}
	return Result{}, false
}

func fromPattern(raw string) (Result, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if move := lastSANToken(strings.TrimSpace(s)); move != "" {
		return Result{Move: move}, true
	}
	return Result{}, false
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj, obj != nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// lastSANToken returns the move-shaped token ending last in the text, across
// all SAN patterns.
func lastSANToken(text string) string {
	if text == "" {
		return ""
	}
	best := ""
	bestEnd := -1
	for _, re := range sanPatterns {
		for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
			// idx[2]:idx[3] bound capture group 1.
			if idx[3] > bestEnd {
				bestEnd = idx[3]
				best = text[idx[2]:idx[3]]
			}
		}
	}
	return normalizeCastling(strings.TrimSpace(best))
}

// normalizeCastling rewrites zero-notation castling (0-0) to letter notation.
func normalizeCastling(move string) string {
	if strings.HasPrefix(strings.ToUpper(move), "0-0") {
		return strings.ReplaceAll(move, "0", "O")
	}
	return move
}
