package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpretWellFormedJSON(t *testing.T) {
	res := Interpret(`{"move": "Nf3", "explanation": "develops a knight"}`)
	assert.Equal(t, "Nf3", res.Move)
	assert.Equal(t, "develops a knight", res.Explanation)
	assert.Empty(t, res.Failure)
}

func TestInterpretFencedJSON(t *testing.T) {
	raw := "```json\n{\"move\": \"e4\", \"explanation\": \"center\"}\n```"
	res := Interpret(raw)
	assert.Equal(t, "e4", res.Move)
	assert.Equal(t, "center", res.Explanation)
}

func TestInterpretRepairedJSON(t *testing.T) {
	// Trailing comma and single quotes: near-JSON that models emit.
	res := Interpret(`{'move': 'O-O', 'explanation': 'king safety',}`)
	assert.Equal(t, "O-O", res.Move)
}

func TestInterpretJSONWithEmptyMoveFallsBackToExplanation(t *testing.T) {
	res := Interpret(`{"move": "", "explanation": "I will castle with O-O here"}`)
	assert.Equal(t, "O-O", res.Move)
}

func TestInterpretFreeTextLastMatchWins(t *testing.T) {
	res := Interpret("I considered e4 and also Nf3, but my final choice is d4")
	assert.Equal(t, "d4", res.Move)
}

func TestInterpretFreeTextPiece(t *testing.T) {
	res := Interpret("Best here is Nxe5!")
	assert.Equal(t, "Nxe5", res.Move)
}

func TestInterpretPromotionAndCheck(t *testing.T) {
	assert.Equal(t, "e8=Q", Interpret("I promote: e8=Q").Move)
	assert.Equal(t, "Qxf7#", Interpret("Qxf7# ends it").Move)
}

func TestInterpretZeroCastlingNormalized(t *testing.T) {
	assert.Equal(t, "O-O-O", Interpret("I castle long: 0-0-0").Move)
	assert.Equal(t, "O-O", Interpret(`{"move": "0-0"}`).Move)
}

func TestInterpretEmptyInput(t *testing.T) {
	res := Interpret("   ")
	assert.False(t, res.Found())
	assert.Equal(t, FailureNoMove, res.Failure)
}

func TestInterpretNoMoveAnywhere(t *testing.T) {
	res := Interpret("I resign, this position is hopeless without my queen")
	assert.False(t, res.Found())
	assert.Equal(t, FailureNoMove, res.Failure)
}

func TestInterpretBrokenStructureTaggedMalformed(t *testing.T) {
	res := Interpret(`{"mv": [truncated`)
	if !res.Found() {
		assert.Equal(t, FailureMalformed, res.Failure)
	}
}

func TestInterpretNeverPanics(t *testing.T) {
	inputs := []string{
		"", "{", "}", "``````", "{\"move\": 42}",
		"{\"move\": null, \"explanation\": null}",
		"\x00\xff garbage", "1. e4 e5 2. Nf3 Nc6 3. Bb5 a6",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _ = Interpret(in) }, "input %q", in)
	}
}

func TestInterpretNumericMoveField(t *testing.T) {
	// "move": 42 is not a usable move; chain falls through to patterns.
	res := Interpret(`{"move": 42, "explanation": "e4 is strong"}`)
	assert.Equal(t, "e4", res.Move)
}

func TestLastSANTokenAcrossPatterns(t *testing.T) {
	assert.Equal(t, "O-O", lastSANToken("maybe e4, maybe Nf3, finally O-O"))
	assert.Equal(t, "", lastSANToken("no chess here"))
}
