package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldLowercases(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"ABC", "abc"},
		{"abc", "abc"},
		{"Abc", "abc"},
		{"a12", "a12"},
		{"A12", "a12"},
	}

	for _, test := range tests {
		assert.Equal(t, test.output, fold(test.input), "fold(%s)", test.input)
	}
}

// TestFoldEquatesScandinavianPairs checks the four RFC 1459
// equivalences: { ≡ [, } ≡ ], | ≡ \, ^ ≡ ~. Both members of a pair
// must fold to the same canonical representative.
func TestFoldEquatesScandinavianPairs(t *testing.T) {
	pairs := [][2]string{
		{"Nick{1}", "Nick[1]"},
		{"A|B", "A\\B"},
		{"Test^", "Test~"},
	}
	for _, p := range pairs {
		assert.Equal(t, fold(p[0]), fold(p[1]), "%s and %s should fold equal", p[0], p[1])
	}
}

func TestFoldIdempotent(t *testing.T) {
	inputs := []string{"Nick[1]", "Test^User", "WEIRD|NAME", "{}|^~"}
	for _, in := range inputs {
		once := fold(in)
		twice := fold(once)
		assert.Equal(t, once, twice, "fold should be idempotent for %s", in)
	}
}
