package main

import (
	"strings"
	"testing"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSnippets(t *testing.T) {
	in := `[
		{"query": "draw a circle\n", "answer": "from manim import *"},
		{"query": "rotate a square", "answer": "self.play(Rotate(Square()))"}
	]`

	got, err := readSnippets(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []domain.Snippet{
		{Query: "draw a circle\n", Code: "from manim import *"},
		{Query: "rotate a square", Code: "self.play(Rotate(Square()))"},
	}, got)
}

func TestReadSnippetsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "not json", in: "query,answer"},
		{name: "empty array", in: "[]"},
		{name: "missing answer", in: `[{"query": "q"}]`},
		{name: "blank query", in: `[{"query": "  ", "answer": "a"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readSnippets(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}
