package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "language tag",
			in:   "```python\nfrom manim import *\nclass GenerateVideo(Scene):\n    pass\n```",
			want: []string{"from manim import *", "class GenerateVideo(Scene):", "    pass"},
		},
		{
			name: "leading prose and trailing text",
			in:   "Sure, here you go:\n\n```python\na = 1\n```\nEnjoy!",
			want: []string{"a = 1"},
		},
		{
			name: "bare fence",
			in:   "```\nx\ny\n```\n",
			want: []string{"x", "y"},
		},
		{
			name: "internal whitespace preserved",
			in:   "```py\n\tindented  \n\n   trailing   \n```",
			want: []string{"\tindented  ", "", "   trailing   "},
		},
		{
			name: "first block wins",
			in:   "```python\nfirst\n```\ntext\n```python\nsecond\n```",
			want: []string{"first"},
		},
		{
			name: "indented closing fence line dropped",
			in:   "```python\nbody\n  ```",
			want: []string{"body"},
		},
		{
			name: "inline backticks in prose ignored",
			in:   "Use ```Square``` for this.\n```python\nsq = Square()\n```",
			want: []string{"sq = Square()"},
		},
		{
			name: "closing fence followed by prose",
			in:   "```python\na\n```  done",
			want: []string{"a"},
		},
		{
			name: "empty block",
			in:   "```python\n```",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "no fence", in: "from manim import *\nclass GenerateVideo(Scene): pass"},
		{name: "single fence", in: "```python\nfrom manim import *\n"},
		{name: "empty", in: ""},
		{name: "unterminated opening line", in: "```python"},
		{name: "fences on one line", in: "```x```"},
		{name: "only inline fences", in: "call ```foo``` then ```bar```\nand stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractCode(tt.in)
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}
