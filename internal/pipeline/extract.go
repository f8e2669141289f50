package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

const fence = "```"

// ErrMalformedOutput is returned when model output holds no complete fenced block.
var ErrMalformedOutput = errors.New("malformed output")

// ExtractCode returns the interior lines of the first fenced code block in text.
//
// Delimiters only count at the start of a line, after optional indentation, so
// backticks quoted inline in prose are ignored. The opening delimiter line
// (with its optional language tag) and the closing delimiter line are dropped.
// Interior lines are returned exactly as written.
func ExtractCode(text string) ([]string, error) {
	lines := strings.Split(text, "\n")

	open := -1
	for i, line := range lines {
		if isFenceLine(line) {
			open = i
			break
		}
	}
	if open < 0 {
		return nil, fmt.Errorf("%w: no code fence found", ErrMalformedOutput)
	}
	if open == len(lines)-1 {
		return nil, fmt.Errorf("%w: opening fence line is not terminated", ErrMalformedOutput)
	}

	for i := open + 1; i < len(lines); i++ {
		if isFenceLine(lines[i]) {
			return append([]string{}, lines[open+1:i]...), nil
		}
	}
	return nil, fmt.Errorf("%w: closing code fence missing", ErrMalformedOutput)
}

func isFenceLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), fence)
}
