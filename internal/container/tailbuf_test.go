package container

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTailBufferUnderCapacity(t *testing.T) {
	b := newTailBuffer(16)
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world"))

	assert.Equal(t, "hello world", b.String())
	assert.Equal(t, int64(0), b.Dropped())
}

func TestTailBufferKeepsTail(t *testing.T) {
	b := newTailBuffer(8)
	_, _ = b.Write([]byte("abcdef"))
	_, _ = b.Write([]byte("ghij"))

	assert.Equal(t, "cdefghij", b.String())
	assert.Equal(t, 8, b.Len())
	assert.Equal(t, int64(2), b.Dropped())

	_, _ = b.Write([]byte("klm"))
	assert.Equal(t, "fghijklm", b.String())
	assert.Equal(t, int64(5), b.Dropped())
}

func TestTailBufferOversizedWrite(t *testing.T) {
	b := newTailBuffer(4)
	_, _ = b.Write([]byte("xy"))
	n, err := b.Write([]byte("0123456789"))

	assert.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "6789", b.String())
	assert.Equal(t, int64(8), b.Dropped())
}

func TestTailBufferManySmallWrites(t *testing.T) {
	b := newTailBuffer(10)
	var all strings.Builder
	for i := 0; i < 50; i++ {
		s := string(rune('a' + i%26))
		all.WriteString(s)
		_, _ = b.Write([]byte(s))
	}

	full := all.String()
	assert.Equal(t, full[len(full)-10:], b.String())
	assert.Equal(t, int64(40), b.Dropped())
}
