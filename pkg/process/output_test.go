package process

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestOutputBuffer_UnderLimit(t *testing.T) {
	buf := NewOutputBuffer(16)
	n, err := buf.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", buf.String())
	assert.False(t, buf.Truncated())
}

func TestOutputBuffer_Truncates(t *testing.T) {
	buf := NewOutputBuffer(8)

	n, err := buf.Write([]byte("0123456789"))
	assert.NoError(t, err)
	assert.Equal(t, 10, n, "writes are always fully accepted")

	n, err = buf.Write([]byte("more"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, "01234567", buf.String())
	assert.Equal(t, 8, buf.Len())
	assert.True(t, buf.Truncated())
}

func TestOutputBuffer_ExactLimitNotTruncated(t *testing.T) {
	buf := NewOutputBuffer(4)
	_, _ = buf.Write([]byte("abcd"))
	_, _ = buf.Write(nil)
	assert.False(t, buf.Truncated())
}

func TestOutputBuffer_DefaultLimit(t *testing.T) {
	buf := NewOutputBuffer(0)
	_, _ = buf.Write([]byte(strings.Repeat("x", DefaultOutputLimitBytes+1)))
	assert.Equal(t, DefaultOutputLimitBytes, buf.Len())
	assert.True(t, buf.Truncated())
}

func TestOutputBuffer_TruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		writes []string
		want   string
	}{
		{name: "two byte rune split", limit: 4, writes: []string{"abcé"}, want: "abc"},
		{name: "three byte rune split", limit: 5, writes: []string{"abc€"}, want: "abc"},
		{name: "four byte rune split late", limit: 6, writes: []string{"abc😀"}, want: "abc"},
		{name: "rune fits exactly", limit: 5, writes: []string{"abcé!"}, want: "abcé"},
		{name: "split on second write", limit: 5, writes: []string{"ab", "c€"}, want: "abc"},
		{name: "nothing appended after a cut", limit: 5, writes: []string{"abc€", "d"}, want: "abc"},
		{name: "invalid bytes cut as is", limit: 3, writes: []string{"ab\x80\x80"}, want: "ab\x80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewOutputBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := buf.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, buf.String())
			assert.True(t, buf.Truncated())
			if utf8.ValidString(tt.writes[len(tt.writes)-1]) {
				assert.True(t, utf8.ValidString(buf.String()))
			}
		})
	}
}
