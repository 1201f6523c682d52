package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "ON", Encode(TurnOn))
	assert.Equal(t, "OFF", Encode(TurnOff))
}

func TestEncodeIsTotalAndDistinct(t *testing.T) {
	seen := map[string]Command{}
	for _, c := range All() {
		w := Encode(c)
		require.NotEmpty(t, w, "command %d has no wire string", c)
		prev, dup := seen[w]
		require.False(t, dup, "%v and %v share wire string %q", prev, c, w)
		seen[w] = c
		assert.True(t, c.Valid())
	}
	assert.Len(t, seen, len(wire))
}

func TestParseRoundTrip(t *testing.T) {
	for _, c := range All() {
		got, err := Parse(Encode(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestParseUnknown(t *testing.T) {
	for _, s := range []string{"", "on", "Off", "ON\n", "TOGGLE"} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrUnknown, "input %q", s)
	}
}

func TestUndefinedCommand(t *testing.T) {
	var zero Command
	assert.False(t, zero.Valid())
	assert.Empty(t, Encode(zero))
	assert.Equal(t, "Command(0)", zero.String())
	assert.Equal(t, "ON", TurnOn.String())
}
