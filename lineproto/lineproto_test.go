package lineproto

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(byte('G'), Checksum("G"))
	assert.Equal(Checksum("G1 X10 Y5"), Checksum("G1 X10 Y5"))
	assert.Equal(byte(0), Checksum(""))
	assert.Equal(byte('G')^byte('2')^byte('8'), Checksum("G28"))
	assert.NotEqual(Checksum("G1 X10"), Checksum("G1 X11"))
}

func TestEncode(t *testing.T) {
	require := require.New(t)

	line := Encode(3, "G28 ")
	require.Equal(fmt.Sprintf("N3 G28*%d", Checksum("G28")), line)
}

func TestCursor_PassThrough(t *testing.T) {
	require := require.New(t)

	var c Cursor
	c.Reset(5)

	for _, line := range []string{"G28", "M105", "", "; comment", "G1 X10*99"} {
		res := c.Parse(line)
		require.Equal(PassThrough, res.Kind)
		require.Equal(line, res.Payload)
		require.Equal(5, c.Expected())
		require.Equal(0, c.Received())
	}
}

func TestCursor_Accepted(t *testing.T) {
	require := require.New(t)

	var c Cursor
	for i, body := range []string{"G1 X10 Y5 Z2 E1", "M114", "G28 X Y"} {
		res := c.Parse(Encode(i, body))
		require.Equal(Accepted, res.Kind, res.Err)
		require.Equal(body, res.Payload)
		require.NoError(res.Err)
		require.Equal(i+1, c.Expected())
	}
	require.Equal(3, c.Received())
}

func TestCursor_TrailingSpaceBeforeChecksum(t *testing.T) {
	require := require.New(t)

	var c Cursor
	res := c.Parse(fmt.Sprintf("N0 G28 *%d\n", Checksum("G28")))
	require.Equal(Accepted, res.Kind)
	require.Equal("G28", res.Payload)
	require.Equal(1, c.Expected())
}

func TestCursor_ChecksumMismatch(t *testing.T) {
	require := require.New(t)

	var c Cursor
	c.Reset(7)

	bad := fmt.Sprintf("N7 G1 X10*%d", Checksum("G1 X10")^0x01)
	res := c.Parse(bad)
	require.Equal(Resend, res.Kind)
	require.Equal("Error:checksum mismatch, Last Line: 6\nResend: 7\n", res.Response)
	require.ErrorIs(res.Err, ErrChecksumMismatch)
	require.Empty(res.Payload)
	require.Equal(7, c.Expected())
}

func TestCursor_LineNumberMismatch(t *testing.T) {
	require := require.New(t)

	var c Cursor
	c.Reset(2)

	res := c.Parse(Encode(5, "M105"))
	require.Equal(Resend, res.Kind)
	require.ErrorIs(res.Err, ErrLineNumberMismatch)
	require.Equal(FormatResend(2), res.Response)
	require.Equal(2, c.Expected())
}

func TestCursor_Malformed(t *testing.T) {
	require := require.New(t)

	var c Cursor
	for _, line := range []string{"N0 G28", "N0G28*1", "Nx G28*1", "N0 G28*zz"} {
		res := c.Parse(line)
		require.Equal(Resend, res.Kind, line)
		require.ErrorIs(res.Err, ErrMalformedLine, line)
		require.Equal(0, c.Expected())
	}
}

func TestCursor_ResetCommand(t *testing.T) {
	require := require.New(t)

	var c Cursor
	c.Reset(100)

	// bad checksum, explicit N argument
	res := c.Parse("N41 M110 N41*1")
	require.Equal(Accepted, res.Kind)
	require.Equal("M110 N41", res.Payload)
	require.Equal(42, c.Expected())

	// declared index only
	res = c.Parse("N7 M110*0")
	require.Equal(Accepted, res.Kind)
	require.Equal(8, c.Expected())

	// no checksum at all
	res = c.Parse("N3 M110")
	require.Equal(Accepted, res.Kind)
	require.Equal("M110", res.Payload)
	require.Equal(4, c.Expected())

	// corruption does not affect resets
	res = c.ParseCorrupted(Encode(0, "M110 N0"))
	require.Equal(Accepted, res.Kind)
	require.Equal(1, c.Expected())
}

func TestCursor_ParseCorrupted(t *testing.T) {
	require := require.New(t)

	var c Cursor
	res := c.ParseCorrupted(Encode(0, "G1 X1"))
	require.Equal(Resend, res.Kind)
	require.ErrorIs(res.Err, ErrChecksumMismatch)
	require.Equal(0, c.Expected())

	res = c.Parse(Encode(0, "G1 X1"))
	require.Equal(Accepted, res.Kind)
	require.Equal(1, c.Expected())
}

func TestParseResend(t *testing.T) {
	assert := assert.New(t)

	n, ok := ParseResend("Resend: 12")
	assert.True(ok)
	assert.Equal(12, n)

	n, ok = ParseResend("rs 3\n")
	assert.True(ok)
	assert.Equal(3, n)

	_, ok = ParseResend("ok")
	assert.False(ok)

	_, ok = ParseResend("Resend: x")
	assert.False(ok)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "resend", Resend.String())
	assert.Equal(t, "pass-through", PassThrough.String())
}
