package lineproto

import (
	"fmt"
	"strings"
)

// Cursor tracks the next expected line index on the device side.
//
// Cursor is not safe for concurrent use; the emulator owns it from its single drain loop.
type Cursor struct {
	expected int
	received int
}

// Expected returns the next line index the device expects.
func (c *Cursor) Expected() int { return c.expected }

// Received returns the number of numbered lines parsed so far, valid or not.
func (c *Cursor) Received() int { return c.received }

// Reset sets the next expected index to next.
func (c *Cursor) Reset(next int) {
	c.expected = next
}

// Parse validates one inbound line against the cursor.
//
// Lines without an N prefix are returned as PassThrough and leave the cursor untouched.
// A numbered line with a matching index and checksum advances the cursor by one and
// returns its body as the Accepted payload. Any line containing M110 is accepted and
// resets the cursor. Anything else produces a Resend result and the cursor does not move.
func (c *Cursor) Parse(line string) Result {
	return c.parse(line, false)
}

// ParseCorrupted parses line as if its checksum had been damaged in transit.
// Reset lines are still accepted.
func (c *Cursor) ParseCorrupted(line string) Result {
	return c.parse(line, true)
}

func (c *Cursor) parse(line string, corrupt bool) Result {
	line = strings.TrimRight(line, "\r\n")
	if !IsNumbered(line) {
		return Result{Kind: PassThrough, Payload: line}
	}

	c.received++

	index, body, wireCS, err := split(line)
	if strings.Contains(line, ResetCommand) {
		if err != nil {
			index, body = looseSplit(line)
		}
		c.expected = resetTarget(body, index)

		return Result{Kind: Accepted, Payload: body}
	}

	if err == nil && corrupt {
		wireCS = int(Checksum(body)) ^ 0xFF
	}

	switch {
	case err != nil:
	case int(Checksum(body)) != wireCS:
		err = fmt.Errorf("%w: line %d wire=%d computed=%d", ErrChecksumMismatch, index, wireCS, Checksum(body))
	case index != c.expected:
		err = fmt.Errorf("%w: got %d, want %d", ErrLineNumberMismatch, index, c.expected)
	default:
		c.expected++
		return Result{Kind: Accepted, Payload: body}
	}

	return Result{Kind: Resend, Response: FormatResend(c.expected), Err: err}
}
