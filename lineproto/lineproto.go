package lineproto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-gcodelink/internal/util"
)

// Sentinel errors reported through Result.Err.
var (
	ErrChecksumMismatch   = errors.New("lineproto: checksum mismatch")
	ErrLineNumberMismatch = errors.New("lineproto: line number mismatch")
	ErrMalformedLine      = errors.New("lineproto: malformed numbered line")
)

// ResetCommand is the "set line number" command that bypasses validation.
const ResetCommand = "M110"

// Kind is the outcome of parsing one inbound line.
type Kind uint8

const (
	// PassThrough means the line carried no line number and was returned unchanged.
	PassThrough Kind = iota
	// Accepted means the line was numbered, valid, and the cursor advanced.
	Accepted
	// Resend means the line was rejected and must be retransmitted.
	Resend
)

func (k Kind) String() string {
	switch k {
	case PassThrough:
		return "pass-through"
	case Accepted:
		return "accepted"
	case Resend:
		return "resend"
	default:
		return "unknown"
	}
}

// Result is the outcome of Cursor.Parse.
type Result struct {
	Kind Kind
	// Payload is the command to execute. Empty for Resend.
	Payload string
	// Response is the resend response for Resend, empty otherwise.
	Response string
	// Err describes why a line was rejected.
	Err error
}

// Checksum returns the XOR-fold of all bytes in line.
func Checksum(line string) byte {
	var cs byte
	for i := 0; i < len(line); i++ {
		cs ^= line[i]
	}

	return cs
}

// Encode formats body as a numbered, checksummed line without a trailing newline.
func Encode(index int, body string) string {
	body = strings.TrimSpace(body)
	return fmt.Sprintf("N%d %s*%d", index, body, Checksum(body))
}

// FormatResend returns the device response that requests retransmission from expected.
func FormatResend(expected int) string {
	return fmt.Sprintf("Error:checksum mismatch, Last Line: %d\nResend: %d\n", expected-1, expected)
}

// ParseResend extracts the requested line number from a "Resend: <n>" or "rs <n>" response line.
func ParseResend(line string) (int, bool) {
	line = strings.TrimSpace(line)

	var rest string
	switch {
	case strings.HasPrefix(line, "Resend:"):
		rest = strings.TrimPrefix(line, "Resend:")
	case strings.HasPrefix(line, "rs "):
		rest = strings.TrimPrefix(line, "rs ")
	default:
		return 0, false
	}

	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}

	return n, true
}

// IsNumbered reports whether line carries a line number prefix.
func IsNumbered(line string) bool {
	return strings.HasPrefix(line, "N")
}

// split breaks a numbered line into its declared index, body and wire checksum.
func split(line string) (index int, body string, wireCS int, err error) {
	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return 0, "", 0, fmt.Errorf("%w: missing checksum in %q", ErrMalformedLine, line)
	}

	head := line[:star]
	space := strings.IndexByte(head, ' ')
	if space < 0 {
		return 0, "", 0, fmt.Errorf("%w: missing body in %q", ErrMalformedLine, line)
	}

	index, err = strconv.Atoi(head[1:space])
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: bad line number in %q", ErrMalformedLine, line)
	}

	body = strings.TrimSuffix(head[space+1:], " ")

	wireCS, err = strconv.Atoi(strings.TrimSpace(line[star+1:]))
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: bad checksum in %q", ErrMalformedLine, line)
	}

	return index, body, wireCS, nil
}

// resetTarget returns the expected index after an M110 line.
// An explicit N argument in body wins over the declared line index.
func resetTarget(body string, declared int) int {
	if idx := strings.Index(body, ResetCommand); idx >= 0 {
		if n, ok := util.FirstNumberAfter("N", body[idx+len(ResetCommand):]); ok {
			return int(n) + 1
		}
	}

	return declared + 1
}

// looseSplit extracts index and body from a numbered line that failed strict parsing.
func looseSplit(line string) (int, string) {
	if star := strings.LastIndexByte(line, '*'); star >= 0 {
		line = line[:star]
	}
	head, body, _ := strings.Cut(line, " ")
	index, _ := strconv.Atoi(strings.TrimPrefix(head, "N"))

	return index, strings.TrimSpace(body)
}
