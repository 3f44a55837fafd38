// Package lineproto implements the numbered, checksummed G-code line protocol used
// between a host and 3D printer firmware.
//
// A numbered line has the wire form
//
//	N<index> <body>*<checksum>
//
// where checksum is the XOR-fold of the bytes of body. A device keeps a [Cursor]
// holding the next expected index; lines with a wrong index or checksum are rejected
// with a resend request naming the expected index:
//
//	Error:checksum mismatch, Last Line: <expected-1>
//	Resend: <expected>
//
// Lines containing the M110 "set line number" command are always accepted and reset
// the cursor. Lines without an N prefix bypass validation entirely.
package lineproto
