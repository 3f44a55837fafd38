package emulator

import (
	"io"
	"strings"
	"sync"
)

// Port exposes an Emulator as an io.ReadWriteCloser so host code can treat it like a
// serial port.
//
// Write splits the byte stream into lines and submits each complete line. Read blocks
// until a response is available and returns io.EOF once the emulator has closed and
// every queued response has been read.
type Port struct {
	emu *Emulator

	writeMu sync.Mutex
	partial strings.Builder

	readMu   sync.Mutex
	leftover string
}

var _ io.ReadWriteCloser = (*Port)(nil)

// NewPort opens emu if needed and returns a port over it.
func NewPort(emu *Emulator) (*Port, error) {
	if emu.State() == ClosedState {
		if err := emu.Open(); err != nil {
			return nil, err
		}
	}

	return &Port{emu: emu}, nil
}

// Emulator returns the emulator behind the port.
func (p *Port) Emulator() *Emulator {
	return p.emu
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	if p.emu.shuttingDown.Load() {
		return 0, ErrClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.partial.Write(b)
	buf := p.partial.String()

	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		p.emu.Submit(strings.TrimRight(buf[:idx], "\r"))
		buf = buf[idx+1:]
	}

	p.partial.Reset()
	p.partial.WriteString(buf)

	return len(b), nil
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.readMu.Lock()
	defer p.readMu.Unlock()

	for p.leftover == "" {
		if p.emu.HasResponse() {
			p.leftover = p.emu.TakeResponse()
			continue
		}

		select {
		case <-p.emu.Responses():
		case <-p.emu.Done():
			if !p.emu.HasResponse() {
				return 0, io.EOF
			}
		}
	}

	n := copy(b, p.leftover)
	p.leftover = p.leftover[n:]

	return n, nil
}

// SetDTR forwards the DTR line to the emulator.
func (p *Port) SetDTR(dtr bool) error {
	p.emu.SetDTR(dtr)
	return nil
}

// Close shuts the emulator down and waits for it to stop.
func (p *Port) Close() error {
	return p.emu.Close()
}
