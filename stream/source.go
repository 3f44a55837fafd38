package stream

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// LineSource produces G-code lines one at a time.
//
// NextLine returns ok == false once the source is exhausted. An empty line with ok ==
// true means "nothing to send right now"; consumers skip it and call again.
type LineSource interface {
	NextLine() (line string, ok bool)
}

// RecoveryState is the phase of a print recovery source.
type RecoveryState int

const (
	// RecoveryNone means no recovery is running.
	RecoveryNone RecoveryState = iota
	// RecoveryHoming means the printer is being re-homed before the resumed layer.
	RecoveryHoming
	// RecoverySkipping means already printed lines are being skipped.
	RecoverySkipping
	// PrintingToEnd means recovery has finished and the job prints normally.
	PrintingToEnd
)

// RecoveryReporter is implemented by sources that resume an interrupted print.
// Layer pauses only fire while such a source reports PrintingToEnd.
type RecoveryReporter interface {
	RecoveryState() RecoveryState
}

// pauseAllowed reports whether layer pauses may fire for lines read from src.
func pauseAllowed(src LineSource) bool {
	if rr, ok := src.(RecoveryReporter); ok {
		return rr.RecoveryState() == PrintingToEnd
	}

	return true
}

// Lines is a LineSource over a fixed slice.
type Lines struct {
	mu    sync.Mutex
	lines []string
	next  int
}

var _ LineSource = (*Lines)(nil)

// NewLines returns a source that yields lines in order.
func NewLines(lines ...string) *Lines {
	return &Lines{lines: lines}
}

// ParseLines splits text into lines and returns a source over them.
func ParseLines(text string) *Lines {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return NewLines(strings.Split(strings.TrimRight(text, "\n"), "\n")...)
}

// NextLine implements LineSource.
func (s *Lines) NextLine() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.lines) {
		return "", false
	}
	line := s.lines[s.next]
	s.next++

	return line, true
}

// Remaining returns the number of lines not yet read.
func (s *Lines) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lines) - s.next
}

// ReaderSource reads lines from an io.Reader such as a G-code file.
type ReaderSource struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	err     error
	count   int
}

var _ LineSource = (*ReaderSource)(nil)

// NewReaderSource returns a source that reads r line by line.
func NewReaderSource(r io.Reader) *ReaderSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	return &ReaderSource{scanner: scanner}
}

// NextLine implements LineSource.
func (s *ReaderSource) NextLine() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || !s.scanner.Scan() {
		if s.err == nil {
			s.err = s.scanner.Err()
		}
		return "", false
	}
	s.count++

	return strings.TrimRight(s.scanner.Text(), "\r"), true
}

// Err returns the read error that ended the source, if any.
func (s *ReaderSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// LinesRead returns how many lines were returned so far.
func (s *ReaderSource) LinesRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

// Switcher delegates to a replaceable source. It is the innermost fixed stage of a
// connection pipeline; each print job is swapped in with Switch.
type Switcher struct {
	mu  sync.RWMutex
	src LineSource
}

var (
	_ LineSource       = (*Switcher)(nil)
	_ RecoveryReporter = (*Switcher)(nil)
)

// NewSwitcher returns a switcher reading from src, which may be nil.
func NewSwitcher(src LineSource) *Switcher {
	return &Switcher{src: src}
}

// Switch replaces the current source and returns the previous one.
func (s *Switcher) Switch(src LineSource) LineSource {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.src
	s.src = src

	return prev
}

// Current returns the current source.
func (s *Switcher) Current() LineSource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.src
}

// NextLine implements LineSource. It reports exhaustion when no source is set.
func (s *Switcher) NextLine() (string, bool) {
	src := s.Current()
	if src == nil {
		return "", false
	}

	return src.NextLine()
}

// RecoveryState forwards the state of the current source.
func (s *Switcher) RecoveryState() RecoveryState {
	if rr, ok := s.Current().(RecoveryReporter); ok {
		return rr.RecoveryState()
	}

	return PrintingToEnd
}
