package stream

import (
	"strings"

	"github.com/arloliu/go-gcodelink/internal/queue"
)

// QueuedCommands splices operator and macro lines ahead of its inner source.
//
// Queued lines always have priority: the inner source is only read once the queue is
// empty. Macro variables are expanded when a line leaves the queue.
type QueuedCommands struct {
	inner  LineSource
	macros MacroReplacer
	queue  *queue.Deque[string]
}

var _ LineSource = (*QueuedCommands)(nil)

// NewQueuedCommands returns a stage over inner. A nil macros disables expansion.
func NewQueuedCommands(inner LineSource, macros MacroReplacer) *QueuedCommands {
	if macros == nil {
		macros = noMacros{}
	}

	return &QueuedCommands{
		inner:  inner,
		macros: macros,
		queue:  queue.NewDeque[string](16),
	}
}

// Add queues line. A multi-line string is queued as separate lines in order.
// With atFront the lines run before anything already queued.
func (q *QueuedCommands) Add(line string, atFront bool) {
	lines := splitLines(line)
	if atFront {
		q.queue.EnqueueFront(lines...)
	} else {
		q.queue.Enqueue(lines...)
	}
}

// NextLine implements LineSource.
func (q *QueuedCommands) NextLine() (string, bool) {
	if line, ok := q.queue.Dequeue(); ok {
		return q.macros.ReplaceMacros(line), true
	}

	return q.inner.NextLine()
}

// Len returns the number of queued lines.
func (q *QueuedCommands) Len() int {
	return q.queue.Length()
}

// Cancel drops every queued line.
func (q *QueuedCommands) Cancel() {
	q.Reset()
}

// Reset empties the queue.
func (q *QueuedCommands) Reset() {
	q.queue.Reset()
}

// Wait returns a channel that receives after lines are added.
func (q *QueuedCommands) Wait() <-chan struct{} {
	return q.queue.Wait()
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.Contains(text, "\n") {
		return []string{text}
	}

	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}
