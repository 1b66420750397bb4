package status

import (
	"fmt"
	"sync"
	"time"
)

// Line is one entry of the status log. Seq starts at 0 and increases by one
// per append.
type Line struct {
	Seq  int       `json:"seq"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Reporter is the write side of the status log handed to core components.
type Reporter interface {
	Append(text string)
	Appendf(format string, args ...any)
}

// Sink is the append-only, ordered log of human-readable progress and error
// lines. It is safe for concurrent use: appends are serialized and every
// subscriber sees lines in append order.
type Sink struct {
	mu    sync.Mutex
	lines []Line
	subs  []func(Line)
}

// NewSink creates an empty status log.
func NewSink() *Sink {
	return &Sink{}
}

// Append records a line and hands it to every subscriber before returning.
// Subscribers run under the sink lock so delivery order equals append order;
// they must not call back into the sink.
func (s *Sink) Append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := Line{Seq: len(s.lines), Time: time.Now(), Text: text}
	s.lines = append(s.lines, l)
	for _, fn := range s.subs {
		fn(l)
	}
}

// Appendf formats according to a format specifier and appends the result.
func (s *Sink) Appendf(format string, args ...any) {
	s.Append(fmt.Sprintf(format, args...))
}

// Subscribe registers fn for every line appended from now on.
func (s *Sink) Subscribe(fn func(Line)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Since returns a copy of the lines whose sequence number is >= seq.
func (s *Sink) Since(seq int) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < 0 {
		seq = 0
	}
	if seq >= len(s.lines) {
		return []Line{}
	}
	out := make([]Line, len(s.lines)-seq)
	copy(out, s.lines[seq:])
	return out
}

// Lines returns the text of every line in append order.
func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.Text
	}
	return out
}

// Len returns the number of lines appended so far.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}
