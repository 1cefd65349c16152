// Package report renders live output and final summaries for cluster-wide
// command runs.
package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"sync"

	"charm.land/lipgloss/v2"
)

// Host prefixes cycle through these so neighboring ranks are easy to tell
// apart in interleaved output.
var prefixColors = []color.Color{
	lipgloss.Color("#00E5FF"),
	lipgloss.Color("#04B575"),
	lipgloss.Color("#FDFF90"),
	lipgloss.Color("#FF79C6"),
	lipgloss.Color("#BD93F9"),
	lipgloss.Color("#FFB86C"),
}

// Stream multiplexes live output from many hosts onto one terminal. Each
// host gets a line-buffered writer that prefixes complete lines with the
// host name, so concurrent tasks never interleave mid-line.
type Stream struct {
	mu    sync.Mutex
	out   io.Writer
	color bool

	writers map[string]*hostWriter
	next    int
}

// NewStream creates a Stream writing to out.
func NewStream(out io.Writer, color bool) *Stream {
	return &Stream{
		out:     out,
		color:   color,
		writers: make(map[string]*hostWriter),
	}
}

// HostWriter returns the writer for one host's output. Calling it twice for
// the same host returns the same writer.
func (s *Stream) HostWriter(host string) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.writers[host]; ok {
		return w
	}

	prefix := fmt.Sprintf("[%s] ", host)
	if s.color {
		style := lipgloss.NewStyle().Foreground(prefixColors[s.next%len(prefixColors)])
		prefix = style.Render(fmt.Sprintf("[%s]", host)) + " "
		s.next++
	}

	w := &hostWriter{stream: s, prefix: prefix}
	s.writers[host] = w
	return w
}

// Flush writes out any buffered partial lines, terminating each with a
// newline. Call it once after the fan-out completes.
func (s *Stream) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.writers {
		if w.buf.Len() > 0 {
			fmt.Fprintf(s.out, "%s%s\n", w.prefix, w.buf.String())
			w.buf.Reset()
		}
	}
}

type hostWriter struct {
	stream *Stream
	prefix string
	buf    bytes.Buffer
}

// Write buffers partial lines and emits complete ones under the stream
// lock, one prefixed line per write to the underlying terminal.
func (w *hostWriter) Write(p []byte) (int, error) {
	w.stream.mu.Lock()
	defer w.stream.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.buf.Next(idx + 1)
		if _, err := fmt.Fprintf(w.stream.out, "%s%s", w.prefix, line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}
