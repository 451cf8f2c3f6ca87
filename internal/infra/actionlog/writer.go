// Package actionlog writes the append-only log of dispatched actions.
package actionlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"trafficwarden/internal/domain/entity"
)

// exemptMarker tags lines for verified crawlers that were not enforced.
const exemptMarker = " [exempt]"

// Writer buffers action lines and writes them out on Flush.
type Writer struct {
	mu      sync.Mutex
	w       *bufio.Writer
	closer  io.Closer
	pending int
}

// Open opens path for appending, creating it with mode 0640 if needed.
func Open(path string) (*Writer, error) {
	// #nosec G304 -- path comes from operator settings
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("actionlog: open %s: %w", path, err)
	}
	return &Writer{w: bufio.NewWriter(f), closer: f}, nil
}

// Append buffers one line for v:
//
//	[<unix>] <ip> USED <bytes> IN <window> (> <threshold>, <ratio> times) <ACTION>(<cap>)
func (l *Writer) Append(v entity.Violation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := Format(v)
	if _, err := l.w.WriteString(line); err != nil {
		return fmt.Errorf("actionlog: write: %w", err)
	}
	l.pending++
	return nil
}

// Flush writes buffered lines, if any.
func (l *Writer) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending == 0 {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("actionlog: flush: %w", err)
	}
	l.pending = 0
	return nil
}

// Close flushes and closes the underlying file.
func (l *Writer) Close() error {
	err := l.Flush()
	if l.closer != nil {
		if cerr := l.closer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("actionlog: close: %w", cerr)
		}
	}
	return err
}

// Format renders the log line for v, newline included.
func Format(v entity.Violation) string {
	line := fmt.Sprintf("[%d] %s USED %d IN %d (> %d, %.2f times) %s(%d)",
		v.At.Unix(), v.ClientIP, v.UsedBytes, v.WindowSeconds,
		v.Rule.ThresholdBytes, v.Ratio(), v.Rule.Action, v.Rule.CapBytesPerSec)
	if v.Exempt {
		line += exemptMarker
	}
	return line + "\n"
}
