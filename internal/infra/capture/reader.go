// Package capture reads the packet summary stream printed by the capture
// tool and launches that tool.
//
// With the required flags every packet is printed on two physical lines:
//
//	IP (tos 0x0, ttl 64, id 46394, offset 0, flags [DF], proto TCP (6), length 1492)
//	    10.205.15.60.80 > 80.102.204.74.1155: tcp 1452
//
// The two lines are joined into one record; the byte length and the
// destination (client) IPv4 address are extracted from it.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// maxLine bounds a single physical line of capture output.
const maxLine = 4096

var (
	// ErrEmptyLine reports a blank line where a record was expected. The
	// stream framing can no longer be trusted.
	ErrEmptyLine = errors.New("capture stream returned an empty line")

	// ErrNoMatch reports a record that does not carry a length and client address.
	ErrNoMatch = errors.New("capture record does not match")
)

var recordRe = regexp.MustCompile(`length ([0-9]+).*> ([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+)`)

// Record is one parsed packet summary.
type Record struct {
	Length   int
	ClientIP string
}

// Reader frames and parses the capture stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLine), maxLine)
	return &Reader{scanner: scanner}
}

// Next returns the next record.
//
// io.EOF means the stream ended. ErrEmptyLine is fatal. A *ParseError
// wrapping ErrNoMatch means one record was unusable and may be skipped.
func (r *Reader) Next() (Record, error) {
	first, err := r.line()
	if err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(first) == "" {
		return Record{}, ErrEmptyLine
	}

	// a truncated final record is still parsed on its own
	second, err := r.line()
	if err != nil && !errors.Is(err, io.EOF) {
		return Record{}, err
	}

	return Parse(first + " " + strings.TrimSpace(second))
}

func (r *Reader) line() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", fmt.Errorf("capture: read: %w", err)
	}
	return "", io.EOF
}

// ParseError carries the record text that failed to parse.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse extracts the byte length and client address from one joined record.
func Parse(record string) (Record, error) {
	m := recordRe.FindStringSubmatch(record)
	if m == nil {
		return Record{}, &ParseError{Text: record, Err: ErrNoMatch}
	}
	length, err := strconv.Atoi(m[1])
	if err != nil {
		return Record{}, &ParseError{Text: record, Err: fmt.Errorf("%w: length: %v", ErrNoMatch, err)}
	}
	return Record{Length: length, ClientIP: m[2]}, nil
}
