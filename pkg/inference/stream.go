package inference

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// defaultMaxLineBytes bounds a single NDJSON line when Config.MaxLineBytes is 0.
const defaultMaxLineBytes = 1 << 20

// StreamReader decodes an NDJSON generate stream.
//
// It buffers partial lines across network reads, drops blank lines and
// stops after the first fragment with done=true. A StreamReader is not safe
// for concurrent use and cannot be restarted.
type StreamReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger

	fragments int
	skipped   int
	finished  bool

	closeOnce sync.Once
}

// NewStreamReader wraps body. maxLine caps the length of one line; 0 selects
// the default of 1 MiB.
func NewStreamReader(body io.ReadCloser, maxLine int) *StreamReader {
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}

	initial := 4096
	if maxLine < initial {
		initial = maxLine
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, initial), maxLine)
	scanner.Split(scanLinesKeepNewline)

	return &StreamReader{
		body:    body,
		scanner: scanner,
		logger:  slog.Default().With("component", "inference.stream"),
	}
}

// NextRaw returns the next non-blank line exactly as received, along with
// its decoded form. frag is nil when the line is not valid JSON; the caller
// decides whether to forward such lines. io.EOF is returned after the done
// fragment or when the backend closes the body cleanly. Any other error is
// a *StreamError and ends the stream.
func (s *StreamReader) NextRaw(ctx context.Context) (raw []byte, frag *Fragment, err error) {
	if s.finished {
		return nil, nil, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			s.finished = true
			return nil, nil, &StreamError{Fragments: s.fragments, Cause: err}
		}

		if !s.scanner.Scan() {
			s.finished = true
			if scanErr := s.scanner.Err(); scanErr != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					scanErr = ctxErr
				}
				return nil, nil, &StreamError{Fragments: s.fragments, Cause: scanErr}
			}
			return nil, nil, io.EOF
		}

		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		// Scanner reuses its buffer between calls.
		raw = make([]byte, len(line))
		copy(raw, line)

		frag, decodeErr := decodeFragment(raw)
		if decodeErr != nil {
			s.skipped++
			s.logger.Warn("skipping malformed stream line",
				"error", decodeErr,
				"line", truncate(string(bytes.TrimSpace(raw)), 200),
				"after_fragments", s.fragments,
			)
			return raw, nil, nil
		}

		frag.Raw = raw
		frag.Index = s.fragments
		s.fragments++
		if frag.Done {
			s.finished = true
		}
		return raw, frag, nil
	}
}

// Next returns the next decoded fragment, skipping malformed lines.
func (s *StreamReader) Next(ctx context.Context) (*Fragment, error) {
	for {
		_, frag, err := s.NextRaw(ctx)
		if err != nil {
			return nil, err
		}
		if frag != nil {
			return frag, nil
		}
	}
}

// Fragments returns how many fragments decoded so far.
func (s *StreamReader) Fragments() int {
	return s.fragments
}

// Skipped returns how many malformed lines were dropped.
func (s *StreamReader) Skipped() int {
	return s.skipped
}

// Close releases the response body. It is safe to call more than once.
func (s *StreamReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.finished = true
		err = s.body.Close()
	})
	return err
}

// scanLinesKeepNewline is bufio.ScanLines without stripping the terminator,
// so forwarded lines stay byte-identical to what the backend sent.
func scanLinesKeepNewline(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
