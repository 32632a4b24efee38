package parser

import (
	"bufio"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// lineReader reads JSONL files line by line, skipping lines that
// exceed maxLen rather than aborting. The buffer starts small and
// grows on demand up to maxLen; once a line crosses the cap the rest
// of it is discarded chunk by chunk until the next newline.
type lineReader struct {
	r        *bufio.Reader
	maxLen   int
	buf      []byte
	err      error
	oversize int
}

func newLineReader(r io.Reader, maxLen int) *lineReader {
	return &lineReader{
		r:      bufio.NewReaderSize(r, initialScanBufSize),
		maxLen: maxLen,
		buf:    make([]byte, 0, min(maxLen, initialScanBufSize)),
	}
}

// next returns the next non-blank line (without trailing newline)
// and true, or ("", false) at EOF or on a read error.
func (lr *lineReader) next() (string, bool) {
	for {
		line, err := lr.readLine()
		if err != nil {
			if err != io.EOF {
				lr.err = err
			}
			return "", false
		}
		if line != "" {
			return line, true
		}
	}
}

// Err returns the first non-EOF read error.
func (lr *lineReader) Err() error {
	return lr.err
}

// Oversized returns how many lines were dropped for exceeding the
// byte cap.
func (lr *lineReader) Oversized() int {
	return lr.oversize
}

// readLine reads a full line, returning "" for blank/oversized
// lines and a non-nil error only at EOF or read failure.
func (lr *lineReader) readLine() (string, error) {
	lr.buf = lr.buf[:0]
	oversized := false

	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			if len(lr.buf) > 0 && err == io.EOF {
				break
			}
			if oversized && err == io.EOF {
				return "", nil
			}
			return "", err
		}
		if oversized {
			if !isPrefix {
				return "", nil
			}
			continue
		}

		if len(lr.buf)+len(chunk) > lr.maxLen {
			oversized = true
			lr.oversize++
			lr.buf = lr.buf[:0]
			if !isPrefix {
				return "", nil
			}
			continue
		}
		lr.buf = append(lr.buf, chunk...)

		if !isPrefix {
			break
		}
	}

	return string(lr.buf), nil
}

// lookback keeps the first n bytes of the raw stream, so markers
// written early in a log survive however much follows them.
type lookback struct {
	n   int
	buf []byte
}

func newLookback(n int) *lookback {
	return &lookback{n: n}
}

func (l *lookback) add(s string) {
	room := l.n - len(l.buf)
	if room <= 0 {
		return
	}
	if len(s) >= room {
		l.buf = append(l.buf, s[:room]...)
		return
	}
	l.buf = append(l.buf, s...)
	l.buf = append(l.buf, '\n')
}

// full reports whether the window has stopped accepting bytes.
func (l *lookback) full() bool {
	return len(l.buf) >= l.n
}

func (l *lookback) String() string {
	return string(l.buf)
}

// scanJSONL feeds each line of a JSONL log to fn until fn returns
// false or the line cap is hit. Every line, decodable or not, is
// passed to raw first when raw is non-nil. Lines that are not valid
// JSON and lines over the byte cap are counted in d.SkippedLines.
func scanJSONL(
	path string, opts Options, d *Details,
	raw func(string), fn func(string) bool,
) error {
	f, err := openLog(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lr := newLineReader(f, opts.maxLineBytes())
	limit := opts.maxLines()
	n := 0
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if n == limit {
			d.Truncated = true
			break
		}
		n++
		if raw != nil {
			raw(line)
		}
		if !gjson.Valid(line) {
			d.SkippedLines++
			continue
		}
		if !fn(line) {
			break
		}
	}
	d.SkippedLines += lr.Oversized()
	if err := lr.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
