package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxLineSize bounds a single record.
const DefaultMaxLineSize = 1 << 20

// Reader splits a stream into records and decodes them.
type Reader struct {
	br      *bufio.Reader
	maxLine int
}

// NewReader creates a record reader over r.
func NewReader(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &Reader{br: bufio.NewReader(r), maxLine: maxLine}
}

// Next returns the next decoded message. A *DecodeError means the record
// was discarded and reading may continue; any other error is a stream
// failure (io.EOF on peer close).
func (r *Reader) Next() (Message, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
}

// readLine reads up to the next newline. Overlong lines are consumed and
// reported as a DecodeError so that the stream stays aligned.
func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	tooLong := false

	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > r.maxLine {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 && !tooLong {
				return bytes.TrimSpace(line), nil
			}
			return nil, err
		}
		break
	}

	if tooLong {
		return nil, &DecodeError{Record: "", Err: ErrLineTooLong}
	}
	return bytes.TrimSpace(line), nil
}
