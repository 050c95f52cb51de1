package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const maxLineBytes = 16 * 1024 * 1024

// Encoder writes one JSON message per line. Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode validates msg and writes it followed by a newline.
func (e *Encoder) Encode(msg *Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}

// DecodeError reports a line that could not be decoded. The stream remains
// usable; Raw holds the offending bytes for logging.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder reads newline-delimited messages.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Decode returns the next message. Blank lines are skipped. A malformed or
// invalid line yields a *DecodeError and decoding may continue; io.EOF is
// returned when the stream ends.
func (d *Decoder) Decode() (*Message, error) {
	for {
		line, err := d.readLine()
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}

		var msg Message
		if uerr := json.Unmarshal(line, &msg); uerr != nil {
			return nil, &DecodeError{Raw: line, Err: uerr}
		}
		if verr := msg.Validate(); verr != nil {
			return nil, &DecodeError{Raw: line, Err: verr}
		}
		return &msg, nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return nil, fmt.Errorf("message exceeds %d bytes", maxLineBytes)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return bytes.TrimSpace(buf), err
	}
}
