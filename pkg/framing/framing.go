// Package framing implements the length-prefixed message framing used on
// the channel between the broker and the browser extension process.
//
// Each frame is a 4-byte little-endian payload length followed by a JSON
// payload, matching the native messaging format browsers speak on a
// host's stdin/stdout.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single frame's payload. Frames beyond this are
// treated as a corrupted channel rather than buffered indefinitely.
const MaxFrameSize = 64 << 20

const headerSize = 4

// Encoder serializes messages onto an output stream, one frame per
// message. Writes are serialized so concurrent senders cannot interleave
// header and payload bytes.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing frames to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v as JSON and writes it as a single frame.
func (e *Encoder) Encode(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame payload: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame payload %d bytes exceeds limit %d", len(payload), MaxFrameSize)
	}

	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decoder reassembles frames from arbitrarily chunked input. Bytes
// belonging to an incomplete frame are retained across Feed calls, and
// bytes beyond the current frame are preserved for the next one.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the internal buffer and returns the payloads of
// every frame that is now complete, in arrival order. A declared length
// above MaxFrameSize returns an error; the channel is unrecoverable at
// that point because the stream offset can no longer be trusted.
func (d *Decoder) Feed(chunk []byte) ([]json.RawMessage, error) {
	d.buf = append(d.buf, chunk...)

	var frames []json.RawMessage
	for {
		if len(d.buf) < headerSize {
			return frames, nil
		}
		n := binary.LittleEndian.Uint32(d.buf[:headerSize])
		if n > MaxFrameSize {
			return frames, fmt.Errorf("declared frame length %d exceeds limit %d", n, MaxFrameSize)
		}
		total := headerSize + int(n)
		if len(d.buf) < total {
			return frames, nil
		}

		payload := make([]byte, n)
		copy(payload, d.buf[headerSize:total])
		frames = append(frames, payload)

		// Shift remaining bytes to the front. The buffer is reused so a
		// burst of small frames does not reallocate repeatedly.
		rest := copy(d.buf, d.buf[total:])
		d.buf = d.buf[:rest]
	}
}

// Pending reports how many buffered bytes are waiting for frame
// completion.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// ReadLoop reads r until EOF, decoding frames and invoking handle for
// each payload that unmarshals into a JSON object. Malformed payloads
// are reported through onError and skipped; they do not disturb the
// offsets of subsequent frames. The returned error is nil on clean EOF.
func ReadLoop(r io.Reader, handle func(json.RawMessage), onError func(error)) error {
	dec := NewDecoder()
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			frames, ferr := dec.Feed(chunk[:n])
			for _, f := range frames {
				if !json.Valid(f) {
					if onError != nil {
						onError(fmt.Errorf("dropping malformed frame (%d bytes)", len(f)))
					}
					continue
				}
				handle(f)
			}
			if ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read peer channel: %w", err)
		}
	}
}
