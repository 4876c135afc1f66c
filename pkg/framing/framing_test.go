package framing

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeToBytes(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(v))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  map[string]any
	}{
		{"empty object", map[string]any{}},
		{"simple", map[string]any{"type": "ping", "id": "abc-1"}},
		{"nested", map[string]any{
			"type": "tool",
			"args": map[string]any{"url": "https://example.com", "count": float64(3)},
		}},
		{"large payload", map[string]any{"data": strings.Repeat("x", 3<<20)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := encodeToBytes(t, tt.msg)

			frames, err := NewDecoder().Feed(raw)
			require.NoError(t, err)
			require.Len(t, frames, 1)

			var got map[string]any
			require.NoError(t, json.Unmarshal(frames[0], &got))
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestDecoderSplitChunks(t *testing.T) {
	raw := encodeToBytes(t, map[string]any{"type": "reply", "id": float64(7)})

	dec := NewDecoder()
	// Feed one byte at a time; no frame may surface until the last byte.
	for i := 0; i < len(raw)-1; i++ {
		frames, err := dec.Feed(raw[i : i+1])
		require.NoError(t, err)
		assert.Empty(t, frames)
	}
	frames, err := dec.Feed(raw[len(raw)-1:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 0, dec.Pending())
}

func TestDecoderMultipleFramesOneChunk(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(map[string]any{"id": float64(1)}))
	require.NoError(t, enc.Encode(map[string]any{"id": float64(2)}))
	require.NoError(t, enc.Encode(map[string]any{"id": float64(3)}))

	frames, err := NewDecoder().Feed(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, frames, 3)

	for i, f := range frames {
		var got map[string]float64
		require.NoError(t, json.Unmarshal(f, &got))
		assert.Equal(t, float64(i+1), got["id"])
	}
}

func TestDecoderExcessBytesCarryOver(t *testing.T) {
	first := encodeToBytes(t, map[string]any{"id": float64(1)})
	second := encodeToBytes(t, map[string]any{"id": float64(2)})

	dec := NewDecoder()
	// First chunk: the whole first frame plus half of the second.
	split := len(first) + len(second)/2
	combined := append(append([]byte{}, first...), second...)

	frames, err := dec.Feed(combined[:split])
	require.NoError(t, err)
	require.Len(t, frames, 1)

	frames, err = dec.Feed(combined[split:])
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.Equal(t, float64(2), got["id"])
}

func TestDecoderZeroLengthFrame(t *testing.T) {
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, 0)

	frames, err := NewDecoder().Feed(header)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0])
}

func TestDecoderOversizedFrameRejected(t *testing.T) {
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, MaxFrameSize+1)

	_, err := NewDecoder().Feed(header)
	assert.Error(t, err)
}

func TestReadLoopSkipsMalformedFrame(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(map[string]any{"id": float64(1)}))

	// Hand-build a frame whose payload is not valid JSON.
	garbage := []byte("{not json")
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(garbage)))
	buf.Write(header)
	buf.Write(garbage)

	require.NoError(t, enc.Encode(map[string]any{"id": float64(2)}))

	var ids []float64
	var dropped int
	err := ReadLoop(&buf, func(raw json.RawMessage) {
		var got map[string]float64
		require.NoError(t, json.Unmarshal(raw, &got))
		ids = append(ids, got["id"])
	}, func(error) { dropped++ })

	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, ids)
	assert.Equal(t, 1, dropped)
}
