package toolmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicobailon/surf-cli/pkg/protocol"
)

func TestMapUnsupported(t *testing.T) {
	inst := Map("upload_file", nil)
	assert.Equal(t, protocol.KindUnsupported, inst.Kind)
	assert.Contains(t, inst.Reason, "user gesture")
}

func TestMapLocalWait(t *testing.T) {
	inst := Map("wait", map[string]any{"duration": float64(250)})
	assert.Equal(t, protocol.KindLocalWait, inst.Kind)
	assert.Equal(t, 250*time.Millisecond, inst.Wait)

	inst = Map("wait", nil)
	assert.Equal(t, time.Second, inst.Wait, "missing duration defaults to 1s")
}

func TestMapAIVariants(t *testing.T) {
	inst := Map("analyze", map[string]any{"query": "what is this page"})
	require.Equal(t, protocol.KindAIRequest, inst.Kind)
	require.NotNil(t, inst.AI)
	assert.Equal(t, "openai", inst.AI.Backend)
	assert.True(t, inst.AI.IncludeContext, "analyze fetches context by default")

	inst = Map("query", map[string]any{"query": "2+2", "backend": "Perplexity"})
	require.Equal(t, protocol.KindAIRequest, inst.Kind)
	assert.Equal(t, "perplexity", inst.AI.Backend)
	assert.False(t, inst.AI.IncludeContext, "plain query skips context by default")
}

func TestMapKeyRepeat(t *testing.T) {
	inst := Map("key_repeat", map[string]any{"key": "ArrowDown", "count": float64(5)})
	assert.Equal(t, protocol.KindKeyRepeat, inst.Kind)
	assert.Equal(t, "ArrowDown", inst.Key)
	assert.Equal(t, 5, inst.Count)
}

func TestMapResolveTarget(t *testing.T) {
	inst := Map("switch_tab", map[string]any{"name": "GitHub"})
	assert.Equal(t, protocol.KindResolveTarget, inst.Kind)
	assert.Equal(t, "switch_tab", inst.Action)
	assert.Equal(t, "GitHub", inst.TargetName)

	// Id-addressed variants forward directly.
	inst = Map("switch_tab", map[string]any{"tabId": float64(12)})
	assert.Equal(t, protocol.KindForward, inst.Kind)
	assert.Equal(t, 12, inst.Hints.TabID)
}

func TestMapForwardExtractsHints(t *testing.T) {
	inst := Map("screenshot", map[string]any{
		"savePath":       "/tmp/shot.png",
		"fullResolution": true,
		"maxDimension":   float64(800),
	})
	assert.Equal(t, protocol.KindForward, inst.Kind)
	assert.Equal(t, "screenshot", inst.Action)
	assert.Equal(t, "/tmp/shot.png", inst.Hints.SavePath)
	assert.True(t, inst.Hints.FullResolution)
	assert.Equal(t, 800, inst.Hints.MaxDimension)
}

func TestMapStepTable(t *testing.T) {
	tests := []struct {
		kind       string
		wantAction string
	}{
		{"click", "mouse_click"},
		{"type", "type_text"},
		{"key", "press_key"},
		{"scroll", "scroll"},
		{"screenshot", "screenshot"},
		{"navigate", "navigate"},
		{"hover", "hover"}, // unrecognized kinds pass through
	}
	for _, tt := range tests {
		inst := MapStep(protocol.BatchStep{Kind: tt.kind})
		assert.Equal(t, protocol.KindForward, inst.Kind, "kind %q", tt.kind)
		assert.Equal(t, tt.wantAction, inst.Action, "kind %q", tt.kind)
	}
}

func TestMapStepClickDefaultsLeftButton(t *testing.T) {
	inst := MapStep(protocol.BatchStep{Kind: "click", Args: map[string]any{"selector": "#go"}})
	assert.Equal(t, "left", inst.Params["button"])
	assert.Equal(t, "#go", inst.Params["selector"])

	inst = MapStep(protocol.BatchStep{Kind: "click", Args: map[string]any{"button": "right"}})
	assert.Equal(t, "right", inst.Params["button"], "explicit button preserved")
}

func TestMapStepWaitIsLocal(t *testing.T) {
	inst := MapStep(protocol.BatchStep{Kind: "wait", Args: map[string]any{"duration": float64(1000)}})
	assert.Equal(t, protocol.KindLocalWait, inst.Kind)
	assert.Equal(t, time.Second, inst.Wait)
}

func TestParseStepsFlatShape(t *testing.T) {
	inst := Map("batch", map[string]any{"actions": []any{
		map[string]any{"kind": "click", "selector": "#a"},
		map[string]any{"kind": "wait", "duration": float64(100)},
	}})
	require.Equal(t, protocol.KindBatch, inst.Kind)
	require.Len(t, inst.Steps, 2)
	assert.Equal(t, "click", inst.Steps[0].Kind)
	assert.Equal(t, "#a", inst.Steps[0].Args["selector"])
}
