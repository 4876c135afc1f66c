// Package toolmap translates high-level tool names and arguments from
// CLI clients into peer-bound instructions. The broker core treats the
// mapper as an opaque collaborator: it dispatches on the returned
// instruction kind and never interprets tool semantics itself.
package toolmap

import (
	"strings"
	"time"

	"github.com/nicobailon/surf-cli/pkg/protocol"
)

// Mapper translates a tool request into a peer-bound instruction.
type Mapper func(tool string, args map[string]any) protocol.Instruction

// Tools that exist in the CLI surface but cannot be driven through the
// extension. The reason text is surfaced to the client verbatim.
var unsupported = map[string]string{
	"upload_file":   "file uploads require a user gesture and cannot be automated through the extension",
	"print_page":    "printing is not available through the extension debugger session",
	"open_devtools": "devtools cannot be opened while the debugger is attached",
}

// AI-capable tools and their context behavior.
const (
	toolAnalyze = "analyze"
	toolQuery   = "query"
)

// Map is the default tool-instruction mapper.
func Map(tool string, args map[string]any) protocol.Instruction {
	if reason, ok := unsupported[tool]; ok {
		return protocol.Instruction{Kind: protocol.KindUnsupported, Reason: reason}
	}

	switch tool {
	case "wait":
		return protocol.Instruction{
			Kind: protocol.KindLocalWait,
			Wait: time.Duration(argInt(args, "duration", 1000)) * time.Millisecond,
		}

	case "batch":
		return protocol.Instruction{
			Kind:  protocol.KindBatch,
			Steps: parseSteps(args["actions"]),
		}

	case toolAnalyze, toolQuery:
		ai := &protocol.AIRequest{
			Backend: strings.ToLower(argString(args, "backend", "openai")),
			Query:   argString(args, "query", ""),
			TabID:   argInt(args, "tabId", 0),
		}
		// Page analysis always wants context; plain queries only on request.
		if tool == toolAnalyze {
			ai.IncludeContext = argBool(args, "includeContext", true)
		} else {
			ai.IncludeContext = argBool(args, "includeContext", false)
		}
		return protocol.Instruction{Kind: protocol.KindAIRequest, AI: ai}

	case "key_repeat":
		return protocol.Instruction{
			Kind:  protocol.KindKeyRepeat,
			Key:   argString(args, "key", ""),
			Count: argInt(args, "count", 1),
			Hints: protocol.ArtifactHints{TabID: argInt(args, "tabId", 0)},
		}

	case "switch_tab", "close_tab":
		if name := argString(args, "name", ""); name != "" {
			return protocol.Instruction{
				Kind:       protocol.KindResolveTarget,
				Action:     tool,
				TargetName: name,
			}
		}
	}

	return protocol.Instruction{
		Kind:     protocol.KindForward,
		Action:   tool,
		Params:   args,
		WindowID: argInt(args, "windowId", 0),
		Hints:    extractHints(args),
	}
}

// Fixed mapping from batch step kinds to tool names. Unrecognized kinds
// pass through unchanged so extension-side additions keep working.
var batchStepTools = map[string]string{
	"click":      "mouse_click",
	"type":       "type_text",
	"key":        "press_key",
	"wait":       "wait",
	"scroll":     "scroll",
	"screenshot": "screenshot",
	"navigate":   "navigate",
}

// MapStep translates one batch sub-action through the same pipeline as
// a standalone tool request.
func MapStep(step protocol.BatchStep) protocol.Instruction {
	tool, ok := batchStepTools[step.Kind]
	if !ok {
		tool = step.Kind
	}

	args := make(map[string]any, len(step.Args)+1)
	for k, v := range step.Args {
		args[k] = v
	}
	if step.Kind == "click" {
		if _, set := args["button"]; !set {
			args["button"] = "left"
		}
	}
	return Map(tool, args)
}

func parseSteps(v any) []protocol.BatchStep {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	steps := make([]protocol.BatchStep, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		step := protocol.BatchStep{Kind: argString(m, "kind", "")}
		if args, ok := m["args"].(map[string]any); ok {
			step.Args = args
		} else {
			// Flat step shape: everything but "kind" is an argument.
			step.Args = make(map[string]any, len(m))
			for k, val := range m {
				if k != "kind" {
					step.Args[k] = val
				}
			}
		}
		steps = append(steps, step)
	}
	return steps
}

func extractHints(args map[string]any) protocol.ArtifactHints {
	return protocol.ArtifactHints{
		SavePath:       argString(args, "savePath", ""),
		FullResolution: argBool(args, "fullResolution", false),
		MaxDimension:   argInt(args, "maxDimension", 0),
		AutoScreenshot: argBool(args, "autoScreenshot", false),
		TabID:          argInt(args, "tabId", 0),
	}
}

func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
