package protocol

import "time"

// InstructionKind discriminates the shapes a mapped tool request can
// take before it reaches the peer.
type InstructionKind int

const (
	// KindForward sends the instruction to the peer and routes the reply
	// back to the requesting client.
	KindForward InstructionKind = iota
	// KindUnsupported answers immediately with the mapper's error text.
	KindUnsupported
	// KindLocalWait answers after a delay with no peer round-trip.
	KindLocalWait
	// KindBatch runs an ordered list of sub-actions sequentially.
	KindBatch
	// KindAIRequest routes through an AI backend, optionally with page
	// context fetched from the peer first.
	KindAIRequest
	// KindKeyRepeat issues N paced single-key presses, never aborting early.
	KindKeyRepeat
	// KindResolveTarget resolves a human-readable tab name to an id, then
	// issues the real action against that id.
	KindResolveTarget
)

// ArtifactHints carries client-supplied post-processing options for
// replies that contain binary payloads.
type ArtifactHints struct {
	SavePath       string
	FullResolution bool
	MaxDimension   int
	AutoScreenshot bool
	TabID          int
}

// BatchStep is one sub-action of a batch instruction.
type BatchStep struct {
	Kind string         `json:"kind"`
	Args map[string]any `json:"args,omitempty"`
}

// AIRequest describes an AI analyze/query instruction.
type AIRequest struct {
	Backend        string
	Query          string
	IncludeContext bool
	TabID          int
}

// Instruction is the mapped, peer-bound form of a client tool request.
// Kind selects which of the variant fields are meaningful.
type Instruction struct {
	Kind InstructionKind

	// KindForward / the second hop of KindResolveTarget.
	Action   string
	Params   map[string]any
	WindowID int
	Hints    ArtifactHints

	// KindUnsupported.
	Reason string

	// KindLocalWait.
	Wait time.Duration

	// KindBatch.
	Steps []BatchStep

	// KindAIRequest.
	AI *AIRequest

	// KindKeyRepeat.
	Key   string
	Count int

	// KindResolveTarget.
	TargetName string
}
