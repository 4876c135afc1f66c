package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nicobailon/surf-cli/pkg/protocol"
	"github.com/nicobailon/surf-cli/pkg/toolmap"
)

// stepResult is one entry of a batch reply's results list.
type stepResult struct {
	Kind    string `json:"kind"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// runBatch executes steps strictly in order. A failing step aborts the
// remainder; the reply always carries per-step results and completed
// versus total counts so partial progress is visible.
func (b *Broker) runBatch(c Client, requestID string, steps []protocol.BatchStep) {
	if len(steps) == 0 {
		b.sendTo(c, protocol.Fail(requestID, "batch requires at least one action"))
		return
	}

	results := make([]stepResult, 0, len(steps))
	completed := 0

	fail := func(index int, step protocol.BatchStep, reason string) {
		results = append(results, stepResult{Kind: step.Kind, Success: false, Error: reason})
		b.sendTo(c, protocol.ClientReply{
			ID:      requestID,
			Success: false,
			Error:   fmt.Sprintf("step %d (%s): %s", index+1, step.Kind, reason),
			Data: map[string]any{
				"results":          results,
				"completedActions": completed,
				"totalActions":     len(steps),
			},
		})
	}

	for i, step := range steps {
		inst := toolmap.MapStep(step)

		switch inst.Kind {
		case protocol.KindUnsupported:
			fail(i, step, inst.Reason)
			return

		case protocol.KindLocalWait:
			// The wait itself is the pacing for this step.
			results = append(results, stepResult{Kind: step.Kind, Success: true})
			completed++
			time.Sleep(inst.Wait)
			continue

		case protocol.KindForward:
			rep, err := b.callPeer(context.Background(), inst.Action, inst.Params, inst.WindowID)
			if err != nil {
				fail(i, step, err.Error())
				return
			}
			if !rep.Success {
				fail(i, step, rep.Error)
				return
			}
			results = append(results, stepResult{Kind: step.Kind, Success: true})
			completed++
			if i < len(steps)-1 {
				time.Sleep(b.cfg.BatchPacing)
			}

		default:
			fail(i, step, fmt.Sprintf("%s cannot run inside a batch", step.Kind))
			return
		}
	}

	b.sendTo(c, protocol.OK(requestID, map[string]any{
		"results":          results,
		"completedActions": completed,
		"totalActions":     len(steps),
	}))
}
