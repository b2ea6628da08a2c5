package workflow

import (
	"fmt"
	"regexp"

	"github.com/sethdford/fleetctl/internal/store"
)

var templateVar = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// buildContextView materialises the view steps and guards see: inputs,
// already-terminal upstream outputs keyed by step, and identifiers.
// Steps never observe a peer that hasn't reached a terminal state.
func buildContextView(exec *store.WorkflowExecution, steps map[string]*store.ExecutionStep) map[string]any {
	inputs, _ := exec.Context["inputs"].(map[string]any)
	stepsView := make(map[string]any, len(steps))
	for key, st := range steps {
		if !isTerminal(st.Status) {
			continue
		}
		stepsView[key] = map[string]any{"output": st.Output, "status": string(st.Status)}
	}
	return map[string]any{
		"inputs":      inputs,
		"steps":       stepsView,
		"swarmId":     exec.SwarmID,
		"executionId": exec.ID,
		"context":     exec.Context,
	}
}

// substituteTemplates replaces any {{ident}} occurrence inside cfg's
// string values with context.inputs.ident; missing keys become empty
// strings, logged by the caller rather than treated as an error.
func substituteTemplates(cfg map[string]any, inputs map[string]any, onMissing func(name string)) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = substituteValue(v, inputs, onMissing)
	}
	return out
}

func substituteValue(v any, inputs map[string]any, onMissing func(string)) any {
	switch val := v.(type) {
	case string:
		return templateVar.ReplaceAllStringFunc(val, func(match string) string {
			name := templateVar.FindStringSubmatch(match)[1]
			value, ok := inputs[name]
			if !ok {
				if onMissing != nil {
					onMissing(name)
				}
				return ""
			}
			return fmt.Sprintf("%v", value)
		})
	case map[string]any:
		return substituteTemplates(val, inputs, onMissing)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, inputs, onMissing)
		}
		return out
	default:
		return v
	}
}

func isTerminal(s store.StepStatus) bool {
	switch s {
	case store.StepCompleted, store.StepFailed, store.StepSkipped, store.StepCancelled:
		return true
	default:
		return false
	}
}
