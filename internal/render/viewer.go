package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourceplane/mlpipe/internal/model"
)

// PlanViewer provides a human-readable view of a plan
type PlanViewer struct {
	plan *model.Plan
}

// NewPlanViewer creates a new plan viewer
func NewPlanViewer(plan *model.Plan) *PlanViewer {
	return &PlanViewer{plan: plan}
}

// ViewSlots returns a tree of slots, their steps and each step's bindings
func (pv *PlanViewer) ViewSlots() string {
	if len(pv.plan.Slots) == 0 {
		return "No steps in plan"
	}

	var sb strings.Builder
	spec := pv.plan.Spec
	sb.WriteString(fmt.Sprintf("%s v%s (experiment: %s, run_datetime: %s)\n", spec.Pipeline, spec.Version, spec.Experiment, spec.RunTimestamp))

	steps := 0
	for i, slot := range pv.plan.Slots {
		isLastSlot := i == len(pv.plan.Slots)-1

		slotPrefix := "├─ "
		slotConnector := "│  "
		if isLastSlot {
			slotPrefix = "└─ "
			slotConnector = "   "
		}
		sb.WriteString(fmt.Sprintf("%sslot %d [%s]\n", slotPrefix, slot.Index+1, slot.Kind))

		for j, step := range slot.Steps {
			steps++
			isLastStep := j == len(slot.Steps)-1

			stepPrefix := slotConnector + "├─ "
			stepConnector := slotConnector + "│  "
			if isLastStep {
				stepPrefix = slotConnector + "└─ "
				stepConnector = slotConnector + "   "
			}

			sb.WriteString(fmt.Sprintf("%s%s | %s\n", stepPrefix, step.Name, step.Script))

			details := []string{
				fmt.Sprintf("compute: %s", step.Compute),
				fmt.Sprintf("source: %s", step.SourceDir),
			}
			aliases := make([]string, 0, len(step.Inputs))
			for alias := range step.Inputs {
				aliases = append(aliases, alias)
			}
			sort.Strings(aliases)
			for _, alias := range aliases {
				details = append(details, fmt.Sprintf("input: %s -> %s", step.Inputs[alias], alias))
			}
			if len(step.Arguments) > 0 {
				args := strings.Join(step.Arguments, " ")
				if len(args) > 60 {
					args = args[:57] + "..."
				}
				details = append(details, fmt.Sprintf("args: %s", args))
			}

			for k, d := range details {
				prefix := stepConnector + "├─ "
				if k == len(details)-1 {
					prefix = stepConnector + "└─ "
				}
				sb.WriteString(prefix + d + "\n")
			}
		}
	}

	sb.WriteString("═══════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Summary: %d slots, %d steps, %d parameters\n", len(pv.plan.Slots), steps, len(spec.Parameters)))
	if spec.Endpoint != "" {
		sb.WriteString(fmt.Sprintf("Endpoint: %s\n", spec.Endpoint))
	}

	return sb.String()
}
