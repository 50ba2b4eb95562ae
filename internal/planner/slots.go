package planner

import "github.com/sourceplane/mlpipe/internal/model"

// GroupSlots folds steps into slots. A flagged step joins the last slot,
// turning it into a parallel group; any other step opens a new single slot.
// flagged[i] belongs to steps[i]. A flagged first step opens a slot of its own;
// callers reject that case before sequencing.
func GroupSlots(steps []model.ExecutableStep, flagged []bool) []model.Slot {
	slots := make([]model.Slot, 0, len(steps))
	for i, step := range steps {
		last := len(slots) - 1
		if flagged[i] && last >= 0 {
			slots[last] = slots[last].With(step)
			continue
		}
		slots = append(slots, model.SingleSlot(step))
	}
	return slots
}
