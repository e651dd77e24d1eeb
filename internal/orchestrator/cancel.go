package orchestrator

import "time"

// drainOnCancel waits up to drainTimeout for the inFlight Lifecycles to
// post their results, logging each as it arrives, then gives up —
// SPEC_FULL.md §4.9 step 1's bounded drain window. It only logs each
// drained completion (it does not call handleCompletion); it does not
// spawn new work and does not block past the deadline.
func (o *Orchestrator) drainOnCancel(completions <-chan lifecycleCompletion, inFlight int) {
	if inFlight == 0 {
		return
	}
	log := o.Logger.With("phase", "cancel_drain")
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()

	remaining := inFlight
	for remaining > 0 {
		select {
		case c := <-completions:
			remaining--
			log.Info("drained in-flight lifecycle after cancellation", "task_id", c.task.ID, "outcome", c.result.Outcome)
		case <-deadline.C:
			log.Warn("cancel drain window elapsed with lifecycles still in flight", "remaining", remaining)
			return
		}
	}
}
