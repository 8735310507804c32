package graph

// NewInternalHooks returns the capability object for a process-less
// service: bring-up and bring-down both complete synchronously. Used for
// milestone/target services that exist only to aggregate dependencies.
func NewInternalHooks() Hooks {
	return DefaultHooks()
}

// NewTriggeredHooks returns the capability object for a service with no
// backing process that stays in STARTING until something external calls
// Trigger on the returned controller.
func NewTriggeredHooks() (Hooks, *TriggerController) {
	tc := &TriggerController{}
	h := DefaultHooks()
	h.BringUp = func(r *Record) bool {
		tc.record = r
		if tc.pending {
			tc.pending = false
			r.Started()
		}
		return true
	}
	h.CanInterruptStart = func(r *Record) bool { return true }
	h.InterruptStart = func(r *Record) bool {
		tc.record = nil
		return true
	}
	return h, tc
}

// TriggerController is the control-socket-facing half of a triggered
// service: Trigger flips it to STARTED the moment it is (or becomes)
// STARTING.
type TriggerController struct {
	record  *Record
	pending bool
}

// Trigger signals that the triggered service's external condition has been
// met. If the service has not yet reached STARTING, the trigger is
// remembered and applied as soon as it does.
func (t *TriggerController) Trigger() {
	if t.record != nil && t.record.State() == Starting {
		t.record.Started()
		return
	}
	t.pending = true
}
