package orchestrator

// GatePolicy decides when a workflow-configured human gate fires.
type GatePolicy interface {
	// Due reports whether the named gate should fire now, given progress.
	Due(gateName string, completed, total int) bool
}

// MidpointPolicy fires every configured gate once half the tasks have
// completed (rounded up).
type MidpointPolicy struct{}

func (MidpointPolicy) Due(_ string, completed, total int) bool {
	if total == 0 {
		return false
	}
	return completed >= (total+1)/2
}
