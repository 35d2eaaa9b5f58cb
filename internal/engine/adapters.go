package engine

import (
	"context"
)

// Adapter is the contract every sub-workflow stage implements. Adapters are
// opaque to the engine beyond this interface: they receive a read-only
// StateView and hand back a StateUpdate for the engine to merge. They never
// mutate conversation state directly.
type Adapter interface {
	Capability() Capability
	Execute(ctx context.Context, view StateView) (StateUpdate, error)
}

// AdapterSet is the fixed capability registry the engine routes through.
type AdapterSet struct {
	Coaching       Adapter
	CaseManagement Adapter
	SafetyTriage   Adapter
}

// ForCapability resolves a capability to its adapter, nil when unwired.
func (s AdapterSet) ForCapability(c Capability) Adapter {
	switch c {
	case CapabilityCoaching:
		return s.Coaching
	case CapabilityCaseManagement:
		return s.CaseManagement
	case CapabilitySafetyTriage:
		return s.SafetyTriage
	default:
		return nil
	}
}
