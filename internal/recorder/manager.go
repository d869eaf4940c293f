package recorder

import (
	"context"

	"anpr-recorder/internal/domain/anpr"
)

// Manager owns the camera id to state machine mapping. Built once at
// startup; cameras are not added or removed at runtime.
type Manager struct {
	machines map[string]*Machine
	order    []string
}

func NewManager() *Manager {
	return &Manager{machines: make(map[string]*Machine)}
}

func (mgr *Manager) Add(cameraID string, m *Machine) {
	if _, exists := mgr.machines[cameraID]; !exists {
		mgr.order = append(mgr.order, cameraID)
	}
	mgr.machines[cameraID] = m
}

func (mgr *Manager) Get(cameraID string) (*Machine, bool) {
	m, ok := mgr.machines[cameraID]
	return m, ok
}

// CameraIDs returns the configured cameras in registration order.
func (mgr *Manager) CameraIDs() []string {
	out := make([]string, len(mgr.order))
	copy(out, mgr.order)
	return out
}

// Tick runs the countdown check on every machine.
func (mgr *Manager) Tick(ctx context.Context) {
	for _, id := range mgr.order {
		mgr.machines[id].Tick(ctx)
	}
}

// Close force-finalizes all active recordings.
func (mgr *Manager) Close(ctx context.Context) {
	for _, id := range mgr.order {
		mgr.machines[id].Close(ctx)
	}
}

// Status reports the state of one camera, or false if it is unknown.
func (mgr *Manager) Status(cameraID string) (anpr.CameraState, *string, bool) {
	m, ok := mgr.machines[cameraID]
	if !ok {
		return "", nil, false
	}
	state, segID := m.Status()
	return state, segID, true
}
