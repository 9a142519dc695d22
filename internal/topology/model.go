// Package topology models the physical electrical layout of one or more
// metering panels and decides which energy entities should represent each
// Energy Dashboard flow. The resolver is a pure function over immutable
// snapshots; all I/O happens in the registry and transport layers.
package topology

import (
	"fmt"
)

// Position is a sub-device's electrical placement relative to its panel.
type Position string

const (
	// PositionUpstream means between grid and panel, invisible to circuit CTs.
	PositionUpstream Position = "UPSTREAM"
	// PositionInPanel means connected to one of the panel's own circuits.
	PositionInPanel Position = "IN_PANEL"
	// PositionDownstream means behind the panel, irrelevant to source selection.
	PositionDownstream Position = "DOWNSTREAM"
)

// Kind is the type of energy sub-device attached to a panel.
type Kind string

const (
	KindBattery Kind = "battery"
	KindSolar   Kind = "solar"
)

// SubDevice is a battery or solar component the panel can observe.
type SubDevice struct {
	Kind          Kind
	Position      Position
	Vendor        string
	Model         string
	FeedCircuitID string // set when Position is IN_PANEL
}

// Circuit is one metered branch within a panel. Energy direction is
// panel-perspective: exported = panel→circuit (consumption), imported =
// circuit→panel (return).
type Circuit struct {
	ID             string
	Name           string
	PanelSerial    string
	ExportedEnergy string
	ImportedEnergy string
	ActivePower    string
}

// Panel is one physical metering unit. ParentSerial is a weak reference;
// ownership of the forest lives in the Model arena, not in the panel.
type Panel struct {
	Serial           string
	Name             string
	ParentSerial     string
	UpstreamImported string // grid-facing lug, import direction
	UpstreamExported string
	UpstreamPower    string
	Circuits         []Circuit
	Battery          *SubDevice
	Solar            *SubDevice
}

// Model is an arena of panels indexed by serial. Parent/child
// relationships are serial references resolved through the arena, so
// traversal is O(1) per hop and there are no ownership cycles.
type Model struct {
	platform string
	arena    map[string]*Panel
	order    []string // topological: parents before children
	children map[string][]string
}

// NewModel builds the arena and validates the forest invariant: every
// panel has at most one parent and the parent graph is acyclic. A parent
// serial that does not resolve in the arena is dropped and the panel
// becomes a lead panel.
func NewModel(platform string, panels []*Panel) (*Model, error) {
	m := &Model{
		platform: platform,
		arena:    make(map[string]*Panel, len(panels)),
		children: make(map[string][]string),
	}

	for _, p := range panels {
		if p.Serial == "" {
			return nil, fmt.Errorf("panel without serial")
		}
		if _, dup := m.arena[p.Serial]; dup {
			return nil, fmt.Errorf("duplicate panel serial %q", p.Serial)
		}
		for i := range p.Circuits {
			p.Circuits[i].PanelSerial = p.Serial
		}
		m.arena[p.Serial] = p
	}

	var roots []string
	for _, p := range panels {
		if p.ParentSerial != "" {
			if _, ok := m.arena[p.ParentSerial]; !ok {
				p.ParentSerial = ""
			}
		}
		if p.ParentSerial == "" {
			roots = append(roots, p.Serial)
		} else {
			m.children[p.ParentSerial] = append(m.children[p.ParentSerial], p.Serial)
		}
	}

	// BFS from the lead panels; anything unreachable sits on a cycle.
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		serial := queue[0]
		queue = queue[1:]
		m.order = append(m.order, serial)
		queue = append(queue, m.children[serial]...)
	}
	if len(m.order) != len(panels) {
		return nil, fmt.Errorf("panel parent references form a cycle")
	}

	return m, nil
}

// Platform is the integration platform the panel entities belong to.
func (m *Model) Platform() string { return m.platform }

// Panel looks up a panel by serial.
func (m *Model) Panel(serial string) *Panel { return m.arena[serial] }

// Panels returns all panels, parents before children.
func (m *Model) Panels() []*Panel {
	out := make([]*Panel, 0, len(m.order))
	for _, serial := range m.order {
		out = append(out, m.arena[serial])
	}
	return out
}

// LeadPanels returns the panels with no parent, in arena order.
func (m *Model) LeadPanels() []*Panel {
	var out []*Panel
	for _, p := range m.Panels() {
		if p.ParentSerial == "" {
			out = append(out, p)
		}
	}
	return out
}

// Children returns the direct sub-panels of a panel.
func (m *Model) Children(serial string) []*Panel {
	var out []*Panel
	for _, child := range m.children[serial] {
		out = append(out, m.arena[child])
	}
	return out
}

// Subtree returns a panel and all its descendants, parents first.
func (m *Model) Subtree(serial string) []*Panel {
	root := m.arena[serial]
	if root == nil {
		return nil
	}
	out := []*Panel{root}
	for _, child := range m.children[serial] {
		out = append(out, m.Subtree(child)...)
	}
	return out
}

// CircuitByID finds a circuit by id across all panels.
func (m *Model) CircuitByID(id string) (*Circuit, *Panel) {
	if id == "" {
		return nil, nil
	}
	for _, serial := range m.order {
		p := m.arena[serial]
		for i := range p.Circuits {
			if p.Circuits[i].ID == id {
				return &p.Circuits[i], p
			}
		}
	}
	return nil, nil
}

// FeedFor returns the sub-device fed by a circuit, if any. A circuit
// feeds at most one sub-device.
func (m *Model) FeedFor(c *Circuit) *SubDevice {
	p := m.arena[c.PanelSerial]
	if p == nil {
		return nil
	}
	if p.Battery != nil && p.Battery.FeedCircuitID == c.ID {
		return p.Battery
	}
	if p.Solar != nil && p.Solar.FeedCircuitID == c.ID {
		return p.Solar
	}
	return nil
}
