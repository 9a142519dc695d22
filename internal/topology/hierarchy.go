package topology

// ExcludedCircuits returns the ids of circuits feeding an IN_PANEL
// sub-device. Their energy is already counted as battery or solar, so
// they must never appear in device consumption.
func ExcludedCircuits(m *Model) map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range m.Panels() {
		for _, sd := range []*SubDevice{p.Battery, p.Solar} {
			if sd == nil || sd.Position != PositionInPanel || sd.FeedCircuitID == "" {
				continue
			}
			if c, _ := m.CircuitByID(sd.FeedCircuitID); c != nil {
				out[c.ID] = struct{}{}
			}
		}
	}
	return out
}

// BuildHierarchy derives the Sankey nesting: each non-excluded circuit's
// consumption stat sits under its owning panel's upstream-lug stat, and
// each sub-panel's upstream-lug stat sits under its parent panel's. Lead
// panels have no parent. The result is a forest by construction: the
// panel graph is acyclic and each circuit has exactly one owning panel.
func BuildHierarchy(m *Model) map[string]string {
	parents := make(map[string]string)
	excluded := ExcludedCircuits(m)

	for _, p := range m.Panels() {
		if p.UpstreamImported != "" {
			for i := range p.Circuits {
				c := &p.Circuits[i]
				if _, skip := excluded[c.ID]; skip {
					continue
				}
				if c.ExportedEnergy != "" {
					parents[c.ExportedEnergy] = p.UpstreamImported
				}
			}
		}
		if p.ParentSerial == "" || p.UpstreamImported == "" {
			continue
		}
		if parent := m.Panel(p.ParentSerial); parent != nil && parent.UpstreamImported != "" {
			parents[p.UpstreamImported] = parent.UpstreamImported
		}
	}

	return parents
}
