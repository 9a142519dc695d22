package topology

import (
	"fmt"
	"strings"
)

// Flow is one conceptual energy flow the resolver binds an entity to.
type Flow string

const (
	FlowGridImport       Flow = "grid_import"
	FlowGridExport       Flow = "grid_export"
	FlowSolar            Flow = "solar"
	FlowBatteryCharge    Flow = "battery_charge"
	FlowBatteryDischarge Flow = "battery_discharge"
	FlowConsumption      Flow = "device_consumption"
)

// Assignment maps a conceptual flow to a concrete entity, with a
// rationale explaining why that source was chosen. Unresolved
// assignments name the missing or ambiguous integration in the
// rationale and are never written to preferences.
type Assignment struct {
	Flow         Flow
	EntityID     string
	Platform     string
	PanelSerial  string
	Parent       string // included_in_stat target, consumption only
	RateEntityID string
	Rationale    string
	Unresolved   bool
}

// Result is the full output of one resolution pass. Partial results are
// always returned: unresolved flows and skipped sub-devices never abort
// the pass.
type Result struct {
	Assignments []Assignment
	Hierarchy   map[string]string
	Warnings    []string
}

// Resolved returns the assignments that bound an entity.
func (r Result) Resolved() []Assignment {
	var out []Assignment
	for _, a := range r.Assignments {
		if !a.Unresolved {
			out = append(out, a)
		}
	}
	return out
}

// Unresolved returns the flagged assignments needing manual attention.
func (r Result) Unresolved() []Assignment {
	var out []Assignment
	for _, a := range r.Assignments {
		if a.Unresolved {
			out = append(out, a)
		}
	}
	return out
}

// Resolve decides the authoritative source for every conceptual flow.
// It is a pure function: the same model and catalog always produce the
// same result, so a dry run and the real run cannot disagree.
func Resolve(m *Model, cat Catalog, vendors *VendorTable) Result {
	res := Result{Hierarchy: BuildHierarchy(m)}

	res.resolveGrid(m, cat, vendors)
	res.resolveBattery(m, cat, vendors)
	res.resolveSolar(m, cat, vendors)
	res.resolveConsumption(m)

	return res
}

// resolveGrid picks the grid source per lead panel. Only a lead panel's
// upstream lug is eligible: when a battery sits UPSTREAM of it, the lug
// reads post-battery bus power and the matching integration meters the
// true grid instead. There is no silent fallback.
func (res *Result) resolveGrid(m *Model, cat Catalog, vendors *VendorTable) {
	for _, lead := range m.LeadPanels() {
		bat := lead.Battery
		if bat == nil || bat.Position != PositionUpstream {
			if lead.UpstreamImported != "" {
				res.add(Assignment{
					Flow:        FlowGridImport,
					EntityID:    lead.UpstreamImported,
					Platform:    m.Platform(),
					PanelSerial: lead.Serial,
					Rationale:   "lead panel upstream lug meters grid import",
				})
			}
			if lead.UpstreamExported != "" {
				res.add(Assignment{
					Flow:        FlowGridExport,
					EntityID:    lead.UpstreamExported,
					Platform:    m.Platform(),
					PanelSerial: lead.Serial,
					Rationale:   "lead panel upstream lug meters grid export",
				})
			}
			continue
		}

		integ, ok, why := bindIntegration(cat, vendors, bat)
		if !ok {
			reason := "battery UPSTREAM: panel upstream lug reads post-battery bus power, not true grid; " + why
			res.add(Assignment{Flow: FlowGridImport, PanelSerial: lead.Serial, Rationale: reason, Unresolved: true})
			res.add(Assignment{Flow: FlowGridExport, PanelSerial: lead.Serial, Rationale: reason, Unresolved: true})
			res.warn("panel %s: %s", lead.Serial, reason)
			continue
		}

		res.bindOrFlag(FlowGridImport, lead.Serial, integ,
			integ.FindEntity("site_import", "import"),
			fmt.Sprintf("battery UPSTREAM: %s meters true grid import", integ.Platform))
		res.bindOrFlag(FlowGridExport, lead.Serial, integ,
			integ.FindEntity("site_export", "export"),
			fmt.Sprintf("battery UPSTREAM: %s meters true grid export", integ.Platform))
	}
}

func (res *Result) resolveBattery(m *Model, cat Catalog, vendors *VendorTable) {
	for _, p := range m.Panels() {
		bat := p.Battery
		if bat == nil {
			continue
		}
		switch bat.Position {
		case PositionInPanel:
			c, _ := m.CircuitByID(bat.FeedCircuitID)
			if c == nil {
				res.warn("panel %s: battery claims IN_PANEL but feed circuit %q does not resolve; skipping battery assignments",
					p.Serial, bat.FeedCircuitID)
				continue
			}
			if c.ImportedEnergy != "" {
				res.add(Assignment{
					Flow:         FlowBatteryDischarge,
					EntityID:     c.ImportedEnergy,
					Platform:     m.Platform(),
					PanelSerial:  p.Serial,
					RateEntityID: c.ActivePower,
					Rationale:    fmt.Sprintf("battery IN_PANEL: circuit %s imported-energy is discharge", c.Name),
				})
			}
			if c.ExportedEnergy != "" {
				res.add(Assignment{
					Flow:         FlowBatteryCharge,
					EntityID:     c.ExportedEnergy,
					Platform:     m.Platform(),
					PanelSerial:  p.Serial,
					RateEntityID: c.ActivePower,
					Rationale:    fmt.Sprintf("battery IN_PANEL: circuit %s exported-energy is charge", c.Name),
				})
			}
		case PositionUpstream:
			integ, ok, why := bindIntegration(cat, vendors, bat)
			if !ok {
				res.add(Assignment{Flow: FlowBatteryDischarge, PanelSerial: p.Serial, Rationale: "battery UPSTREAM: " + why, Unresolved: true})
				res.add(Assignment{Flow: FlowBatteryCharge, PanelSerial: p.Serial, Rationale: "battery UPSTREAM: " + why, Unresolved: true})
				res.warn("panel %s: battery UPSTREAM: %s", p.Serial, why)
				continue
			}
			res.bindOrFlag(FlowBatteryDischarge, p.Serial, integ,
				integ.FindEntityWith("battery", "export"),
				fmt.Sprintf("battery UPSTREAM: %s meters discharge", integ.Platform))
			res.bindOrFlag(FlowBatteryCharge, p.Serial, integ,
				integ.FindEntityWith("battery", "import"),
				fmt.Sprintf("battery UPSTREAM: %s meters charge", integ.Platform))
		}
	}
}

// resolveSolar binds the solar source. IN_PANEL solar always uses the
// feeding circuit's return reading, never a third-party integration:
// keeping all panel-bus energy on one measurement system avoids
// double-counting against the circuit CTs.
func (res *Result) resolveSolar(m *Model, cat Catalog, vendors *VendorTable) {
	for _, p := range m.Panels() {
		sol := p.Solar
		if sol == nil {
			continue
		}
		switch sol.Position {
		case PositionInPanel:
			c, _ := m.CircuitByID(sol.FeedCircuitID)
			if c == nil {
				res.warn("panel %s: solar claims IN_PANEL but feed circuit %q does not resolve; skipping solar assignments",
					p.Serial, sol.FeedCircuitID)
				continue
			}
			if c.ImportedEnergy == "" {
				res.warn("panel %s: solar feed circuit %s has no imported-energy entity", p.Serial, c.Name)
				continue
			}
			res.add(Assignment{
				Flow:         FlowSolar,
				EntityID:     c.ImportedEnergy,
				Platform:     m.Platform(),
				PanelSerial:  p.Serial,
				RateEntityID: c.ActivePower,
				Rationale:    fmt.Sprintf("solar IN_PANEL: circuit %s imported-energy is production, measured on the panel bus", c.Name),
			})
		case PositionUpstream:
			integ, ok, why := bindIntegration(cat, vendors, sol)
			if !ok {
				res.add(Assignment{Flow: FlowSolar, PanelSerial: p.Serial, Rationale: "solar UPSTREAM: " + why, Unresolved: true})
				res.warn("panel %s: solar UPSTREAM: %s", p.Serial, why)
				continue
			}
			entity := integ.FindEntity("production", "solar", "energy")
			if entity == "" && len(integ.EntityIDs) > 0 {
				entity = integ.EntityIDs[0]
			}
			res.bindOrFlag(FlowSolar, p.Serial, integ, entity,
				fmt.Sprintf("solar UPSTREAM: %s meters production", integ.Platform))
		}
	}
}

// resolveConsumption emits one device-consumption assignment per panel
// upstream lug not already serving as grid source, then one per
// non-excluded circuit, parented for the Sankey view. Load circuits
// contribute only their exported-energy; the imported-energy reading is
// CT noise and is suppressed.
func (res *Result) resolveConsumption(m *Model) {
	excluded := ExcludedCircuits(m)

	gridEIDs := make(map[string]struct{})
	for _, a := range res.Assignments {
		if !a.Unresolved && (a.Flow == FlowGridImport || a.Flow == FlowGridExport) {
			gridEIDs[a.EntityID] = struct{}{}
		}
	}

	emitted := make(map[string]struct{})
	for _, p := range m.Panels() {
		if p.UpstreamImported == "" {
			continue
		}
		if _, isGrid := gridEIDs[p.UpstreamImported]; isGrid {
			continue
		}
		res.add(Assignment{
			Flow:         FlowConsumption,
			EntityID:     p.UpstreamImported,
			Platform:     m.Platform(),
			PanelSerial:  p.Serial,
			Parent:       res.emittedParent(emitted, p.UpstreamImported),
			RateEntityID: p.UpstreamPower,
			Rationale:    "panel total consumption, hierarchy parent for its circuits",
		})
		emitted[p.UpstreamImported] = struct{}{}
	}

	for _, p := range m.Panels() {
		for i := range p.Circuits {
			c := &p.Circuits[i]
			if _, skip := excluded[c.ID]; skip {
				continue
			}
			if c.ExportedEnergy == "" {
				continue
			}
			res.add(Assignment{
				Flow:         FlowConsumption,
				EntityID:     c.ExportedEnergy,
				Platform:     m.Platform(),
				PanelSerial:  p.Serial,
				Parent:       res.emittedParent(emitted, c.ExportedEnergy),
				RateEntityID: c.ActivePower,
				Rationale:    consumptionRationale(Classify(m, c)),
			})
		}
	}
}

// emittedParent returns the hierarchy parent of a stat, but only when
// the parent itself was emitted as a consumption entry. A lead panel's
// upstream stat serving as grid source is not a valid Sankey parent.
func (res *Result) emittedParent(emitted map[string]struct{}, entityID string) string {
	parent := res.Hierarchy[entityID]
	if _, ok := emitted[parent]; !ok {
		return ""
	}
	return parent
}

func consumptionRationale(role CircuitRole) string {
	switch role {
	case RoleEVFeed:
		return "EV charger circuit, counted as load"
	case RolePVFeed:
		return "solar feed circuit, production metered elsewhere; parasitic consumption is real"
	case RoleBatteryFeed:
		return "battery feed circuit, battery metered elsewhere; parasitic consumption is real"
	default:
		return "load circuit, return energy suppressed as CT noise"
	}
}

// bindIntegration finds the single integration matching a sub-device's
// vendor. Zero matches and ambiguous matches both refuse to bind; the
// caller flags the flow instead of guessing.
func bindIntegration(cat Catalog, vendors *VendorTable, sd *SubDevice) (Integration, bool, string) {
	platforms := vendors.PlatformsFor(sd.Vendor)
	if len(platforms) == 0 {
		return Integration{}, false, fmt.Sprintf("vendor %q is not in the vendor table", sd.Vendor)
	}
	matches := cat.ByPlatforms(platforms)
	switch len(matches) {
	case 0:
		return Integration{}, false, fmt.Sprintf("no integration found for vendor %q (expected one of: %s)",
			sd.Vendor, strings.Join(platforms, ", "))
	case 1:
		return matches[0], true, ""
	default:
		names := make([]string, 0, len(matches))
		for _, integ := range matches {
			names = append(names, integ.Platform)
		}
		return Integration{}, false, fmt.Sprintf("multiple integrations match vendor %q (%s); refusing to guess",
			sd.Vendor, strings.Join(names, ", "))
	}
}

func (res *Result) bindOrFlag(flow Flow, serial string, integ Integration, entityID, rationale string) {
	if entityID == "" {
		res.add(Assignment{
			Flow:        flow,
			PanelSerial: serial,
			Rationale:   fmt.Sprintf("%s exposes no matching %s entity", integ.Platform, flow),
			Unresolved:  true,
		})
		return
	}
	res.add(Assignment{
		Flow:        flow,
		EntityID:    entityID,
		Platform:    integ.Platform,
		PanelSerial: serial,
		Rationale:   rationale,
	})
}

func (res *Result) add(a Assignment) {
	res.Assignments = append(res.Assignments, a)
}

func (res *Result) warn(format string, args ...interface{}) {
	res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
}
