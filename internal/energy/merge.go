package energy

import (
	"encoding/json"
	"fmt"

	"github.com/electrification-bus/hass-atlas/internal/models"
)

// DiffKind classifies one line of a merge diff.
type DiffKind string

const (
	DiffAdded    DiffKind = "added"
	DiffUpdated  DiffKind = "updated"
	DiffConflict DiffKind = "conflict"
)

// DiffEntry records one change Merge made, or would make under dry-run.
type DiffEntry struct {
	Kind    DiffKind
	Section string
	Key     string
	Before  string
	After   string
	Detail  string
}

// Diff is the full set of changes from a merge, in a stable order.
type Diff []DiffEntry

// Conflicts returns the subset of entries where an existing use of an
// entity had to give way to the derived configuration.
func (d Diff) Conflicts() Diff {
	var out Diff
	for _, e := range d {
		if e.Kind == DiffConflict {
			out = append(out, e)
		}
	}
	return out
}

// Merge folds derived preferences into the operator's existing ones.
// Existing entries the resolver knows nothing about are kept untouched.
// Sources are matched by their energy statistic, grid flows
// individually, so re-running against an unchanged installation is a
// no-op. When a derived entity is already used elsewhere in the
// existing configuration, the derived placement wins and the old usage
// is removed, recorded as a conflict.
func Merge(existing, derived models.EnergyPreferences) (models.EnergyPreferences, Diff) {
	merged := existing.Clone()
	var diff Diff

	// A derived stat claimed by a different section of the existing
	// config is a conflict. Strip the stale usage before merging so the
	// derived placement is the only one left.
	claims := derivedClaims(derived)
	for _, c := range findMisplaced(merged, claims) {
		diff = append(diff, DiffEntry{
			Kind:    DiffConflict,
			Section: c.section,
			Key:     c.stat,
			Detail:  fmt.Sprintf("%s was configured under %s, now managed as %s", c.stat, c.section, c.wants),
		})
	}
	removeMisplaced(&merged, claims)

	diff = mergeGrid(&merged, derived, diff)
	diff = mergeSources(&merged, derived, "solar", diff)
	diff = mergeSources(&merged, derived, "battery", diff)
	diff = mergeConsumption(&merged, derived, diff)

	return merged, diff
}

func mergeGrid(merged *models.EnergyPreferences, derived models.EnergyPreferences, diff Diff) Diff {
	var dg *models.EnergySource
	for i := range derived.EnergySources {
		if derived.EnergySources[i].Type == "grid" {
			dg = &derived.EnergySources[i]
			break
		}
	}
	if dg == nil {
		return diff
	}

	var eg *models.EnergySource
	for i := range merged.EnergySources {
		if merged.EnergySources[i].Type == "grid" {
			eg = &merged.EnergySources[i]
			break
		}
	}
	if eg == nil {
		merged.EnergySources = append([]models.EnergySource{dg.Clone()}, merged.EnergySources...)
		for _, f := range dg.FlowFrom {
			diff = append(diff, DiffEntry{Kind: DiffAdded, Section: "grid.flow_from", Key: f.StatEnergyFrom})
		}
		for _, f := range dg.FlowTo {
			diff = append(diff, DiffEntry{Kind: DiffAdded, Section: "grid.flow_to", Key: f.StatEnergyTo})
		}
		return diff
	}

	// Flow-level additive merge. A flow already present keeps its cost
	// configuration; the operator set that, the resolver did not.
	for _, f := range dg.FlowFrom {
		if hasFlowFrom(eg.FlowFrom, f.StatEnergyFrom) {
			continue
		}
		eg.FlowFrom = append(eg.FlowFrom, f.Clone())
		diff = append(diff, DiffEntry{Kind: DiffAdded, Section: "grid.flow_from", Key: f.StatEnergyFrom})
	}
	for _, f := range dg.FlowTo {
		if hasFlowTo(eg.FlowTo, f.StatEnergyTo) {
			continue
		}
		eg.FlowTo = append(eg.FlowTo, f.Clone())
		diff = append(diff, DiffEntry{Kind: DiffAdded, Section: "grid.flow_to", Key: f.StatEnergyTo})
	}
	return diff
}

func mergeSources(merged *models.EnergyPreferences, derived models.EnergyPreferences, typ string, diff Diff) Diff {
	for _, ds := range derived.EnergySources {
		if ds.Type != typ {
			continue
		}
		idx := -1
		for i, es := range merged.EnergySources {
			if es.Type == typ && es.StatEnergyFrom == ds.StatEnergyFrom {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged.EnergySources = append(merged.EnergySources, ds.Clone())
			diff = append(diff, DiffEntry{Kind: DiffAdded, Section: typ, Key: ds.StatEnergyFrom})
			continue
		}
		existing := merged.EnergySources[idx]
		updated := existing.Clone()
		updated.StatEnergyTo = ds.StatEnergyTo
		if updated.StatRate == "" {
			updated.StatRate = ds.StatRate
		}
		if sourceJSON(updated) == sourceJSON(existing) {
			continue
		}
		merged.EnergySources[idx] = updated
		diff = append(diff, DiffEntry{
			Kind:    DiffUpdated,
			Section: typ,
			Key:     ds.StatEnergyFrom,
			Before:  sourceJSON(existing),
			After:   sourceJSON(updated),
		})
	}
	return diff
}

func mergeConsumption(merged *models.EnergyPreferences, derived models.EnergyPreferences, diff Diff) Diff {
	for _, dc := range derived.DeviceConsumption {
		idx := -1
		for i, ec := range merged.DeviceConsumption {
			if ec.StatConsumption == dc.StatConsumption {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged.DeviceConsumption = append(merged.DeviceConsumption, dc)
			diff = append(diff, DiffEntry{Kind: DiffAdded, Section: "device_consumption", Key: dc.StatConsumption})
			continue
		}
		existing := merged.DeviceConsumption[idx]
		updated := existing
		updated.IncludedInStat = dc.IncludedInStat
		if updated.StatRate == "" {
			updated.StatRate = dc.StatRate
		}
		if updated == existing {
			continue
		}
		merged.DeviceConsumption[idx] = updated
		diff = append(diff, DiffEntry{
			Kind:    DiffUpdated,
			Section: "device_consumption",
			Key:     dc.StatConsumption,
			Before:  consumptionJSON(existing),
			After:   consumptionJSON(updated),
		})
	}
	return diff
}

type misplaced struct {
	stat    string
	section string
	wants   string
}

func derivedClaims(derived models.EnergyPreferences) map[string]string {
	claims := make(map[string]string)
	for _, s := range derived.EnergySources {
		switch s.Type {
		case "grid":
			for _, f := range s.FlowFrom {
				claims[f.StatEnergyFrom] = "grid.flow_from"
			}
			for _, f := range s.FlowTo {
				claims[f.StatEnergyTo] = "grid.flow_to"
			}
		default:
			if s.StatEnergyFrom != "" {
				claims[s.StatEnergyFrom] = s.Type
			}
			if s.StatEnergyTo != "" {
				claims[s.StatEnergyTo] = s.Type
			}
		}
	}
	for _, c := range derived.DeviceConsumption {
		claims[c.StatConsumption] = "device_consumption"
	}
	return claims
}

func findMisplaced(prefs models.EnergyPreferences, claims map[string]string) []misplaced {
	var out []misplaced
	check := func(stat, section string) {
		wants, ok := claims[stat]
		if ok && wants != section {
			out = append(out, misplaced{stat: stat, section: section, wants: wants})
		}
	}
	for _, s := range prefs.EnergySources {
		switch s.Type {
		case "grid":
			for _, f := range s.FlowFrom {
				check(f.StatEnergyFrom, "grid.flow_from")
			}
			for _, f := range s.FlowTo {
				check(f.StatEnergyTo, "grid.flow_to")
			}
		default:
			check(s.StatEnergyFrom, s.Type)
			check(s.StatEnergyTo, s.Type)
		}
	}
	for _, c := range prefs.DeviceConsumption {
		check(c.StatConsumption, "device_consumption")
	}
	for _, c := range prefs.DeviceConsumptionWater {
		check(c.StatConsumption, "device_consumption_water")
	}
	return out
}

// removeMisplaced strips only the wrongly-placed uses, leaving any
// correctly-placed use of the same statistic alone.
func removeMisplaced(prefs *models.EnergyPreferences, claims map[string]string) {
	misplacedIn := func(stat, section string) bool {
		wants, ok := claims[stat]
		return ok && wants != section
	}

	out := models.EnergyPreferences{}
	for _, src := range prefs.EnergySources {
		src = src.Clone()
		switch src.Type {
		case "grid":
			var from []models.GridFlow
			for _, f := range src.FlowFrom {
				if !misplacedIn(f.StatEnergyFrom, "grid.flow_from") {
					from = append(from, f)
				}
			}
			var to []models.GridFlow
			for _, f := range src.FlowTo {
				if !misplacedIn(f.StatEnergyTo, "grid.flow_to") {
					to = append(to, f)
				}
			}
			if len(from) == 0 && len(to) == 0 {
				continue
			}
			src.FlowFrom = from
			src.FlowTo = to
		default:
			// Stat-level, like the grid flows above: clear only the
			// claimed stat and keep the source while the other one is
			// still the operator's.
			fromGone := misplacedIn(src.StatEnergyFrom, src.Type)
			toGone := misplacedIn(src.StatEnergyTo, src.Type)
			if fromGone && (src.StatEnergyTo == "" || toGone) {
				continue
			}
			if fromGone {
				src.StatEnergyFrom = ""
			}
			if toGone {
				src.StatEnergyTo = ""
			}
		}
		out.EnergySources = append(out.EnergySources, src)
	}
	for _, dev := range prefs.DeviceConsumption {
		if misplacedIn(dev.StatConsumption, "device_consumption") {
			continue
		}
		out.DeviceConsumption = append(out.DeviceConsumption, dev)
	}
	for _, dev := range prefs.DeviceConsumptionWater {
		if misplacedIn(dev.StatConsumption, "device_consumption_water") {
			continue
		}
		out.DeviceConsumptionWater = append(out.DeviceConsumptionWater, dev)
	}
	*prefs = out
}

func hasFlowFrom(flows []models.GridFlow, stat string) bool {
	for _, f := range flows {
		if f.StatEnergyFrom == stat {
			return true
		}
	}
	return false
}

func hasFlowTo(flows []models.GridFlow, stat string) bool {
	for _, f := range flows {
		if f.StatEnergyTo == stat {
			return true
		}
	}
	return false
}

func sourceJSON(s models.EnergySource) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func consumptionJSON(c models.DeviceConsumption) string {
	b, _ := json.Marshal(c)
	return string(b)
}
