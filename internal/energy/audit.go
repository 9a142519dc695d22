package energy

import (
	"sort"

	"github.com/electrification-bus/hass-atlas/internal/models"
)

// FindStale returns preference entries whose energy statistic no longer
// exists in the registry, grouped by section. External statistics
// (colon-separated ids pushed by an integration) are skipped; the
// entity registry says nothing about those.
func FindStale(prefs models.EnergyPreferences, known map[string]struct{}) map[string][]string {
	stale := make(map[string][]string)
	flag := func(section, id string) {
		if id == "" {
			return
		}
		if _, ok := known[id]; ok {
			return
		}
		if isExternalStat(id) {
			return
		}
		stale[section] = append(stale[section], id)
	}
	for _, src := range prefs.EnergySources {
		switch src.Type {
		case "grid":
			for _, f := range src.FlowFrom {
				flag("grid.flow_from", f.StatEnergyFrom)
			}
			for _, f := range src.FlowTo {
				flag("grid.flow_to", f.StatEnergyTo)
			}
		default:
			flag(src.Type, src.StatEnergyFrom)
			flag(src.Type, src.StatEnergyTo)
		}
	}
	for _, dev := range prefs.DeviceConsumption {
		flag("device_consumption", dev.StatConsumption)
	}
	for _, dev := range prefs.DeviceConsumptionWater {
		flag("device_consumption_water", dev.StatConsumption)
	}
	for section := range stale {
		sort.Strings(stale[section])
	}
	return stale
}

// RemoveRefs strips every use of the given statistics from the
// preferences. Grid sources whose flow lists empty out are dropped
// entirely; other sources are dropped when their energy stat is gone.
// Consumption entries pointing at a removed parent lose the nesting but
// stay configured.
func RemoveRefs(prefs models.EnergyPreferences, ids map[string]struct{}) models.EnergyPreferences {
	gone := func(id string) bool {
		_, ok := ids[id]
		return ok
	}

	out := models.EnergyPreferences{}
	for _, src := range prefs.EnergySources {
		src = src.Clone()
		switch src.Type {
		case "grid":
			var from []models.GridFlow
			for _, f := range src.FlowFrom {
				if !gone(f.StatEnergyFrom) {
					from = append(from, f)
				}
			}
			var to []models.GridFlow
			for _, f := range src.FlowTo {
				if !gone(f.StatEnergyTo) {
					to = append(to, f)
				}
			}
			if len(from) == 0 && len(to) == 0 {
				continue
			}
			src.FlowFrom = from
			src.FlowTo = to
		default:
			if gone(src.StatEnergyFrom) {
				continue
			}
			if gone(src.StatEnergyTo) {
				src.StatEnergyTo = ""
			}
		}
		out.EnergySources = append(out.EnergySources, src)
	}

	filter := func(devs []models.DeviceConsumption) []models.DeviceConsumption {
		var kept []models.DeviceConsumption
		for _, dev := range devs {
			if gone(dev.StatConsumption) {
				continue
			}
			if gone(dev.IncludedInStat) {
				dev.IncludedInStat = ""
			}
			kept = append(kept, dev)
		}
		return kept
	}
	out.DeviceConsumption = filter(prefs.DeviceConsumption)
	out.DeviceConsumptionWater = filter(prefs.DeviceConsumptionWater)
	return out
}

func isExternalStat(id string) bool {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return true
		}
	}
	return false
}
