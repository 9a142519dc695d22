package energy

import (
	"sort"

	"github.com/electrification-bus/hass-atlas/internal/models"
)

// DiscoverWaterSensors finds sensors suitable for the water tab,
// device_class water with a total_increasing state class.
func DiscoverWaterSensors(states map[string]models.State) []string {
	var ids []string
	for id, st := range states {
		if len(id) < len("sensor.") || id[:len("sensor.")] != "sensor." {
			continue
		}
		if st.Attr("device_class") == "water" && st.Attr("state_class") == "total_increasing" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MergeWater adds missing water sensors to the water tab and returns
// the ids that were actually new. Existing entries are never touched.
func MergeWater(prefs models.EnergyPreferences, ids []string) (models.EnergyPreferences, []string) {
	merged := prefs.Clone()
	existing := make(map[string]struct{}, len(merged.DeviceConsumptionWater))
	for _, dev := range merged.DeviceConsumptionWater {
		existing[dev.StatConsumption] = struct{}{}
	}
	var added []string
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			continue
		}
		merged.DeviceConsumptionWater = append(merged.DeviceConsumptionWater, models.DeviceConsumption{StatConsumption: id})
		existing[id] = struct{}{}
		added = append(added, id)
	}
	return merged, added
}
