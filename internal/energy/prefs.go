// Package energy turns resolver output into Energy Dashboard
// preferences and merges them with the operator's existing
// configuration without overwriting or double-counting anything.
package energy

import (
	"github.com/electrification-bus/hass-atlas/internal/models"
	"github.com/electrification-bus/hass-atlas/internal/topology"
)

// FromResult converts resolved assignments to an Energy Dashboard
// configuration. Unresolved assignments are excluded: a flagged flow is
// surfaced in the report, never written.
func FromResult(res topology.Result) models.EnergyPreferences {
	prefs := models.EnergyPreferences{
		DeviceConsumption: []models.DeviceConsumption{},
	}

	// One grid source aggregating every lead panel's import/export legs.
	grid := models.EnergySource{Type: "grid"}
	for _, a := range res.Resolved() {
		switch a.Flow {
		case topology.FlowGridImport:
			grid.FlowFrom = append(grid.FlowFrom, models.GridFlow{StatEnergyFrom: a.EntityID})
		case topology.FlowGridExport:
			grid.FlowTo = append(grid.FlowTo, models.GridFlow{StatEnergyTo: a.EntityID})
		}
	}
	if len(grid.FlowFrom) > 0 || len(grid.FlowTo) > 0 {
		prefs.EnergySources = append(prefs.EnergySources, grid)
	}

	for _, a := range res.Resolved() {
		if a.Flow != topology.FlowSolar {
			continue
		}
		prefs.EnergySources = append(prefs.EnergySources, models.EnergySource{
			Type:           "solar",
			StatEnergyFrom: a.EntityID,
			StatRate:       a.RateEntityID,
		})
	}

	// One battery source per panel, pairing its charge and discharge.
	var batteryOrder []string
	batteries := make(map[string]*models.EnergySource)
	for _, a := range res.Resolved() {
		if a.Flow != topology.FlowBatteryCharge && a.Flow != topology.FlowBatteryDischarge {
			continue
		}
		src, ok := batteries[a.PanelSerial]
		if !ok {
			src = &models.EnergySource{Type: "battery"}
			batteries[a.PanelSerial] = src
			batteryOrder = append(batteryOrder, a.PanelSerial)
		}
		if a.Flow == topology.FlowBatteryDischarge {
			src.StatEnergyFrom = a.EntityID
		} else {
			src.StatEnergyTo = a.EntityID
		}
		if src.StatRate == "" {
			src.StatRate = a.RateEntityID
		}
	}
	for _, serial := range batteryOrder {
		prefs.EnergySources = append(prefs.EnergySources, *batteries[serial])
	}

	for _, a := range res.Resolved() {
		if a.Flow != topology.FlowConsumption {
			continue
		}
		prefs.DeviceConsumption = append(prefs.DeviceConsumption, models.DeviceConsumption{
			StatConsumption: a.EntityID,
			IncludedInStat:  a.Parent,
			StatRate:        a.RateEntityID,
		})
	}

	return prefs
}
