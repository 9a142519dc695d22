package energy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electrification-bus/hass-atlas/internal/models"
)

func derivedPrefs() models.EnergyPreferences {
	return FromResult(sampleResult())
}

func diffKeys(diff Diff, kind DiffKind) []string {
	var out []string
	for _, e := range diff {
		if e.Kind == kind {
			out = append(out, e.Key)
		}
	}
	return out
}

func TestMergeIntoEmpty(t *testing.T) {
	merged, diff := Merge(models.EnergyPreferences{}, derivedPrefs())

	assert.Len(t, merged.EnergySources, 3)
	assert.Len(t, merged.DeviceConsumption, 3)
	assert.Empty(t, diff.Conflicts())
	assert.Len(t, diffKeys(diff, DiffAdded), 7)
}

func TestMergeIsIdempotent(t *testing.T) {
	once, _ := Merge(models.EnergyPreferences{}, derivedPrefs())
	twice, diff := Merge(once, derivedPrefs())

	assert.Empty(t, diff, "re-running against an unchanged installation is a no-op")

	onceJSON, err := json.Marshal(once)
	require.NoError(t, err)
	twiceJSON, err := json.Marshal(twice)
	require.NoError(t, err)
	assert.Equal(t, string(onceJSON), string(twiceJSON))
}

func TestMergeKeepsOperatorEntries(t *testing.T) {
	price := 0.32
	existing := models.EnergyPreferences{
		EnergySources: []models.EnergySource{
			{
				Type: "grid",
				FlowFrom: []models.GridFlow{
					{StatEnergyFrom: "sensor.main_lugs_imported", StatCost: "sensor.grid_cost", NumberEnergyPrice: &price},
					{StatEnergyFrom: "sensor.legacy_meter"},
				},
			},
			{Type: "gas", StatEnergyFrom: "sensor.gas_meter"},
		},
		DeviceConsumption: []models.DeviceConsumption{
			{StatConsumption: "sensor.pool_pump", Name: "Pool"},
		},
	}

	merged, diff := Merge(existing, derivedPrefs())

	// The existing grid flow keeps its operator-set cost fields.
	grid := merged.EnergySources[0]
	require.Equal(t, "grid", grid.Type)
	require.Len(t, grid.FlowFrom, 2)
	assert.Equal(t, "sensor.grid_cost", grid.FlowFrom[0].StatCost)
	require.NotNil(t, grid.FlowFrom[0].NumberEnergyPrice)
	assert.Equal(t, 0.32, *grid.FlowFrom[0].NumberEnergyPrice)

	// Entries the resolver knows nothing about survive untouched.
	assert.Equal(t, "sensor.legacy_meter", grid.FlowFrom[1].StatEnergyFrom)
	hasGas := false
	for _, src := range merged.EnergySources {
		if src.Type == "gas" {
			hasGas = true
		}
	}
	assert.True(t, hasGas)
	assert.Equal(t, "sensor.pool_pump", merged.DeviceConsumption[0].StatConsumption)

	added := diffKeys(diff, DiffAdded)
	assert.NotContains(t, added, "sensor.main_lugs_imported", "already present grid flow is not re-added")
	assert.Contains(t, added, "sensor.main_lugs_exported")
	assert.Empty(t, diff.Conflicts())
}

func TestMergeUpdatesChangedEntry(t *testing.T) {
	existing := models.EnergyPreferences{
		DeviceConsumption: []models.DeviceConsumption{
			{StatConsumption: "sensor.ev_exported", IncludedInStat: "sensor.wrong_parent"},
		},
	}

	merged, diff := Merge(existing, derivedPrefs())

	var entry models.DeviceConsumption
	for _, dc := range merged.DeviceConsumption {
		if dc.StatConsumption == "sensor.ev_exported" {
			entry = dc
		}
	}
	assert.Equal(t, "sensor.garage_lugs_imported", entry.IncludedInStat)

	updated := diffKeys(diff, DiffUpdated)
	require.Contains(t, updated, "sensor.ev_exported")
	for _, e := range diff {
		if e.Kind == DiffUpdated && e.Key == "sensor.ev_exported" {
			assert.Contains(t, e.Before, "sensor.wrong_parent")
			assert.Contains(t, e.After, "sensor.garage_lugs_imported")
		}
	}
}

func TestMergeConflictRelocatesEntity(t *testing.T) {
	// The battery discharge stat was configured as plain consumption.
	// The derived placement wins and the old usage goes away.
	existing := models.EnergyPreferences{
		DeviceConsumption: []models.DeviceConsumption{
			{StatConsumption: "sensor.pw_imported"},
		},
	}

	merged, diff := Merge(existing, derivedPrefs())

	for _, dc := range merged.DeviceConsumption {
		assert.NotEqual(t, "sensor.pw_imported", dc.StatConsumption)
	}
	var battery *models.EnergySource
	for i := range merged.EnergySources {
		if merged.EnergySources[i].Type == "battery" {
			battery = &merged.EnergySources[i]
		}
	}
	require.NotNil(t, battery)
	assert.Equal(t, "sensor.pw_imported", battery.StatEnergyFrom)

	conflicts := diff.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "sensor.pw_imported", conflicts[0].Key)
	assert.Contains(t, conflicts[0].Detail, "device_consumption")
}

func TestMergeConflictKeepsUnclaimedChargeStat(t *testing.T) {
	// Only the discharge stat relocates. The charge stat is still the
	// operator's and must survive the conflict.
	existing := models.EnergyPreferences{
		EnergySources: []models.EnergySource{
			{Type: "battery", StatEnergyFrom: "sensor.old_discharge", StatEnergyTo: "sensor.old_charge"},
		},
	}
	derived := models.EnergyPreferences{
		DeviceConsumption: []models.DeviceConsumption{
			{StatConsumption: "sensor.old_discharge", Name: "Heat Pump"},
		},
	}

	merged, diff := Merge(existing, derived)

	var battery *models.EnergySource
	for i := range merged.EnergySources {
		if merged.EnergySources[i].Type == "battery" {
			battery = &merged.EnergySources[i]
		}
	}
	require.NotNil(t, battery)
	assert.Empty(t, battery.StatEnergyFrom)
	assert.Equal(t, "sensor.old_charge", battery.StatEnergyTo)

	conflicts := diff.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "sensor.old_discharge", conflicts[0].Key)
}

func TestMergeConflictDropsSourceWhenBothStatsRelocate(t *testing.T) {
	existing := models.EnergyPreferences{
		EnergySources: []models.EnergySource{
			{Type: "battery", StatEnergyFrom: "sensor.old_discharge", StatEnergyTo: "sensor.old_charge"},
		},
	}
	derived := models.EnergyPreferences{
		DeviceConsumption: []models.DeviceConsumption{
			{StatConsumption: "sensor.old_discharge"},
			{StatConsumption: "sensor.old_charge"},
		},
	}

	merged, diff := Merge(existing, derived)

	for _, src := range merged.EnergySources {
		assert.NotEqual(t, "battery", src.Type)
	}
	assert.Len(t, diff.Conflicts(), 2)
}

func TestMergeWaterRelocationIsRecorded(t *testing.T) {
	existing := models.EnergyPreferences{
		DeviceConsumptionWater: []models.DeviceConsumption{
			{StatConsumption: "sensor.heat_pump_energy"},
		},
	}
	derived := models.EnergyPreferences{
		DeviceConsumption: []models.DeviceConsumption{
			{StatConsumption: "sensor.heat_pump_energy"},
		},
	}

	merged, diff := Merge(existing, derived)

	assert.Empty(t, merged.DeviceConsumptionWater)

	conflicts := diff.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "device_consumption_water", conflicts[0].Section)
	assert.Equal(t, "sensor.heat_pump_energy", conflicts[0].Key)
}

func TestMergeGridPrependedWhenMissing(t *testing.T) {
	existing := models.EnergyPreferences{
		EnergySources: []models.EnergySource{
			{Type: "solar", StatEnergyFrom: "sensor.other_solar"},
		},
	}
	merged, _ := Merge(existing, derivedPrefs())

	assert.Equal(t, "grid", merged.EnergySources[0].Type, "grid source leads the list")
}
