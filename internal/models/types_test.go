package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierJSON(t *testing.T) {
	var d Device
	raw := `{"id":"dev-1","name":"Main Panel","identifiers":[["span_ebus","nt-2143-c1akc"]]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &d))

	require.Len(t, d.Identifiers, 1)
	assert.Equal(t, "span_ebus", d.Identifiers[0].Domain)
	assert.Equal(t, "nt-2143-c1akc", d.Identifiers[0].ID)

	id, ok := d.IdentifierFor("span_ebus")
	assert.True(t, ok)
	assert.Equal(t, "nt-2143-c1akc", id)
	_, ok = d.IdentifierFor("zwave")
	assert.False(t, ok)

	out, err := json.Marshal(d.Identifiers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `["span_ebus","nt-2143-c1akc"]`, string(out))
}

func TestIdentifierRejectsBadShape(t *testing.T) {
	var i Identifier
	require.Error(t, json.Unmarshal([]byte(`["only-one"]`), &i))
	require.Error(t, json.Unmarshal([]byte(`"not-an-array"`), &i))
}

func TestStateValueAndAttr(t *testing.T) {
	s := State{
		EntityID: "sensor.bess_position",
		State:    "IN_PANEL",
		Attributes: map[string]interface{}{
			"circuit_id": "c2",
			"count":      float64(3),
			"empty":      "unknown",
		},
	}

	assert.Equal(t, "IN_PANEL", s.Value())
	assert.Equal(t, "c2", s.Attr("circuit_id"))
	assert.Equal(t, "", s.Attr("count"), "non-string attributes read as empty")
	assert.Equal(t, "", s.Attr("empty"))
	assert.Equal(t, "", s.Attr("missing"))

	unavailable := State{State: "unavailable"}
	assert.Equal(t, "", unavailable.Value())
}

func TestDisplayNames(t *testing.T) {
	d := Device{ID: "dev-1", Name: "Circuit 4"}
	assert.Equal(t, "Circuit 4", d.DisplayName())
	d.NameByUser = "Kitchen"
	assert.Equal(t, "Kitchen", d.DisplayName())

	e := Entity{EntityID: "sensor.x", OriginalName: "Imported Energy"}
	assert.Equal(t, "Imported Energy", e.DisplayName())
	e.Name = "Grid Import"
	assert.Equal(t, "Grid Import", e.DisplayName())
}

func TestEnergyPreferencesClone(t *testing.T) {
	price := 0.32
	orig := EnergyPreferences{
		EnergySources: []EnergySource{
			{Type: "grid", FlowFrom: []GridFlow{{StatEnergyFrom: "a", NumberEnergyPrice: &price}}},
		},
		DeviceConsumption: []DeviceConsumption{{StatConsumption: "b"}},
	}

	clone := orig.Clone()
	clone.EnergySources[0].FlowFrom[0].StatEnergyFrom = "changed"
	*clone.EnergySources[0].FlowFrom[0].NumberEnergyPrice = 0.99
	clone.DeviceConsumption[0].StatConsumption = "changed"

	assert.Equal(t, "a", orig.EnergySources[0].FlowFrom[0].StatEnergyFrom)
	assert.Equal(t, 0.32, *orig.EnergySources[0].FlowFrom[0].NumberEnergyPrice)
	assert.Equal(t, "b", orig.DeviceConsumption[0].StatConsumption)
}

func TestEntityIDs(t *testing.T) {
	prefs := EnergyPreferences{
		EnergySources: []EnergySource{
			{Type: "grid", FlowFrom: []GridFlow{{StatEnergyFrom: "a"}}, FlowTo: []GridFlow{{StatEnergyTo: "b"}}},
			{Type: "battery", StatEnergyFrom: "c", StatEnergyTo: "d"},
		},
		DeviceConsumption:      []DeviceConsumption{{StatConsumption: "e"}},
		DeviceConsumptionWater: []DeviceConsumption{{StatConsumption: "f"}},
	}

	ids := prefs.EntityIDs()
	for _, want := range []string{"a", "b", "c", "d", "e", "f"} {
		assert.Contains(t, ids, want)
	}
	assert.Len(t, ids, 6)
}
