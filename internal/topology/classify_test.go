package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	p := &Panel{
		Serial: "nt-2143-c1akc",
		Circuits: []Circuit{
			{ID: "c1", Name: "Kitchen"},
			{ID: "c2", Name: "Garage EV Charger"},
			{ID: "c3", Name: "Wallbox"},
			{ID: "c4", Name: "Powerwall"},
			{ID: "c5", Name: "Rooftop PV"},
		},
		Battery: &SubDevice{Kind: KindBattery, Position: PositionInPanel, FeedCircuitID: "c4"},
		Solar:   &SubDevice{Kind: KindSolar, Position: PositionInPanel, FeedCircuitID: "c5"},
	}
	m := mustModel(t, p)

	cases := map[string]CircuitRole{
		"c1": RoleLoad,
		"c2": RoleEVFeed,
		"c3": RoleEVFeed,
		"c4": RoleBatteryFeed,
		"c5": RolePVFeed,
	}
	for id, want := range cases {
		c, _ := m.CircuitByID(id)
		require.Equal(t, want, Classify(m, c), "circuit %s", id)
	}
}

func TestClassifyFeedBeatsName(t *testing.T) {
	// A battery feed circuit someone named after an EV charger still
	// classifies from the feed, not the name.
	p := &Panel{
		Serial:   "nt-2143-c1akc",
		Circuits: []Circuit{{ID: "c1", Name: "EV Charger"}},
		Battery:  &SubDevice{Kind: KindBattery, Position: PositionInPanel, FeedCircuitID: "c1"},
	}
	m := mustModel(t, p)
	c, _ := m.CircuitByID("c1")
	require.Equal(t, RoleBatteryFeed, Classify(m, c))
}
