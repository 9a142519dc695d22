package topology

import "strings"

// CircuitRole is a circuit's role in the energy system.
type CircuitRole string

const (
	// RoleLoad is a pure consumer. Its imported-energy reading is CT
	// noise and must never surface as a source.
	RoleLoad CircuitRole = "load"
	// RolePVFeed feeds a solar sub-device.
	RolePVFeed CircuitRole = "pv_feed"
	// RoleBatteryFeed feeds a battery sub-device.
	RoleBatteryFeed CircuitRole = "battery_feed"
	// RoleEVFeed feeds an EV charger. Treated as load for source
	// selection, tracked separately for reporting.
	RoleEVFeed CircuitRole = "ev_feed"
)

// evNamePatterns match circuit names that indicate an EV charger when no
// sub-device feed tells us otherwise.
var evNamePatterns = []string{
	"ev charger",
	"car charger",
	"wallbox",
	"wall connector",
	"chargepoint",
	"evse",
}

// Classify assigns a circuit exactly one role. A circuit feeding a
// sub-device takes its role from the sub-device's kind; EV name matching
// only applies to circuits that feed nothing.
func Classify(m *Model, c *Circuit) CircuitRole {
	if feed := m.FeedFor(c); feed != nil {
		if feed.Kind == KindBattery {
			return RoleBatteryFeed
		}
		return RolePVFeed
	}

	name := strings.ToLower(c.Name)
	for _, pattern := range evNamePatterns {
		if strings.Contains(name, pattern) {
			return RoleEVFeed
		}
	}

	return RoleLoad
}
