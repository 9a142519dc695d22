// Package registry turns raw Home Assistant registry and state dumps
// into the panel topology and the pool of candidate energy entities.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/electrification-bus/hass-atlas/internal/models"
	"github.com/electrification-bus/hass-atlas/internal/topology"
)

// Domain is the integration platform of the panel devices.
const Domain = "span_ebus"

// Child device model strings, as registered by the panel integration.
const (
	modelPanel        = "SPAN Panel"
	modelCircuit      = "Circuit"
	modelBattery      = "Battery Storage"
	modelSolar        = "Solar PV"
	modelEVCharger    = "EV Charger"
	modelSiteMetering = "Site Metering"
)

// Snapshot is everything the resolver needs, fetched once.
type Snapshot struct {
	Devices  []*models.Device
	Entities []*models.Entity
	Areas    []models.Area
	States   map[string]models.State
	Prefs    models.EnergyPreferences
}

// Enrich fills device_class, state_class and unit from live states. The
// entity registry list does not carry these; they only exist as runtime
// state attributes.
func (s *Snapshot) Enrich() {
	for _, e := range s.Entities {
		st, ok := s.States[e.EntityID]
		if !ok {
			continue
		}
		if e.DeviceClass == "" {
			e.DeviceClass = st.Attr("device_class")
		}
		if e.StateClass == "" {
			e.StateClass = st.Attr("state_class")
		}
		if e.Unit == "" {
			e.Unit = st.Attr("unit_of_measurement")
		}
	}
}

// AttachEntities hangs each entity off its owning device.
func (s *Snapshot) AttachEntities() {
	byDevice := make(map[string][]*models.Entity)
	for _, e := range s.Entities {
		if e.DeviceID != "" {
			byDevice[e.DeviceID] = append(byDevice[e.DeviceID], e)
		}
	}
	for _, d := range s.Devices {
		d.Entities = byDevice[d.ID]
	}
}

// StateMap indexes a get_states response by entity id.
func StateMap(states []models.State) map[string]models.State {
	m := make(map[string]models.State, len(states))
	for _, st := range states {
		m[st.EntityID] = st
	}
	return m
}

// deviceTree is one panel device and its classified children.
type deviceTree struct {
	panel        *models.Device
	circuits     []*models.Device
	battery      *models.Device
	solar        *models.Device
	evCharger    *models.Device
	siteMetering *models.Device
}

func (t *deviceTree) serial() string {
	serial, _ := t.panel.IdentifierFor(Domain)
	return serial
}

// BuildModel extracts the panel topology from a snapshot. Sub-devices
// whose claimed feed circuit cannot be resolved are reported as
// warnings, not errors; the resolver skips them.
func BuildModel(snap *Snapshot) (*topology.Model, []string, error) {
	trees, deviceSerial := buildTrees(snap.Devices)
	if len(trees) == 0 {
		return nil, nil, fmt.Errorf("no %s panel devices in registry", Domain)
	}

	var warnings []string
	panels := make([]*topology.Panel, 0, len(trees))
	for _, t := range trees {
		serial := t.serial()
		if serial == "" {
			warnings = append(warnings, fmt.Sprintf("panel device %s has no %s identifier, skipping", t.panel.DisplayName(), Domain))
			continue
		}
		p := &topology.Panel{
			Serial:           serial,
			Name:             t.panel.DisplayName(),
			ParentSerial:     deviceSerial[t.panel.ViaDeviceID],
			UpstreamImported: upstreamEntity(t, "imported-energy"),
			UpstreamExported: upstreamEntity(t, "exported-energy"),
			UpstreamPower:    upstreamEntity(t, "active-power"),
		}
		for _, c := range t.circuits {
			p.Circuits = append(p.Circuits, topology.Circuit{
				ID:             circuitNodeID(c, serial),
				Name:           c.DisplayName(),
				ExportedEnergy: entityBySuffix(c, "exported-energy"),
				ImportedEnergy: entityBySuffix(c, "imported-energy"),
				ActivePower:    entityBySuffix(c, "active-power"),
			})
		}
		sort.Slice(p.Circuits, func(i, j int) bool { return p.Circuits[i].ID < p.Circuits[j].ID })

		p.Battery = subDevice(t.battery, topology.KindBattery, snap.States, &warnings)
		p.Solar = subDevice(t.solar, topology.KindSolar, snap.States, &warnings)
		panels = append(panels, p)
	}

	m, err := topology.NewModel(Domain, panels)
	if err != nil {
		return nil, warnings, err
	}
	return m, warnings, nil
}

// buildTrees groups the integration's devices into per-panel trees. A
// device with the panel model string is always a tree root; for
// sub-panels in a daisy-chain via_device_id points at the parent panel
// and carries the hierarchy, not the tree membership.
func buildTrees(devices []*models.Device) ([]*deviceTree, map[string]string) {
	own := make(map[string]*models.Device)
	for _, d := range devices {
		if _, ok := d.IdentifierFor(Domain); ok {
			own[d.ID] = d
		}
	}

	deviceSerial := make(map[string]string)
	var roots []*models.Device
	childrenOf := make(map[string][]*models.Device)
	for _, d := range devices {
		if _, ok := own[d.ID]; !ok {
			continue
		}
		isPanel := d.Model == modelPanel
		if _, parentOwned := own[d.ViaDeviceID]; isPanel || !parentOwned {
			roots = append(roots, d)
			if serial, ok := d.IdentifierFor(Domain); ok {
				deviceSerial[d.ID] = serial
			}
		} else {
			childrenOf[d.ViaDeviceID] = append(childrenOf[d.ViaDeviceID], d)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return deviceSerial[roots[i].ID] < deviceSerial[roots[j].ID] })

	var trees []*deviceTree
	for _, panel := range roots {
		t := &deviceTree{panel: panel}
		for _, child := range childrenOf[panel.ID] {
			switch child.Model {
			case modelBattery:
				t.battery = child
			case modelSolar:
				t.solar = child
			case modelEVCharger:
				t.evCharger = child
			case modelSiteMetering:
				t.siteMetering = child
			case modelCircuit:
				t.circuits = append(t.circuits, child)
			default:
				// Unrecognized child types meter a branch too.
				t.circuits = append(t.circuits, child)
			}
		}
		trees = append(trees, t)
	}
	return trees, deviceSerial
}

// subDevice reads a battery or solar sub-device's topology properties
// from its entities' live states. A feed pointing at nothing the panel
// knows about is inconsistent topology: warn and drop the sub-device.
func subDevice(dev *models.Device, kind topology.Kind, states map[string]models.State, warnings *[]string) *topology.SubDevice {
	if dev == nil {
		return nil
	}
	pos := stateValue(dev, "_relative-position", states)
	if pos == "" {
		*warnings = append(*warnings, fmt.Sprintf("%s %s reports no relative position, ignoring", kind, dev.DisplayName()))
		return nil
	}
	sd := &topology.SubDevice{
		Kind:     kind,
		Position: topology.Position(pos),
		Vendor:   strings.ToLower(stateValue(dev, "_vendor-name", states)),
	}
	if kind == topology.KindBattery {
		sd.Model = stateValue(dev, "_model", states)
	} else {
		sd.Model = stateValue(dev, "_product-name", states)
	}
	if feed := entityBySuffix(dev, "_feed"); feed != "" {
		if st, ok := states[feed]; ok {
			sd.FeedCircuitID = st.Attr("circuit_id")
		}
	}
	if sd.Position == topology.PositionInPanel && sd.FeedCircuitID == "" {
		*warnings = append(*warnings, fmt.Sprintf("%s %s is IN_PANEL but names no feed circuit", kind, dev.DisplayName()))
		return nil
	}
	return sd
}

// upstreamEntity finds a panel's grid-facing lug entity. Primary is the
// panel device's lugs-upstream sensor; older firmware exposes the same
// readings on a separate site metering device or with a bare suffix.
func upstreamEntity(t *deviceTree, suffix string) string {
	if id := entityBySuffix(t.panel, "lugs-upstream_"+suffix); id != "" {
		return id
	}
	if t.siteMetering != nil {
		if id := entityBySuffix(t.siteMetering, suffix); id != "" {
			return id
		}
	}
	return entityBySuffix(t.panel, suffix)
}

// entityBySuffix matches on unique_id suffix alone. Entity ids go
// through slugification of user-editable names, so the unique id is the
// only stable handle on a sensor's role.
func entityBySuffix(dev *models.Device, suffix string) string {
	for _, e := range dev.Entities {
		if e.DisabledBy == "" && strings.HasSuffix(e.UniqueID, suffix) {
			return e.EntityID
		}
	}
	return ""
}

func stateValue(dev *models.Device, suffix string, states map[string]models.State) string {
	id := entityBySuffix(dev, suffix)
	if id == "" {
		return ""
	}
	return states[id].Value()
}

// circuitNodeID extracts the node id from a circuit device identifier
// of the form serial_nodeid.
func circuitNodeID(dev *models.Device, panelSerial string) string {
	ident, ok := dev.IdentifierFor(Domain)
	if !ok {
		return dev.ID
	}
	if rest, found := strings.CutPrefix(ident, panelSerial+"_"); found {
		return rest
	}
	if _, rest, found := strings.Cut(ident, "_"); found {
		return rest
	}
	return ident
}
