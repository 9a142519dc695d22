package models

// Energy Dashboard preference shapes, mirroring the payload of
// energy/get_prefs and energy/save_prefs.

// GridFlow is one import or export leg of a grid source. Cost fields are
// operator-configured and must survive merges untouched.
type GridFlow struct {
	StatEnergyFrom    string   `json:"stat_energy_from,omitempty"`
	StatEnergyTo      string   `json:"stat_energy_to,omitempty"`
	StatCost          string   `json:"stat_cost,omitempty"`
	StatCompensation  string   `json:"stat_compensation,omitempty"`
	EntityEnergyPrice string   `json:"entity_energy_price,omitempty"`
	NumberEnergyPrice *float64 `json:"number_energy_price,omitempty"`
}

// EnergySource is one entry of energy_sources. Grid sources use the flow
// lists; solar and battery sources use the flat stat fields.
type EnergySource struct {
	Type              string     `json:"type"`
	FlowFrom          []GridFlow `json:"flow_from,omitempty"`
	FlowTo            []GridFlow `json:"flow_to,omitempty"`
	StatEnergyFrom    string     `json:"stat_energy_from,omitempty"`
	StatEnergyTo      string     `json:"stat_energy_to,omitempty"`
	StatRate          string     `json:"stat_rate,omitempty"`
	CostAdjustmentDay *float64   `json:"cost_adjustment_day,omitempty"`
	ConfigEntrySolar  string     `json:"config_entry_solar_forecast,omitempty"`
}

// DeviceConsumption is one entry of device_consumption (and of the water
// tab list). IncludedInStat nests the entry under a parent stat in the
// Sankey view.
type DeviceConsumption struct {
	StatConsumption string `json:"stat_consumption"`
	Name            string `json:"name,omitempty"`
	IncludedInStat  string `json:"included_in_stat,omitempty"`
	StatRate        string `json:"stat_rate,omitempty"`
}

// EnergyPreferences is the full Energy Dashboard configuration.
type EnergyPreferences struct {
	EnergySources          []EnergySource      `json:"energy_sources"`
	DeviceConsumption      []DeviceConsumption `json:"device_consumption"`
	DeviceConsumptionWater []DeviceConsumption `json:"device_consumption_water,omitempty"`
}

// Clone returns a deep copy of a grid flow.
func (f GridFlow) Clone() GridFlow {
	out := f
	if f.NumberEnergyPrice != nil {
		price := *f.NumberEnergyPrice
		out.NumberEnergyPrice = &price
	}
	return out
}

// Clone returns a deep copy of a source entry.
func (s EnergySource) Clone() EnergySource {
	out := s
	if s.FlowFrom != nil {
		out.FlowFrom = make([]GridFlow, len(s.FlowFrom))
		for i, f := range s.FlowFrom {
			out.FlowFrom[i] = f.Clone()
		}
	}
	if s.FlowTo != nil {
		out.FlowTo = make([]GridFlow, len(s.FlowTo))
		for i, f := range s.FlowTo {
			out.FlowTo[i] = f.Clone()
		}
	}
	if s.CostAdjustmentDay != nil {
		adj := *s.CostAdjustmentDay
		out.CostAdjustmentDay = &adj
	}
	return out
}

// Clone returns a deep copy of the preferences. Merging never mutates
// the fetched snapshot in place.
func (p EnergyPreferences) Clone() EnergyPreferences {
	out := EnergyPreferences{}
	if p.EnergySources != nil {
		out.EnergySources = make([]EnergySource, len(p.EnergySources))
		for i, s := range p.EnergySources {
			out.EnergySources[i] = s.Clone()
		}
	}
	if p.DeviceConsumption != nil {
		out.DeviceConsumption = append([]DeviceConsumption(nil), p.DeviceConsumption...)
	}
	if p.DeviceConsumptionWater != nil {
		out.DeviceConsumptionWater = append([]DeviceConsumption(nil), p.DeviceConsumptionWater...)
	}
	return out
}

// EntityIDs returns every entity reference used anywhere in the
// preferences, for stale-reference auditing.
func (p EnergyPreferences) EntityIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	add := func(id string) {
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	for _, src := range p.EnergySources {
		for _, flow := range src.FlowFrom {
			add(flow.StatEnergyFrom)
		}
		for _, flow := range src.FlowTo {
			add(flow.StatEnergyTo)
		}
		add(src.StatEnergyFrom)
		add(src.StatEnergyTo)
	}
	for _, dev := range p.DeviceConsumption {
		add(dev.StatConsumption)
	}
	for _, dev := range p.DeviceConsumptionWater {
		add(dev.StatConsumption)
	}
	return ids
}
