// Package report renders resolver output for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/electrification-bus/hass-atlas/internal/discovery"
	"github.com/electrification-bus/hass-atlas/internal/energy"
	"github.com/electrification-bus/hass-atlas/internal/topology"
)

// PrintTopology renders the panel forest with circuits and sub-devices.
func PrintTopology(w io.Writer, m *topology.Model, warnings []string) {
	fmt.Fprintf(w, "Panel Topology:\n")
	fmt.Fprintf(w, "---------------\n")
	for _, lead := range m.LeadPanels() {
		printPanel(w, m, lead, 0)
	}
	if len(warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, warning := range warnings {
			fmt.Fprintf(w, "  ! %s\n", warning)
		}
	}
}

func printPanel(w io.Writer, m *topology.Model, p *topology.Panel, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s (%s)\n", indent, p.Name, p.Serial)
	if p.Battery != nil {
		printSubDevice(w, indent, p.Battery)
	}
	if p.Solar != nil {
		printSubDevice(w, indent, p.Solar)
	}
	for i := range p.Circuits {
		c := &p.Circuits[i]
		role := topology.Classify(m, c)
		if role == topology.RoleLoad {
			fmt.Fprintf(w, "%s  - %s\n", indent, c.Name)
		} else {
			fmt.Fprintf(w, "%s  - %s [%s]\n", indent, c.Name, role)
		}
	}
	for _, child := range m.Children(p.Serial) {
		printPanel(w, m, child, depth+1)
	}
}

func printSubDevice(w io.Writer, indent string, sd *topology.SubDevice) {
	desc := string(sd.Position)
	if sd.Vendor != "" {
		desc += ", " + sd.Vendor
	}
	if sd.Model != "" {
		desc += " " + sd.Model
	}
	fmt.Fprintf(w, "%s  * %s: %s\n", indent, sd.Kind, desc)
}

// PrintAssignments renders the flow assignment table and any flagged
// flows needing manual attention.
func PrintAssignments(w io.Writer, res topology.Result) {
	resolved := res.Resolved()
	fmt.Fprintf(w, "\nFlow Assignments:\n")
	fmt.Fprintf(w, "-----------------\n")
	fmt.Fprintf(w, "%-18s %-45s %s\n", "Flow", "Entity", "Reason")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 100))
	for _, a := range resolved {
		fmt.Fprintf(w, "%-18s %-45s %s\n", a.Flow, a.EntityID, a.Rationale)
	}

	unresolved := res.Unresolved()
	if len(unresolved) > 0 {
		fmt.Fprintf(w, "\nUnresolved Flows (manual attention needed):\n")
		for _, a := range unresolved {
			fmt.Fprintf(w, "  ! %-18s %s\n", a.Flow, a.Rationale)
		}
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warning)
	}
}

// PrintDiff renders merge changes, conflicts first.
func PrintDiff(w io.Writer, diff energy.Diff) {
	fmt.Fprintf(w, "\nEnergy Dashboard Changes:\n")
	fmt.Fprintf(w, "-------------------------\n")
	if len(diff) == 0 {
		fmt.Fprintf(w, "No changes needed\n")
		return
	}
	for _, e := range diff.Conflicts() {
		fmt.Fprintf(w, "  ! CONFLICT %s\n", e.Detail)
	}
	for _, e := range diff {
		switch e.Kind {
		case energy.DiffAdded:
			fmt.Fprintf(w, "  + %s: %s\n", e.Section, e.Key)
		case energy.DiffUpdated:
			fmt.Fprintf(w, "  ~ %s: %s\n", e.Section, e.Key)
			fmt.Fprintf(w, "      before: %s\n", e.Before)
			fmt.Fprintf(w, "      after:  %s\n", e.After)
		}
	}
}

// PrintStale renders the audit findings.
func PrintStale(w io.Writer, stale map[string][]string) {
	fmt.Fprintf(w, "\nStale Energy Dashboard References:\n")
	fmt.Fprintf(w, "----------------------------------\n")
	if len(stale) == 0 {
		fmt.Fprintf(w, "No stale references found\n")
		return
	}
	sections := make([]string, 0, len(stale))
	for section := range stale {
		sections = append(sections, section)
	}
	sort.Strings(sections)
	for _, section := range sections {
		for _, id := range stale[section] {
			fmt.Fprintf(w, "  ! %-24s %s\n", section, id)
		}
	}
}

// PrintInstances renders discovered Home Assistant instances.
func PrintInstances(w io.Writer, instances []discovery.Instance) {
	if len(instances) == 0 {
		fmt.Fprintf(w, "No Home Assistant instances found\n")
		return
	}
	fmt.Fprintf(w, "Discovered Home Assistant instances:\n")
	fmt.Fprintf(w, "%-30s %-22s %-10s %s\n", "Name", "URL", "Version", "Host")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 80))
	for _, inst := range instances {
		name := inst.LocationName
		if name == "" {
			name = inst.Name
		}
		fmt.Fprintf(w, "%-30s %-22s %-10s %s\n", name, inst.URL(), inst.Version, inst.Host)
	}
}
