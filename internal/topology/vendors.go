package topology

import (
	"fmt"
	"sort"
	"strings"
)

// defaultVendorPlatforms maps lower-case vendor name fragments to the
// integration platforms known to meter that vendor's hardware. Matching
// is by substring so "Enphase Energy Inc." hits the "enphase" key.
var defaultVendorPlatforms = map[string][]string{
	"tesla":     {"powerwall", "tesla_fleet"},
	"enphase":   {"enphase_envoy"},
	"solaredge": {"solaredge"},
	"generac":   {"generac"},
	"sonnen":    {"sonnen"},
}

// VendorTable is a closed vendor→platform mapping, validated once at
// startup instead of consulted through runtime reflection.
type VendorTable struct {
	platforms map[string][]string
}

// DefaultVendorTable returns the built-in table.
func DefaultVendorTable() *VendorTable {
	table, err := NewVendorTable(nil)
	if err != nil {
		// the built-in table is validated by tests
		panic(err)
	}
	return table
}

// NewVendorTable merges extra entries over the built-in table and
// validates the result. Extra platforms extend a vendor's set rather
// than replacing it.
func NewVendorTable(extra map[string][]string) (*VendorTable, error) {
	merged := make(map[string][]string, len(defaultVendorPlatforms)+len(extra))
	for vendor, platforms := range defaultVendorPlatforms {
		merged[vendor] = append([]string(nil), platforms...)
	}
	for vendor, platforms := range extra {
		key := strings.ToLower(strings.TrimSpace(vendor))
		merged[key] = append(merged[key], platforms...)
	}

	for vendor, platforms := range merged {
		if vendor == "" {
			return nil, fmt.Errorf("vendor table: empty vendor key")
		}
		if len(platforms) == 0 {
			return nil, fmt.Errorf("vendor table: vendor %q has no platforms", vendor)
		}
		for _, platform := range platforms {
			if !validPlatformID(platform) {
				return nil, fmt.Errorf("vendor table: invalid platform id %q for vendor %q", platform, vendor)
			}
		}
		sort.Strings(platforms)
		merged[vendor] = dedupe(platforms)
	}

	return &VendorTable{platforms: merged}, nil
}

// PlatformsFor returns the sorted union of platform ids for every table
// key contained in the vendor name. Empty when the vendor is unknown.
func (t *VendorTable) PlatformsFor(vendor string) []string {
	if vendor == "" {
		return nil
	}
	lower := strings.ToLower(vendor)
	var out []string
	for key, platforms := range t.platforms {
		if strings.Contains(lower, key) {
			out = append(out, platforms...)
		}
	}
	sort.Strings(out)
	return dedupe(out)
}

// VendorFor returns the table key owning a platform id, "" when the
// platform is not in the table.
func (t *VendorTable) VendorFor(platform string) string {
	keys := make([]string, 0, len(t.platforms))
	for key := range t.platforms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, p := range t.platforms[key] {
			if p == platform {
				return key
			}
		}
	}
	return ""
}

func validPlatformID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
