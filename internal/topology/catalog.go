package topology

import (
	"sort"
	"strings"

	"github.com/electrification-bus/hass-atlas/internal/models"
)

// Integration is one other energy-capable integration detected on the
// instance. EntityIDs holds its enabled total_increasing energy entities.
type Integration struct {
	Platform  string
	Vendor    string // inferred from the platform id via the vendor table
	EntityIDs []string
}

// FindEntity returns the first entity id containing any of the given
// keywords, tried in order of preference. Empty when nothing matches.
func (i Integration) FindEntity(keywords ...string) string {
	for _, keyword := range keywords {
		for _, id := range i.EntityIDs {
			if strings.Contains(id, keyword) {
				return id
			}
		}
	}
	return ""
}

// FindEntityWith returns the first entity id containing every given
// substring. Empty when nothing matches.
func (i Integration) FindEntityWith(substrs ...string) string {
	for _, id := range i.EntityIDs {
		all := true
		for _, s := range substrs {
			if !strings.Contains(id, s) {
				all = false
				break
			}
		}
		if all {
			return id
		}
	}
	return ""
}

// Catalog is the list of detected energy integrations, sorted by
// platform for deterministic resolution.
type Catalog struct {
	Integrations []Integration
}

// ByPlatforms returns the integrations whose platform is in the given
// set, preserving catalog order.
func (c Catalog) ByPlatforms(platforms []string) []Integration {
	var out []Integration
	for _, integ := range c.Integrations {
		for _, p := range platforms {
			if integ.Platform == p {
				out = append(out, integ)
				break
			}
		}
	}
	return out
}

// DiscoverIntegrations scans all entities for device_class=energy with
// state_class=total_increasing and groups them by platform. The panel
// platform itself is skipped; its entities are handled through the
// topology model, not the catalog.
func DiscoverIntegrations(entities []*models.Entity, skipPlatform string, vendors *VendorTable) Catalog {
	byPlatform := make(map[string][]string)
	for _, e := range entities {
		if e.Platform == skipPlatform || e.DisabledBy != "" {
			continue
		}
		if e.DeviceClass != "energy" || e.StateClass != "total_increasing" {
			continue
		}
		byPlatform[e.Platform] = append(byPlatform[e.Platform], e.EntityID)
	}

	platforms := make([]string, 0, len(byPlatform))
	for platform := range byPlatform {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	catalog := Catalog{}
	for _, platform := range platforms {
		ids := byPlatform[platform]
		sort.Strings(ids)
		catalog.Integrations = append(catalog.Integrations, Integration{
			Platform:  platform,
			Vendor:    vendors.VendorFor(platform),
			EntityIDs: ids,
		})
	}
	return catalog
}
