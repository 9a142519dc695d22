// Package discovery finds Home Assistant instances on the local
// network via mDNS.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	serviceType = "_home-assistant._tcp"
	domain      = "local."
)

// Instance is one discovered Home Assistant installation.
type Instance struct {
	Name         string
	Host         string
	IP           string
	Port         int
	Version      string
	LocationName string
	UUID         string
}

// URL returns the base URL to reach the instance over plain HTTP.
func (i Instance) URL() string {
	return fmt.Sprintf("http://%s:%d", i.IP, i.Port)
}

// Discover browses for instances until the timeout elapses. An empty
// result is not an error; the caller decides what silence means.
func Discover(ctx context.Context, timeout time.Duration) ([]Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	collected := make(chan []Instance, 1)
	go func() {
		seen := make(map[string]Instance)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					collected <- flatten(seen)
					return
				}
				inst, ok := fromEntry(entry)
				if !ok {
					continue
				}
				if _, dup := seen[inst.Name]; !dup {
					seen[inst.Name] = inst
				}
			case <-removed:
			case <-ctx.Done():
				collected <- flatten(seen)
				return
			}
		}
	}()

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, serviceType, domain, entries, removed)
	}()

	select {
	case err := <-browseErr:
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("browsing for %s: %w", serviceType, err)
		}
	case <-ctx.Done():
	}
	return <-collected, nil
}

func flatten(seen map[string]Instance) []Instance {
	out := make([]Instance, 0, len(seen))
	for _, inst := range seen {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func fromEntry(entry *zeroconf.ServiceEntry) (Instance, bool) {
	inst := Instance{
		Name: entry.Instance,
		Host: entry.HostName,
		Port: entry.Port,
	}
	if inst.Port == 0 {
		inst.Port = 8123
	}
	if len(entry.AddrIPv4) > 0 {
		inst.IP = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		inst.IP = entry.AddrIPv6[0].String()
	}
	if inst.IP == "" {
		return Instance{}, false
	}
	for _, txt := range entry.Text {
		key, value, found := strings.Cut(txt, "=")
		if !found {
			continue
		}
		switch key {
		case "version":
			inst.Version = value
		case "location_name":
			inst.LocationName = value
		case "uuid":
			inst.UUID = value
		}
	}
	return inst, true
}
