// Package snapshot persists a fetched registry dump so the resolver can
// be re-run offline against the same installation state.
package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/electrification-bus/hass-atlas/internal/registry"
)

func init() {
	// State attributes decode from JSON into untyped containers.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
}

// Snapshot is a registry dump plus capture metadata.
type Snapshot struct {
	Version   int
	Host      string
	CreatedAt time.Time
	Data      registry.Snapshot
}

// FilePath derives the snapshot path from the config path,
// config.yaml -> config.snapshot.
func FilePath(configPath string) string {
	ext := filepath.Ext(configPath)
	return strings.TrimSuffix(configPath, ext) + ".snapshot"
}

// New wraps a fetched registry dump for saving.
func New(host string, data registry.Snapshot) *Snapshot {
	return &Snapshot{
		Version:   1,
		Host:      host,
		CreatedAt: time.Now(),
		Data:      data,
	}
}

// Load reads a snapshot from disk.
func Load(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer file.Close()

	var snap Snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Version != 1 {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	// Gob does not preserve pointer identity across the device and
	// entity slices, so rebuild the device→entity links.
	snap.Data.AttachEntities()
	return &snap, nil
}

// Save writes the snapshot atomically, temp file then rename.
func (s *Snapshot) Save(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}

	if err := gob.NewEncoder(file).Encode(s); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}
