package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/electrification-bus/hass-atlas/internal/config"
	"github.com/electrification-bus/hass-atlas/internal/discovery"
	"github.com/electrification-bus/hass-atlas/internal/energy"
	"github.com/electrification-bus/hass-atlas/internal/ha"
	"github.com/electrification-bus/hass-atlas/internal/logging"
	"github.com/electrification-bus/hass-atlas/internal/models"
	"github.com/electrification-bus/hass-atlas/internal/registry"
	"github.com/electrification-bus/hass-atlas/internal/report"
	"github.com/electrification-bus/hass-atlas/internal/snapshot"
	"github.com/electrification-bus/hass-atlas/internal/topology"
)

func main() {
	var (
		configPath   = flag.String("config", "config.yaml", "Path to config file")
		showTopology = flag.Bool("topology", false, "Show panel topology and flow assignments")
		energyMode   = flag.Bool("energy", false, "Configure the Energy Dashboard")
		dryRun       = flag.Bool("dry-run", false, "Show changes without saving")
		audit        = flag.Bool("audit", false, "Find stale Energy Dashboard references")
		prune        = flag.Bool("prune", false, "Remove stale references found by -audit")
		water        = flag.Bool("water", false, "Add water sensors to the water tab")
		discover     = flag.Bool("discover", false, "Discover Home Assistant instances via mDNS")
		saveSnap     = flag.Bool("save-snapshot", false, "Save the fetched registries for offline runs")
		fromSnap     = flag.Bool("snapshot", false, "Run against a previously saved snapshot")
		debug        = flag.Bool("debug", false, "Enable debug output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.DryRun = *dryRun
	cfg.Debug = *debug
	if *debug {
		cfg.Logging.Level = "debug"
	}

	log, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *discover {
		if err := runDiscover(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("discovery failed")
		}
		return
	}

	if !*showTopology && !*energyMode && !*audit && !*water && !*saveSnap {
		flag.Usage()
		os.Exit(2)
	}

	app := &app{cfg: cfg, log: log, configPath: *configPath, offline: *fromSnap}
	snap, err := app.loadSnapshot(ctx, *saveSnap)
	if err != nil {
		log.Fatal().Err(err).Msg("fetching installation state failed")
	}

	switch {
	case *showTopology:
		err = app.runTopology(snap)
	case *energyMode:
		err = app.runEnergy(ctx, snap)
	case *audit:
		err = app.runAudit(ctx, snap, *prune)
	case *water:
		err = app.runWater(ctx, snap, flag.Args())
	}
	if err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	configPath string
	offline    bool
}

func (a *app) connect(ctx context.Context) (*ha.Client, error) {
	if a.cfg.HomeAssistant.URL == "" {
		return nil, fmt.Errorf("no Home Assistant URL configured (config file or HA_URL)")
	}
	if a.cfg.HomeAssistant.Token == "" {
		return nil, fmt.Errorf("no access token configured (config file or HASS_API_TOKEN)")
	}
	return ha.Connect(ctx, a.cfg.HomeAssistant.URL, a.cfg.HomeAssistant.Token, a.log)
}

// loadSnapshot either reads the saved snapshot or fetches a fresh dump
// over the WebSocket API, optionally persisting it.
func (a *app) loadSnapshot(ctx context.Context, persist bool) (*registry.Snapshot, error) {
	if a.offline {
		snap, err := snapshot.Load(snapshot.FilePath(a.configPath))
		if err != nil {
			return nil, err
		}
		a.log.Info().Str("host", snap.Host).Time("created", snap.CreatedAt).Msg("using saved snapshot")
		return &snap.Data, nil
	}

	client, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	data, err := client.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if persist {
		path := snapshot.FilePath(a.configPath)
		if err := snapshot.New(a.cfg.HomeAssistant.URL, *data).Save(path); err != nil {
			return nil, err
		}
		a.log.Info().Str("path", path).Msg("snapshot saved")
	}
	return data, nil
}

// resolve builds the topology model and runs the flow resolver.
func (a *app) resolve(snap *registry.Snapshot) (*topology.Model, topology.Result, []string, error) {
	vendors, err := topology.NewVendorTable(a.cfg.Vendors)
	if err != nil {
		return nil, topology.Result{}, nil, fmt.Errorf("vendor config: %w", err)
	}
	m, warnings, err := registry.BuildModel(snap)
	if err != nil {
		return nil, topology.Result{}, nil, err
	}
	catalog := topology.DiscoverIntegrations(snap.Entities, m.Platform(), vendors)
	res := topology.Resolve(m, catalog, vendors)
	return m, res, warnings, nil
}

func (a *app) runTopology(snap *registry.Snapshot) error {
	m, res, warnings, err := a.resolve(snap)
	if err != nil {
		return err
	}
	report.PrintTopology(os.Stdout, m, warnings)
	report.PrintAssignments(os.Stdout, res)
	return nil
}

func (a *app) runEnergy(ctx context.Context, snap *registry.Snapshot) error {
	_, res, warnings, err := a.resolve(snap)
	if err != nil {
		return err
	}
	for _, warning := range warnings {
		a.log.Warn().Msg(warning)
	}

	derived := energy.FromResult(res)
	merged, diff := energy.Merge(snap.Prefs, derived)
	report.PrintDiff(os.Stdout, diff)
	for _, u := range res.Unresolved() {
		fmt.Printf("  ! unresolved %s: %s\n", u.Flow, u.Rationale)
	}

	if len(diff) == 0 {
		return nil
	}
	if a.cfg.DryRun {
		fmt.Println("\nDry run, nothing saved")
		return nil
	}
	if a.offline {
		fmt.Println("\nRunning from a snapshot, nothing saved")
		return nil
	}
	return a.savePrefs(ctx, merged)
}

func (a *app) runAudit(ctx context.Context, snap *registry.Snapshot, prune bool) error {
	known := make(map[string]struct{}, len(snap.Entities)+len(snap.States))
	for _, e := range snap.Entities {
		known[e.EntityID] = struct{}{}
	}
	for id := range snap.States {
		known[id] = struct{}{}
	}

	stale := energy.FindStale(snap.Prefs, known)
	report.PrintStale(os.Stdout, stale)
	if len(stale) == 0 || !prune {
		return nil
	}

	ids := make(map[string]struct{})
	for _, section := range stale {
		for _, id := range section {
			ids[id] = struct{}{}
		}
	}
	pruned := energy.RemoveRefs(snap.Prefs, ids)
	if a.cfg.DryRun {
		fmt.Printf("\nDry run, would remove %d stale reference(s)\n", len(ids))
		return nil
	}
	if a.offline {
		fmt.Println("\nRunning from a snapshot, nothing saved")
		return nil
	}
	return a.savePrefs(ctx, pruned)
}

func (a *app) runWater(ctx context.Context, snap *registry.Snapshot, explicit []string) error {
	var ids []string
	if len(explicit) > 0 {
		for _, id := range explicit {
			if _, ok := snap.States[id]; !ok {
				a.log.Warn().Str("entity", id).Msg("entity not found")
				continue
			}
			ids = append(ids, id)
		}
	} else {
		ids = energy.DiscoverWaterSensors(snap.States)
	}
	if len(ids) == 0 {
		fmt.Println("No water sensors found")
		return nil
	}

	merged, added := energy.MergeWater(snap.Prefs, ids)
	if len(added) == 0 {
		fmt.Println("No changes needed, water tab is up to date")
		return nil
	}
	fmt.Printf("Adding %d water source(s):\n", len(added))
	for _, id := range added {
		fmt.Printf("  + %s\n", id)
	}

	if a.cfg.DryRun {
		fmt.Println("\nDry run, nothing saved")
		return nil
	}
	if a.offline {
		fmt.Println("\nRunning from a snapshot, nothing saved")
		return nil
	}
	return a.savePrefs(ctx, merged)
}

func (a *app) savePrefs(ctx context.Context, prefs models.EnergyPreferences) error {
	client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SaveEnergyPrefs(ctx, prefs); err != nil {
		return err
	}
	fmt.Println("\nEnergy Dashboard configuration saved")
	return nil
}

func runDiscover(ctx context.Context, cfg *config.Config) error {
	timeout := time.Duration(cfg.Discovery.TimeoutSeconds) * time.Second
	instances, err := discovery.Discover(ctx, timeout)
	if err != nil {
		return err
	}
	report.PrintInstances(os.Stdout, instances)
	return nil
}
