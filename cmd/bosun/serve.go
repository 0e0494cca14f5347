package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seastack/bosun/pkg/api"
	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/instance"
	"github.com/seastack/bosun/pkg/log"
	"github.com/seastack/bosun/pkg/metrics"
	"github.com/seastack/bosun/pkg/plan"
	"github.com/seastack/bosun/pkg/readiness"
	"github.com/seastack/bosun/pkg/reconciler"
	"github.com/seastack/bosun/pkg/resman"
	"github.com/seastack/bosun/pkg/security"
	"github.com/seastack/bosun/pkg/spec"
	"github.com/seastack/bosun/pkg/storage"
	"github.com/seastack/bosun/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Run the orchestrator: load the service spec, recover persisted state,
start the reconcile loop, and serve the operator API. On first start the
deploy plan is launched automatically.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("spec", "", "Path to the service spec YAML")
	serveCmd.Flags().String("data-dir", "./bosun-data", "Data directory for persisted state")
	serveCmd.Flags().StringArray("set", nil, "Template variable KEY=VALUE (repeatable)")
	serveCmd.Flags().String("topology", "", "Cluster topology YAML (default: virtual nodes)")
	serveCmd.Flags().Int("virtual-nodes", 3, "Virtual node count when no topology file is given")
	serveCmd.Flags().Duration("reconcile-interval", reconciler.DefaultInterval, "Reconcile loop cadence")
	serveCmd.Flags().String("log-level", "info", "Log level (debug|info|warn|error)")
	serveCmd.Flags().Bool("json-logs", false, "Emit JSON logs instead of console output")
	serveCmd.Flags().Bool("auto-deploy", true, "Run the deploy plan on first start")
	_ = serveCmd.MarkFlagRequired("spec")
}

func runServe(cmd *cobra.Command, args []string) error {
	specPath, _ := cmd.Flags().GetString("spec")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	setFlags, _ := cmd.Flags().GetStringArray("set")
	topoPath, _ := cmd.Flags().GetString("topology")
	virtualNodes, _ := cmd.Flags().GetInt("virtual-nodes")
	interval, _ := cmd.Flags().GetDuration("reconcile-interval")
	logLevel, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	autoDeploy, _ := cmd.Flags().GetBool("auto-deploy")
	apiAddr, _ := cmd.Flags().GetString("api-addr")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: jsonLogs})

	vars, err := parseVars(setFlags)
	if err != nil {
		return err
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("opening store: %v", err)
	}
	defer store.Close()

	generation, err := store.GetGeneration()
	if errors.Is(err, storage.ErrNotFound) {
		generation = 1
	} else if err != nil {
		return fmt.Errorf("reading generation: %v", err)
	}

	raw, err := os.ReadFile(specPath)
	if err != nil {
		return err
	}
	model, err := spec.Load(raw, vars, generation)
	if err != nil {
		return fmt.Errorf("loading spec: %v", err)
	}

	topo, err := topologySource(topoPath, virtualNodes)
	if err != nil {
		return err
	}

	driver := resman.NewLoopback()
	gate := readiness.NewGate(readiness.NewProber(), readiness.DefaultConfig())
	broker := events.NewBroker()
	broker.Start()

	authority, err := security.NewAuthority(store, security.DeriveSealKey(model.Name()))
	if err != nil {
		return err
	}
	if err := authority.Load(model.Name()); err != nil {
		return fmt.Errorf("loading certificate authority: %v", err)
	}

	mgr := instance.NewManager(model, instance.Config{
		Store:    store,
		Driver:   driver,
		Gate:     gate,
		Broker:   broker,
		Topology: topo,
		Policy:   instance.DefaultPolicy(),
		Issuer:   authority,
	})
	if err := mgr.SetModel(model); err != nil {
		return fmt.Errorf("persisting generation: %v", err)
	}
	mgr.Start()

	engine := plan.NewEngine(mgr, store, broker, plan.DefaultConfig())
	recon := reconciler.New(mgr, interval)
	recon.Start()

	collector := metrics.NewCollector(store, mgr)
	collector.Start()

	apiServer := api.NewServer(mgr, engine, broker, vars)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			errCh <- fmt.Errorf("api server: %v", err)
		}
	}()

	if autoDeploy && firstBoot(store) {
		if _, err := engine.Run("deploy"); err != nil {
			log.Errorf("starting deploy plan", err)
		}
	}

	fmt.Printf("bosun serving %s (generation %d) on %s\n", model.Name(), model.Generation(), apiAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	recon.Stop()
	collector.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Stop(ctx)
	mgr.Stop()
	gate.Stop()
	broker.Stop()
	_ = driver.Close()
	return nil
}

// topologySource returns a function producing a fresh topology snapshot
// per call: either the declared topology file or synthetic virtual nodes.
func topologySource(path string, virtualNodes int) (func() *types.ClusterTopology, error) {
	if path == "" {
		return func() *types.ClusterTopology {
			return resman.StaticTopology(virtualNodes)
		}, nil
	}
	// Validate the file up front so a broken topology fails startup.
	if _, err := resman.LoadTopology(path); err != nil {
		return nil, err
	}
	return func() *types.ClusterTopology {
		topo, err := resman.LoadTopology(path)
		if err != nil {
			log.Errorf("reloading topology", err)
			return &types.ClusterTopology{}
		}
		return topo
	}, nil
}

// firstBoot reports whether no plan has ever run against this data dir.
func firstBoot(store storage.Store) bool {
	plans, err := store.ListPlans()
	return err == nil && len(plans) == 0
}

func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected KEY=VALUE", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
