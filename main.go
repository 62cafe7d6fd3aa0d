package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plstrdash/pkg/config"
	"plstrdash/pkg/connection"
	"plstrdash/pkg/contracts"
	"plstrdash/pkg/log"
	"plstrdash/pkg/metrics"
	"plstrdash/pkg/probe"
	"plstrdash/pkg/refresh"
	"plstrdash/pkg/server"
	"plstrdash/pkg/tui"
	"plstrdash/pkg/txn"
	"plstrdash/pkg/watcher"
)

// Version should be set during build
var Version = "dev"

// walletPollInterval is how often the wallet is asked for account and chain
// changes.
const walletPollInterval = 4 * time.Second

const logFileName = ".plstrdash.log"

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	dryRunFlag := flag.Bool("dry-run", false, "Perform a trial run with no changes made")
	configFlag := flag.String("config", "", "Path to configuration file")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run in headless server mode")
	portFlag := flag.Int("port", 8080, "Port for API server")
	logEnvFlag := flag.String("log-env", "", "Logger config: prod or dev (default from config)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("plstrdash version %s\n", Version)
		os.Exit(0)
	}

	cfgInput := *configFlag
	if cfgInput == "" && len(flag.Args()) > 0 {
		cfgInput = flag.Args()[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		fmt.Printf("Error determining config path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Printf("Error loading config from %s: %v\n", path, err)
		os.Exit(1)
	}
	config.ApplyEnv(&cfg)
	if *logEnvFlag != "" {
		cfg.Settings.LogEnv = *logEnvFlag
	}

	if *testFlag || *testLongFlag {
		os.Exit(runTest(cfg, path, *jsonFlag, *dryRunFlag))
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: invalid configuration at %s: %v\n", path, err)
		os.Exit(1)
	}

	logPath := ""
	if !*serverFlag {
		logPath = defaultLogPath()
	}
	logger, err := log.NewLogger(cfg.Settings.LogEnv, logPath)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *serverFlag, *portFlag, logger); err != nil {
		logger.Error("Exited with error", zap.Error(err))
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return logFileName
	}
	return filepath.Join(home, logFileName)
}

// app is the wired dashboard core shared by both front ends.
type app struct {
	manager   *connection.Manager
	reader    *contracts.Reader
	submitter *txn.Submitter
	watcher   *watcher.Watcher
	metrics   *metrics.Metrics
}

func newApp(cfg config.Config, logger *zap.Logger) *app {
	m := metrics.New()
	token := &refresh.Token{}
	manager := connection.NewManager(cfg, token, logger.Named("connection"), m)

	reader := contracts.NewReader(func() (contracts.Backend, error) {
		c, err := manager.Backend()
		if err != nil {
			return nil, err
		}
		return c, nil
	}, contracts.Addresses{
		PLSTR:       cfg.PLSTRAddress(),
		VPLS:        cfg.VPLSAddress(),
		DeployBlock: cfg.Contracts.DeployBlock,
	}, logger.Named("contracts"), m)

	w := watcher.NewWatcher(reader, manager, token, cfg.PollInterval(), cfg.Settings.HistoryLimit, logger.Named("watcher"), m)
	w.SetExpectedChain(uint64(cfg.Chain.ChainID))
	sub := txn.NewSubmitter(manager, reader, reader.Addresses(), uint64(cfg.Chain.ChainID), token, cfg.Settings.TokenDecimals, logger.Named("txn"), m)
	sub.OnRecord(w.AddRecord)

	return &app{manager: manager, reader: reader, submitter: sub, watcher: w, metrics: m}
}

// connect opens the connection and asks the wallet to move to chainID when
// it is on another chain. A declined switch keeps the connection; status
// reports wrong_network and submissions are refused until it is fixed.
func (a *app) connect(ctx context.Context, chainID uint64) error {
	if err := a.manager.Connect(ctx); err != nil {
		return err
	}
	if chainID == 0 {
		return nil
	}
	return a.manager.EnsureChain(ctx, chainID)
}

func run(cfg config.Config, serverMode bool, port int, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	a.watcher.Start(ctx)
	defer a.watcher.Stop()
	go a.manager.Watch(ctx, walletPollInterval)
	defer a.manager.Disconnect()

	if !serverMode {
		return tui.Start(tui.Options{
			Watcher:   a.watcher,
			Conn:      a.manager,
			Submitter: a.submitter,
			Quoter:    a.reader,
			Config:    cfg,
			Logger:    logger.Named("tui"),
		}, Version)
	}

	logger.Info("Running in server mode", zap.Int("port", port), zap.String("version", Version))
	srv := server.NewServer(a.watcher, a.metrics, cfg.Settings.TokenDecimals, logger.Named("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A failed connect leaves the server up; /api/status reports it.
		if err := a.connect(gctx, uint64(cfg.Chain.ChainID)); err != nil {
			logger.Warn("Initial connect failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx, port)
	})
	return g.Wait()
}

// runTest probes the configuration and returns the process exit code.
func runTest(cfg config.Config, path string, asJSON, dryRun bool) int {
	var out io.Writer = os.Stdout
	if asJSON {
		out = io.Discard
	}
	fmt.Fprintf(out, "Testing configuration at: %s\n", path)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report := probe.TestConfig(ctx, &cfg, out)
	report.ConfigPath = path
	report.DryRun = dryRun

	if report.ValidStructure && report.ConfigUpdated {
		fmt.Fprintln(out, "\nUpdating configuration with fetched Chain ID...")
		if dryRun {
			fmt.Fprintln(out, "Dry run enabled: Configuration NOT saved.")
		} else if err := config.SaveConfig(cfg, path); err != nil {
			report.SaveError = err.Error()
			fmt.Fprintf(out, "Failed to save config: %v\n", err)
		} else {
			fmt.Fprintln(out, "Configuration saved successfully.")
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	}
	if !report.ValidStructure {
		return 1
	}
	return 0
}
