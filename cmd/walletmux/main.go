package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walletmux/walletmux/pkg/config"
	"github.com/walletmux/walletmux/pkg/connector/core"
	"github.com/walletmux/walletmux/pkg/connector/registry"
	"github.com/walletmux/walletmux/pkg/logger"
	"github.com/walletmux/walletmux/pkg/manager"

	// Import all available connectors to register them
	_ "github.com/walletmux/walletmux/pkg/connector/providers/rpc"
	_ "github.com/walletmux/walletmux/pkg/connector/providers/static"
)

var version = "0.1.0"

// FileConfig is the on-disk configuration for a connection session.
type FileConfig struct {
	Logging    logger.Config        `yaml:"logging"`
	Connectors []*config.BaseConfig `yaml:"connectors"`
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "walletmux",
		Short: "walletmux - uniform wallet connection management",
		Long: `walletmux connects to, monitors, and disconnects from blockchain wallet
providers through a uniform connector abstraction. One connection manager
drives activation, change notifications, and teardown for whichever
connector is selected.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("walletmux v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connector types",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available connector types:")
			for _, name := range registry.List() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var (
		configPath    string
		publishErrors bool
		metricsAddr   string
		timeout       time.Duration
	)
	connectCmd := &cobra.Command{
		Use:   "connect <connector-name>",
		Short: "Activate a connector and watch its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(configPath, args[0], publishErrors, metricsAddr, timeout)
		},
	}
	connectCmd.Flags().StringVarP(&configPath, "config", "c", "walletmux.yaml", "Path to configuration file")
	connectCmd.Flags().BoolVar(&publishErrors, "publish-errors", false, "Commit activation errors to the shared state snapshot")
	connectCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	connectCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Activation timeout")
	root.AddCommand(connectCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConnect(configPath, name string, publishErrors bool, metricsAddr string, timeout time.Duration) error {
	var fileCfg FileConfig
	if err := config.Load(configPath, &fileCfg); err != nil {
		return err
	}
	if fileCfg.Logging.Level == "" {
		fileCfg.Logging.Level = "info"
	}
	if fileCfg.Logging.Encoding == "" {
		fileCfg.Logging.Encoding = "console"
	}
	if err := logger.Init(fileCfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	connectors := make(map[string]core.Connector, len(fileCfg.Connectors))
	for _, cfg := range fileCfg.Connectors {
		c, err := registry.Create(cfg.Type, cfg)
		if err != nil {
			return err
		}
		connectors[cfg.Name] = c
	}

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	m := manager.New(connectors)
	defer m.Close()

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var opts []manager.CallOption
	if publishErrors {
		opts = append(opts, manager.PublishError())
	}
	if err := m.SetConnector(ctx, name, opts...); err != nil {
		return err
	}

	printSnapshot(m.State())
	if !m.Initialized() {
		return nil
	}

	fmt.Println("watching for changes, ctrl-c to disconnect")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case snap := <-updates:
			printSnapshot(snap)
		case <-sigCh:
			m.UnsetConnector()
			fmt.Println("disconnected")
			return nil
		}
	}
}

func printSnapshot(snap manager.Snapshot) {
	networkID := "-"
	if snap.NetworkID != nil {
		networkID = fmt.Sprintf("%d", *snap.NetworkID)
	}
	errText := "-"
	if snap.Err != nil {
		errText = snap.Err.Error()
	}
	fmt.Printf("connector=%s network=%s account=%s initialized=%t error=%s\n",
		orDash(snap.ConnectorName), networkID, snap.Account, snap.Initialized(), errText)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
