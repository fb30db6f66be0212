// Package main provides the entry point for the VPN broker. The broker
// supervises the openvpn3 command-line client, tracks session state and
// manages profiles and credentials.
//
// Features:
//   - Profile registry for multiple .ovpn configurations
//   - Secure credential storage using the system keyring, with an
//     encrypted local fallback
//   - Supervised openvpn3 sessions with typed status events
//   - Session history and connectivity monitoring
//   - Command-line interface for scripting, interactive TUI otherwise
//
// Usage:
//
//	vpn-broker [options]
//
// Environment:
//
//	The openvpn3 client must be installed on the system.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/yllada/vpn-broker/broker"
	"github.com/yllada/vpn-broker/cli"
	"github.com/yllada/vpn-broker/common"
	"github.com/yllada/vpn-broker/config"
	"github.com/yllada/vpn-broker/credstore"
	"github.com/yllada/vpn-broker/history"
	"github.com/yllada/vpn-broker/notify"
	"github.com/yllada/vpn-broker/registry"
	"github.com/yllada/vpn-broker/tui"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	// Operation flags
	listProfiles      = flag.Bool("list", false, "List imported VPN profiles")
	connectProfile    = flag.String("connect", "", "Connect to a VPN profile by name or ID")
	disconnectVPN     = flag.Bool("disconnect", false, "Disconnect the active session")
	showStatus        = flag.Bool("status", false, "Show current session status")
	showDiagnostics   = flag.Bool("diagnostics", false, "Show retained client output")
	importConfig      = flag.String("import", "", "Import a .ovpn configuration file")
	removeProfile     = flag.String("remove", "", "Remove a profile and its credential")
	saveCredential    = flag.String("save-credential", "", "Store a credential for a profile")
	credentialBackend = flag.String("credential-backend", "auto", "Credential backend: auto, keyring, local")
	migrateCredential = flag.String("migrate", "", "Move a credential into the system keyring")
	deleteCredential  = flag.String("delete-credential", "", "Remove a stored credential")
	cleanupSessions   = flag.Bool("cleanup", false, "Disconnect stale client sessions")
	showHistory       = flag.Bool("history", false, "Show recent session history")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("VPN Broker v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: using default configuration: %v\n", err)
		cfg = config.DefaultConfig()
	}

	logLevel := common.LevelInfo
	if *verbose || cfg.Debug {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{Level: logLevel, EnableFile: true}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if !checkClientInstalled() {
		common.LogError("%s is not installed on the system", common.VPNClientBinary)
		fmt.Fprintf(os.Stderr, "Error: the %s client is not installed.\n", common.VPNClientBinary)
		fmt.Fprintln(os.Stderr, "On Debian/Ubuntu: sudo apt install openvpn3")
		os.Exit(1)
	}

	b, err := buildBroker(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	if cliModeRequested() {
		runCLI(ctx, b)
		return
	}

	// Interactive mode: probe connectivity in the background while the
	// UI runs.
	monitor := broker.NewMonitor(b, monitorConfigFrom(cfg))
	monitor.Start()
	defer monitor.Stop()

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	if err := tui.Run(b); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildBroker wires the registry, credential store, history database and
// notifier into a broker.
func buildBroker(cfg *config.Config) (*broker.Broker, error) {
	reg, err := registry.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile registry: %w", err)
	}

	creds, err := credstore.New(cfg.BackendTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	opts := []broker.Option{}
	if hist, err := history.Open(); err == nil {
		opts = append(opts, broker.WithHistory(hist))
	} else {
		common.LogWarn("Session history unavailable: %v", err)
	}

	if cfg.ShowNotifications {
		if notifier, err := notify.New(); err == nil {
			opts = append(opts, broker.WithNotifier(notifier))
		} else {
			common.LogDebug("Desktop notifications unavailable: %v", err)
		}
	}

	return broker.New(cfg, reg, creds, opts...), nil
}

// monitorConfigFrom applies user configuration to the connectivity
// monitor defaults.
func monitorConfigFrom(cfg *config.Config) broker.MonitorConfig {
	mc := broker.DefaultMonitorConfig()
	mc.AutoReconnect = cfg.AutoReconnect
	return mc
}

func cliModeRequested() bool {
	return *listProfiles || *connectProfile != "" || *disconnectVPN ||
		*showStatus || *showDiagnostics || *importConfig != "" ||
		*removeProfile != "" || *saveCredential != "" ||
		*migrateCredential != "" || *deleteCredential != "" ||
		*cleanupSessions || *showHistory
}

// runCLI handles command-line operations.
func runCLI(ctx context.Context, b *broker.Broker) {
	cliApp := cli.New(b)

	select {
	case <-ctx.Done():
		common.LogInfo("Operation cancelled before execution")
		return
	default:
	}

	var cliErr error

	switch {
	case *listProfiles:
		cliErr = cliApp.ListProfiles()
	case *connectProfile != "":
		cliErr = cliApp.Connect(ctx, *connectProfile)
	case *disconnectVPN:
		cliErr = cliApp.Disconnect(ctx)
	case *showStatus:
		cliErr = cliApp.Status()
	case *showDiagnostics:
		cliErr = cliApp.Diagnostics()
	case *importConfig != "":
		cliErr = cliApp.Import(*importConfig)
	case *removeProfile != "":
		cliErr = cliApp.Remove(*removeProfile)
	case *saveCredential != "":
		cliErr = cliApp.SaveCredential(*saveCredential, *credentialBackend)
	case *migrateCredential != "":
		cliErr = cliApp.MigrateCredential(*migrateCredential)
	case *deleteCredential != "":
		cliErr = cliApp.DeleteCredential(*deleteCredential)
	case *cleanupSessions:
		cliErr = cliApp.Cleanup(ctx)
	case *showHistory:
		cliErr = cliApp.History(ctx, 0)
	}

	if cliErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cliErr)
		os.Exit(1)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// checkClientInstalled verifies that the openvpn3 client is on PATH.
func checkClientInstalled() bool {
	_, err := exec.LookPath(common.VPNClientBinary)
	return err == nil
}
