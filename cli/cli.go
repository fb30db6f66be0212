// Package cli provides the terminal interface of the VPN broker. All
// operations work against the broker API so the terminal and the
// interactive UI share the same behavior.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/yllada/vpn-broker/broker"
	"github.com/yllada/vpn-broker/common"
	"github.com/yllada/vpn-broker/credstore"
	"github.com/yllada/vpn-broker/session"
)

// CLI drives broker operations from the terminal.
type CLI struct {
	broker *broker.Broker
	out    io.Writer

	// prompt collects credentials interactively. Replaced in tests.
	prompt func(defaultUser string) (string, []byte, error)
}

// New creates a CLI over an initialized broker.
func New(b *broker.Broker) *CLI {
	return &CLI{
		broker: b,
		out:    os.Stdout,
		prompt: terminalPrompt,
	}
}

// ListProfiles prints the imported profiles as a table.
func (c *CLI) ListProfiles() error {
	profiles := c.broker.Profiles()

	if len(profiles) == 0 {
		fmt.Fprintln(c.out, "No VPN profiles imported.")
		fmt.Fprintln(c.out, "Import one with: vpn-broker --import /path/to/config.ovpn")
		return nil
	}

	live := c.broker.Status()

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tUSERNAME\tCREDENTIAL")
	fmt.Fprintln(w, "--\t----\t------\t--------\t----------")

	for _, profile := range profiles {
		status := session.Disconnected.String()
		if !live.State.Terminal() && live.ProfileID == profile.ID {
			status = live.State.String()
		}

		username := profile.Username
		if username == "" {
			username = "-"
		}

		saved := "No"
		if c.broker.HasCredential(profile.ID) {
			saved = "Yes"
		}

		// Truncate ID for display
		shortID := profile.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID, profile.Name, status, username, saved)
	}

	w.Flush()
	return nil
}

// Connect starts a session and waits until it settles. Missing
// credentials are prompted for on the terminal.
func (c *CLI) Connect(ctx context.Context, nameOrID string) error {
	updates, cancel := c.broker.Subscribe()
	defer cancel()

	snap, err := c.broker.Connect(ctx, nameOrID)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	fmt.Fprintf(c.out, "Connecting to %s...\n", snap.ProfileName)

	timeout := time.After(common.ConnectionTimeout)
	for {
		select {
		case <-ctx.Done():
			return common.ErrCancelled
		case <-timeout:
			return common.ErrTimeout
		case snap, ok := <-updates:
			if !ok {
				return common.ErrNotRunning
			}
			switch snap.State {
			case session.Authenticating:
				if err := c.supplyCredentials(snap); err != nil {
					return err
				}
			case session.Connected:
				fmt.Fprintf(c.out, "✓ Connected to %s\n", snap.ProfileName)
				return nil
			case session.Error:
				return fmt.Errorf("connection failed: %s", snap.LastError)
			case session.Disconnected:
				return fmt.Errorf("session closed before establishing")
			}
		}
	}
}

func (c *CLI) supplyCredentials(snap session.Session) error {
	defaultUser := ""
	for _, p := range c.broker.Profiles() {
		if p.ID == snap.ProfileID {
			defaultUser = p.Username
		}
	}

	fmt.Fprintf(c.out, "Authentication required for %s\n", snap.ProfileName)
	username, secret, err := c.prompt(defaultUser)
	if err != nil {
		return fmt.Errorf("credential prompt failed: %w", err)
	}
	return c.broker.SupplyCredentials(username, secret)
}

// Disconnect tears down the live session.
func (c *CLI) Disconnect(ctx context.Context) error {
	snap := c.broker.Status()
	if snap.State.Terminal() {
		fmt.Fprintln(c.out, "No active session.")
		return nil
	}

	fmt.Fprintf(c.out, "Disconnecting from %s...\n", snap.ProfileName)
	if err := c.broker.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Disconnected from %s\n", snap.ProfileName)
	return nil
}

// Status prints the live session snapshot.
func (c *CLI) Status() error {
	snap := c.broker.Status()

	if snap.State.Terminal() && snap.ID == "" {
		fmt.Fprintln(c.out, "No active VPN session.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tSTATUS\tUPTIME\tRX\tTX")
	fmt.Fprintln(w, "-------\t------\t------\t--\t--")

	uptime := "-"
	if snap.State == session.Connected {
		uptime = formatDuration(time.Since(snap.StartedAt))
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		snap.ProfileName, snap.State.String(), uptime,
		formatBytes(snap.Stats.BytesIn), formatBytes(snap.Stats.BytesOut))
	w.Flush()

	if snap.LastError != "" {
		fmt.Fprintf(c.out, "Last error: %s\n", snap.LastError)
	}
	return nil
}

// Diagnostics prints the retained unrecognized client output.
func (c *CLI) Diagnostics() error {
	lines := c.broker.Diagnostics()
	if len(lines) == 0 {
		fmt.Fprintln(c.out, "No diagnostic output retained.")
		return nil
	}
	for _, line := range lines {
		fmt.Fprintln(c.out, line)
	}
	return nil
}

// Import copies a client configuration into the registry.
func (c *CLI) Import(path string) error {
	profile, err := c.broker.ImportProfile(path)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Imported %s (%s)\n", profile.Name, profile.ID[:8])
	return nil
}

// Remove deletes a profile and its stored credential.
func (c *CLI) Remove(nameOrID string) error {
	if err := c.broker.RemoveProfile(nameOrID); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Removed %s\n", nameOrID)
	return nil
}

// SaveCredential prompts for and stores a credential for a profile.
func (c *CLI) SaveCredential(nameOrID, backendName string) error {
	prefer := credstore.BackendAuto
	switch backendName {
	case "", "auto":
	case "keyring":
		prefer = credstore.BackendKeyring
	case "local":
		prefer = credstore.BackendLocal
	default:
		return fmt.Errorf("unknown credential backend %q (auto, keyring, local)", backendName)
	}

	username, secret, err := c.prompt("")
	if err != nil {
		return fmt.Errorf("credential prompt failed: %w", err)
	}

	backend, err := c.broker.SaveCredential(nameOrID, username, secret, prefer)
	if err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Credential stored in %s\n", backend)
	return nil
}

// MigrateCredential moves a profile's credential into the system keyring.
func (c *CLI) MigrateCredential(nameOrID string) error {
	if err := c.broker.MigrateCredential(nameOrID); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Credential migrated to system keyring\n")
	return nil
}

// DeleteCredential removes a profile's stored credential.
func (c *CLI) DeleteCredential(nameOrID string) error {
	if err := c.broker.DeleteCredential(nameOrID); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Credential removed\n")
	return nil
}

// Cleanup disconnects leftover client sessions.
func (c *CLI) Cleanup(ctx context.Context) error {
	report, err := c.broker.CleanupStale(ctx)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if len(report.Cleaned) == 0 && len(report.Failed) == 0 {
		fmt.Fprintln(c.out, "No stale sessions found.")
		return nil
	}
	for _, path := range report.Cleaned {
		fmt.Fprintf(c.out, "✓ Cleaned %s\n", path)
	}
	for path, ferr := range report.Failed {
		fmt.Fprintf(c.out, "✗ Failed %s: %v\n", path, ferr)
	}
	return nil
}

// History prints recent finished sessions.
func (c *CLI) History(ctx context.Context, limit int) error {
	entries, err := c.broker.History(ctx, limit)
	if err != nil {
		return fmt.Errorf("history unavailable: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No session history.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPROFILE\tOUTCOME\tDURATION\tRX\tTX")
	fmt.Fprintln(w, "-------\t-------\t-------\t--------\t--\t--")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Format("2006-01-02 15:04"),
			e.ProfileName, e.Outcome,
			formatDuration(e.EndedAt.Sub(e.StartedAt)),
			formatBytes(e.BytesIn), formatBytes(e.BytesOut))
	}
	w.Flush()
	return nil
}

// terminalPrompt reads a username and password from the controlling
// terminal. The password never echoes.
func terminalPrompt(defaultUser string) (string, []byte, error) {
	reader := bufio.NewReader(os.Stdin)

	if defaultUser != "" {
		fmt.Printf("Username [%s]: ", defaultUser)
	} else {
		fmt.Print("Username: ")
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", nil, err
	}
	username := strings.TrimSpace(line)
	if username == "" {
		username = defaultUser
	}

	fmt.Print("Password: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", nil, err
	}
	return username, secret, nil
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`VPN Broker - Command Line Interface

Usage:
  vpn-broker [OPTIONS]

Options:
  --version              Show version and exit
  --verbose              Enable verbose logging
  --list                 List imported VPN profiles
  --connect NAME         Connect to a VPN profile (name or ID)
  --disconnect           Disconnect the active session
  --status               Show current session status
  --diagnostics          Show retained client output
  --import PATH          Import a .ovpn configuration file
  --remove NAME          Remove a profile and its credential
  --save-credential NAME Store a credential for a profile
  --credential-backend B Credential backend: auto, keyring, local
  --migrate NAME         Move a credential into the system keyring
  --delete-credential NAME Remove a stored credential
  --cleanup              Disconnect stale client sessions
  --history              Show recent session history
  --help                 Show this help message

Examples:
  vpn-broker --import ~/office.ovpn
  vpn-broker --connect office
  vpn-broker --status
  vpn-broker --disconnect

Notes:
  - Requires the openvpn3 client on PATH
  - Run without options to launch the interactive UI`)
}
