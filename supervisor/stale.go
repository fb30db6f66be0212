package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/yllada/vpn-broker/common"
)

// CleanupReport describes the outcome of a stale-session sweep.
// A failure on one entry never aborts the rest.
type CleanupReport struct {
	// Cleaned holds the session paths that were disconnected.
	Cleaned []string
	// Failed maps session paths to the error that prevented cleanup.
	Failed map[string]error
}

// CleanupStale queries the VPN client for sessions not owned by the
// current handle and requests their termination. Such sessions are
// typically left over from an unclean shutdown of a previous run.
func (s *Supervisor) CleanupStale(ctx context.Context) (*CleanupReport, error) {
	owned := ""
	if h := s.Active(); h != nil {
		owned = h.SessionPath()
	}

	out, err := s.run.Output(ctx, common.VPNClientBinary, "sessions-list")
	if err != nil {
		return nil, fmt.Errorf("%w: sessions-list: %v", common.ErrLaunchFailure, err)
	}

	report := &CleanupReport{Failed: make(map[string]error)}

	for _, path := range parseSessionPaths(string(out)) {
		if path == owned {
			continue
		}

		common.LogInfo("Cleaning up stale session %s", path)
		_, err := s.run.Output(ctx, common.VPNClientBinary,
			"session-manage", "--session-path", path, "--disconnect")
		if err != nil {
			common.LogWarn("Could not clean up %s: %v", path, err)
			report.Failed[path] = err
			continue
		}
		report.Cleaned = append(report.Cleaned, path)
	}

	return report, nil
}

// parseSessionPaths extracts every session object path from
// sessions-list output.
func parseSessionPaths(out string) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Fields(line) {
			if strings.HasPrefix(field, sessionPathPrefix) && !seen[field] {
				seen[field] = true
				paths = append(paths, field)
			}
		}
	}
	return paths
}
