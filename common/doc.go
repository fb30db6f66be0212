// Package common provides shared constants, types, utilities, and interfaces
// used throughout the VPN broker.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts, retry bounds, and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for notifications and logging
//   - Logger: Structured logging with console and file output
//   - Utils: Common utility functions for directories, IDs, and secret hygiene
//
// # Usage
//
// Import the package to access shared functionality:
//
//	import "github.com/yllada/vpn-broker/common"
//
//	// Use constants
//	timeout := common.ConnectionTimeout
//
//	// Use logger
//	common.LogInfo("Starting session for %s", profileName)
//
//	// Check errors
//	if errors.Is(err, common.ErrProfileNotFound) {
//	    // Handle missing profile
//	}
package common
