package main

import (
	"queue-sync/src/logger"
)

// -----------------------------------------------------------------------------

// startServers runs the local API and, when configured, the gRPC health
// endpoint in the background.
func startServers(a *app, appLogger *logger.Logger) {

	// 1. Local API + view push hub
	go func() {
		if err := a.api.Start(); err != nil {
			appLogger.Error("Local API failed: %v", err)
		}
	}()

	// 2. gRPC health
	if a.health == nil {
		appLogger.Info("gRPC health disabled (grpc_port not set)")
		return
	}
	go func() {
		if err := a.health.Start(); err != nil {
			appLogger.Error("gRPC health failed: %v", err)
		}
	}()
}
