package interfaces

import "queue-sync/src/models"

// -----------------------------------------------------------------------------
// IDataExchanger pushes session views to local UI listeners.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast pushes the latest view to every connected listener.
	Broadcast(view models.MSessionView)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
