package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for JSON requests against the backend.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// PostJSON sends body as JSON to path and decodes the 2xx response into
	// out. Retries apply only when idempotent is true.
	PostJSON(ctx context.Context, path string, body interface{}, out interface{}, idempotent bool) error

	// -----------------------------------------------------------------------------

	// GetJSON performs a GET with query parameters and decodes the response.
	GetJSON(ctx context.Context, path string, params map[string]string, out interface{}) error
}
