package port

import "context"

// BackendClient performs authenticated JSON reads against the portal REST services.
// found is false when the resource is absent or the caller is unauthenticated.
type BackendClient interface {
	GetJSON(ctx context.Context, tokens TokenProvider, path string, out any) (found bool, err error)
}
