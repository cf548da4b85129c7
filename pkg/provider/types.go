// Package provider defines the source adapter contract. An adapter turns a
// content key into a normalized list of stream candidates and never lets an
// upstream failure escape its boundary: timeouts, non-2xx responses, and
// malformed payloads all come back as an empty candidate list with the error
// recorded on the ProviderResult.
package provider

import (
	"context"

	"streamgate/pkg/stream"
)

// Provider is one upstream candidate source.
type Provider interface {
	Name() string
	FetchCandidates(ctx context.Context, key stream.ContentKey) stream.ProviderResult
	Ping() error
}
