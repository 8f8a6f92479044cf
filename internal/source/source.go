// Package source feeds raw candidate URLs into discovery. Connectors wrap
// the places candidates come from (a Kafka topic, a static seed list) and
// hand every sighting to the registrar; discovery's idempotency makes
// at-least-once delivery safe.
package source

import (
	"context"

	"storescout/internal/discovery"
)

// Sighting is one raw candidate observation from an upstream feed.
type Sighting struct {
	RawURL   string            `json:"url"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Registrar is the discovery surface connectors push into.
type Registrar interface {
	Discover(ctx context.Context, rawURL, source string, metadata map[string]string) (*discovery.Result, error)
}

// Connector streams sightings into the registrar until the context ends.
type Connector interface {
	Run(ctx context.Context, registrar Registrar) error
}
