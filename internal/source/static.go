package source

import (
	"context"
	"log/slog"
)

// Static replays a fixed list of sightings, used for seed files and tests.
type Static struct {
	sightings []Sighting
	logger    *slog.Logger
}

var _ Connector = (*Static)(nil)

// NewStatic builds a connector over a fixed sighting list.
func NewStatic(sightings []Sighting, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{sightings: sightings, logger: logger}
}

// Run registers every sighting once. A sighting the registrar rejects is
// logged and skipped; the rest of the list still runs.
func (s *Static) Run(ctx context.Context, registrar Registrar) error {
	for _, sighting := range s.sightings {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := registrar.Discover(ctx, sighting.RawURL, sighting.Source, sighting.Metadata)
		if err != nil {
			s.logger.WarnContext(ctx, "seed registration failed",
				"url", sighting.RawURL,
				"error", err,
			)
			continue
		}
		s.logger.DebugContext(ctx, "seed registered",
			"url", sighting.RawURL,
			"reason", result.Reason,
		)
	}
	return nil
}
