package ai

import (
	"context"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/profile"
)

// Assessment is the semantic relevance judgment for one listing.
type Assessment struct {
	Score  float64
	Reason string
	Raw    string
}

// Scorer delegates relevance judgment to an external model.
type Scorer interface {
	Assess(ctx context.Context, p *profile.Profile, l *listing.Listing) (*Assessment, error)
}
