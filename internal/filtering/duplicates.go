package filtering

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/listing"
)

type duplicateRolesFilter struct {
	toggle
}

// NewDuplicateRoles creates a filter that keeps only the first listing of each
// normalized (title, company) pair. It works on the in-memory set only and never
// touches persisted identities.
func NewDuplicateRoles() Filter {
	return &duplicateRolesFilter{}
}

func (f *duplicateRolesFilter) Name() string { return "duplicate_roles" }

func (f *duplicateRolesFilter) Validate(*Config) error { return nil }

func (f *duplicateRolesFilter) Apply(_ context.Context, deps Deps, items []listing.Listing) ([]listing.Listing, Step, error) {
	initial := len(items)
	seen := make(map[string]struct{}, initial)

	kept, dropped := keep(items, func(l *listing.Listing) bool {
		key := l.PairKey()
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
		return false
	})
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Debug("collapsing duplicate roles",
			zap.Strings("collapsed_listings", dropped),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *duplicateRolesFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
