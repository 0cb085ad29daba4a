package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/listing"
)

type companiesFilter struct {
	toggle
	companies map[string]struct{}
	names     []string
}

// NewExcludedCompanies creates a filter that removes listings of companies excluded in the user settings.
func NewExcludedCompanies() Filter {
	return &companiesFilter{}
}

func (f *companiesFilter) Name() string { return "excluded_companies" }

func (f *companiesFilter) Validate(cfg *Config) error {
	f.companies = make(map[string]struct{})
	f.names = nil
	if cfg == nil {
		return nil
	}
	for _, c := range cfg.ExcludedCompanies {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := f.companies[c]; ok {
			continue
		}
		f.companies[c] = struct{}{}
		f.names = append(f.names, c)
	}
	return nil
}

func (f *companiesFilter) Apply(_ context.Context, deps Deps, items []listing.Listing) ([]listing.Listing, Step, error) {
	initial := len(items)
	if len(f.companies) == 0 {
		return items, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := keep(items, func(l *listing.Listing) bool {
		_, excluded := f.companies[strings.ToLower(strings.TrimSpace(l.Company))]
		return excluded
	})
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding listings by company",
			zap.Strings("excluded_companies", f.names),
			zap.Strings("excluded_listings", dropped),
			zap.Int("listings_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	if len(f.names) > 0 {
		details["companies"] = strings.Join(f.names, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
