package filtering

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/listing"
)

type redFlagsFilter struct {
	toggle
	flags []string
}

// NewRedFlags creates a filter that drops listings mentioning any configured red-flag term.
func NewRedFlags() Filter {
	return &redFlagsFilter{}
}

func (f *redFlagsFilter) Name() string { return "red_flags" }

func (f *redFlagsFilter) Validate(cfg *Config) error {
	f.flags = nil
	if cfg == nil {
		return nil
	}
	for _, flag := range cfg.RedFlags {
		if flag = strings.ToLower(strings.TrimSpace(flag)); flag != "" {
			f.flags = append(f.flags, flag)
		}
	}
	return nil
}

func (f *redFlagsFilter) Apply(_ context.Context, deps Deps, items []listing.Listing) ([]listing.Listing, Step, error) {
	initial := len(items)
	if len(f.flags) == 0 {
		return items, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := keep(items, func(l *listing.Listing) bool {
		return ContainsRedFlag(l.Title, l.Company, l.Description, f.flags)
	})
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding listings with red flags",
			zap.Strings("excluded_listings", dropped),
			zap.Int("listings_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *redFlagsFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"terms": strconv.Itoa(len(f.flags))},
	}
}

// ContainsRedFlag returns true if any red flag term appears (case-insensitive)
// anywhere in the combined title + company + description text.
func ContainsRedFlag(title, company, description string, redFlags []string) bool {
	if len(redFlags) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + company + " " + description)
	for _, flag := range redFlags {
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}
