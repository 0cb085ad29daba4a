// Package users holds per-user run settings and the directory they are looked up in.
package users

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/spigell/job-radar/internal/filtering"
	"github.com/spigell/job-radar/internal/profile"
	"github.com/spigell/job-radar/internal/scoring"
)

var ErrUnknownUser = errors.New("unknown user")

const (
	DefaultTitle      = "Software Engineer"
	DefaultMaxResults = 50

	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"

	DefaultFrequency = FrequencyWeekly
	DefaultDayOfWeek = "mon"
	DefaultHour      = 9
	DefaultTimezone  = "America/New_York"
)

type Settings struct {
	ID          string   `mapstructure:"id"`
	ProfileFile string   `mapstructure:"profile-file"`
	Search      Search   `mapstructure:"search"`
	Matching    Matching `mapstructure:"matching"`
	Exclude     Exclude  `mapstructure:"exclude"`
	Schedule    Schedule `mapstructure:"schedule"`
	// Recipients override the notifier's default recipients when the transport supports it.
	Recipients []string `mapstructure:"recipients"`
}

type Search struct {
	Titles     []string `mapstructure:"titles"`
	Location   string   `mapstructure:"location"`
	MaxResults int      `mapstructure:"max-results"`
}

type Matching struct {
	Threshold float64 `mapstructure:"threshold"`
	// AI turns on the semantic strategy for this user when the process has a scorer.
	AI bool `mapstructure:"ai"`
}

type Exclude struct {
	Companies []string `mapstructure:"companies"`
	RedFlags  []string `mapstructure:"red-flags"`
	// Filters names pre-notification filters to skip for this user.
	Filters []string `mapstructure:"filters"`
}

type Schedule struct {
	Enabled    bool   `mapstructure:"enabled"`
	Frequency  string `mapstructure:"frequency"`
	DayOfWeek  string `mapstructure:"day-of-week"`
	DayOfMonth int    `mapstructure:"day-of-month"`
	Hour       int    `mapstructure:"hour"`
	Minute     int    `mapstructure:"minute"`
	Timezone   string `mapstructure:"timezone"`
	// Cron is a raw five-field spec that overrides the fields above.
	Cron string `mapstructure:"cron"`
}

// ApplyDefaults fills zero values with the documented defaults.
func (s *Settings) ApplyDefaults() {
	s.ID = strings.TrimSpace(s.ID)

	titles := make([]string, 0, len(s.Search.Titles))
	for _, t := range s.Search.Titles {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		titles = []string{DefaultTitle}
	}
	s.Search.Titles = titles

	if s.Search.MaxResults <= 0 {
		s.Search.MaxResults = DefaultMaxResults
	}
	if s.Matching.Threshold <= 0 {
		s.Matching.Threshold = scoring.DefaultThreshold
	}
	if s.Matching.Threshold > 1 {
		s.Matching.Threshold = 1
	}

	sch := &s.Schedule
	if sch.Frequency == "" {
		sch.Frequency = DefaultFrequency
	}
	sch.Frequency = strings.ToLower(sch.Frequency)
	if sch.DayOfWeek == "" {
		sch.DayOfWeek = DefaultDayOfWeek
	}
	sch.DayOfWeek = strings.ToLower(sch.DayOfWeek)
	if sch.DayOfMonth <= 0 {
		sch.DayOfMonth = 1
	}
	if sch.Hour == 0 && sch.Minute == 0 && sch.Cron == "" {
		sch.Hour = DefaultHour
	}
	if sch.Timezone == "" {
		sch.Timezone = DefaultTimezone
	}
}

func (s *Settings) Validate() error {
	if s.ID == "" {
		return errors.New("user id is required")
	}
	sch := s.Schedule
	switch sch.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return fmt.Errorf("user %s: unknown schedule frequency %q", s.ID, sch.Frequency)
	}
	if sch.Hour < 0 || sch.Hour > 23 || sch.Minute < 0 || sch.Minute > 59 {
		return fmt.Errorf("user %s: schedule time %02d:%02d is out of range", s.ID, sch.Hour, sch.Minute)
	}
	if sch.DayOfMonth > 31 {
		return fmt.Errorf("user %s: day of month %d is out of range", s.ID, sch.DayOfMonth)
	}
	known := filtering.Names()
	for _, name := range s.Exclude.Filters {
		if !slices.Contains(known, name) {
			return fmt.Errorf("user %s: unknown filter %q, expected one of %v", s.ID, name, known)
		}
	}
	return nil
}

// ProfileProvider returns the file-backed provider for the user's profile.
func (s *Settings) ProfileProvider() profile.Provider {
	return profile.NewFileProvider(s.ProfileFile)
}

// Directory resolves user ids to settings.
type Directory struct {
	users map[string]Settings
}

// NewDirectory applies defaults, validates every entry and rejects duplicate ids.
func NewDirectory(list []Settings) (*Directory, error) {
	d := &Directory{users: make(map[string]Settings, len(list))}
	for _, s := range list {
		s.ApplyDefaults()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, ok := d.users[s.ID]; ok {
			return nil, fmt.Errorf("duplicate user id %q", s.ID)
		}
		d.users[s.ID] = s
	}
	return d, nil
}

func (d *Directory) Get(id string) (Settings, error) {
	s, ok := d.users[id]
	if !ok {
		return Settings{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	return s, nil
}

// IDs returns the user ids in sorted order.
func (d *Directory) IDs() []string {
	ids := make([]string, 0, len(d.users))
	for id := range d.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) List() []Settings {
	out := make([]Settings, 0, len(d.users))
	for _, id := range d.IDs() {
		out = append(out, d.users[id])
	}
	return out
}

func (d *Directory) Len() int { return len(d.users) }
