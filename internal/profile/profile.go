package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/job-radar/internal/utils"
)

const summaryLimit = 500

// Profile holds the candidate attributes a run is scored against.
// It is built once per run and treated as read-only afterwards.
type Profile struct {
	Name            string   `mapstructure:"name"`
	Location        string   `mapstructure:"location"`
	Summary         string   `mapstructure:"summary"`
	Skills          []string `mapstructure:"skills"`
	Titles          []string `mapstructure:"titles"`
	ExperienceYears int      `mapstructure:"experience-years"`
	Keywords        []string `mapstructure:"keywords"`
	RawText         string   `mapstructure:"raw-text"`
}

// Provider builds the profile for a run.
type Provider interface {
	BuildProfile(ctx context.Context) (*Profile, error)
}

// Normalize lower-cases and deduplicates skills and keywords and clamps experience.
func (p *Profile) Normalize() {
	p.Skills = uniqueLower(p.Skills)
	p.Keywords = uniqueLower(p.Keywords)
	p.Titles = uniqueTrimmed(p.Titles)
	if p.ExperienceYears < 0 {
		p.ExperienceYears = 0
	}
}

// AddTitles appends titles not yet present in the target title list.
func (p *Profile) AddTitles(titles ...string) {
	existing := make(map[string]struct{}, len(p.Titles))
	for _, t := range p.Titles {
		existing[t] = struct{}{}
	}
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := existing[t]; ok {
			continue
		}
		existing[t] = struct{}{}
		p.Titles = append(p.Titles, t)
	}
}

// Describe renders the compact text summary sent to the semantic scorer.
func (p *Profile) Describe() string {
	parts := make([]string, 0, 6)
	if p.Name != "" {
		parts = append(parts, "Name: "+p.Name)
	}
	if len(p.Titles) > 0 {
		parts = append(parts, "Titles: "+strings.Join(p.Titles, ", "))
	}
	if len(p.Skills) > 0 {
		skills := append([]string(nil), p.Skills...)
		sort.Strings(skills)
		parts = append(parts, "Skills: "+strings.Join(skills, ", "))
	}
	if p.ExperienceYears > 0 {
		parts = append(parts, fmt.Sprintf("Experience: %d years", p.ExperienceYears))
	}
	if p.Location != "" {
		parts = append(parts, "Location: "+p.Location)
	}
	if p.Summary != "" {
		parts = append(parts, "Summary: "+utils.Truncate(p.Summary, summaryLimit))
	}
	return strings.Join(parts, "\n")
}

// Clone returns a copy that can be augmented without touching the original.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Skills = append([]string(nil), p.Skills...)
	c.Titles = append([]string(nil), p.Titles...)
	c.Keywords = append([]string(nil), p.Keywords...)
	return &c
}

func uniqueLower(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func uniqueTrimmed(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
