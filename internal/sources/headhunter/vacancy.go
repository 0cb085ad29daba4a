package headhunter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spigell/job-radar/internal/listing"
)

const remoteScheduleID = "remote"

type Vacancies struct {
	Items []*Vacancy
}

type NamedRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Salary struct {
	From     int    `json:"from,omitempty"`
	To       int    `json:"to,omitempty"`
	Currency string `json:"currency,omitempty"`
	Gross    bool   `json:"gross,omitempty"`
}

type Employer struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	Trusted      bool   `json:"trusted,omitempty"`
}

type Snippet struct {
	Requirement    string `json:"requirement,omitempty"`
	Responsibility string `json:"responsibility,omitempty"`
}

type Vacancy struct {
	ID           string     `json:"id,omitempty"`
	Name         string     `json:"name,omitempty"`
	Area         NamedRef   `json:"area,omitempty"`
	Salary       *Salary    `json:"salary,omitempty"`
	Experience   NamedRef   `json:"experience,omitempty"`
	Schedule     NamedRef   `json:"schedule,omitempty"`
	Employment   NamedRef   `json:"employment,omitempty"`
	Employer     Employer   `json:"employer,omitempty"`
	AlternateURL string     `json:"alternate_url,omitempty"`
	Description  string     `json:"description,omitempty"`
	KeySkills    []NamedRef `json:"key_skills,omitempty"`
	Archived     bool       `json:"archived,omitempty"`
	Snippet      Snippet    `json:"snippet,omitempty"`
	PublishedAt  string     `json:"published_at,omitempty"`
}

var markup = regexp.MustCompile(`<[^>]+>`)

func (v *Vacancies) Len() int {
	if v == nil {
		return 0
	}
	return len(v.Items)
}

// ToListings converts vacancies to listings, skipping archived ones and those without a name or employer.
func (v *Vacancies) ToListings() []listing.Listing {
	if v == nil {
		return nil
	}
	out := make([]listing.Listing, 0, len(v.Items))
	for _, va := range v.Items {
		if va == nil || va.Archived || va.Name == "" || va.Employer.Name == "" {
			continue
		}
		out = append(out, va.ToListing())
	}
	return out
}

func (va *Vacancy) ToListing() listing.Listing {
	return listing.Listing{
		Title:       va.Name,
		Company:     va.Employer.Name,
		URL:         va.AlternateURL,
		Location:    va.Area.Name,
		Description: va.text(),
		Salary:      va.Salary.String(),
		Source:      Name,
		PostedDate:  va.PublishedAt,
		JobType:     va.Employment.Name,
		Remote:      va.Schedule.ID == remoteScheduleID,
	}
}

// text prefers the full description and falls back to the search snippet.
// Key skills are appended so keyword scoring sees them.
func (va *Vacancy) text() string {
	parts := make([]string, 0, 3)
	if d := stripMarkup(va.Description); d != "" {
		parts = append(parts, d)
	} else {
		for _, s := range []string{va.Snippet.Requirement, va.Snippet.Responsibility} {
			if s = stripMarkup(s); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(va.KeySkills) > 0 {
		skills := make([]string, 0, len(va.KeySkills))
		for _, s := range va.KeySkills {
			skills = append(skills, s.Name)
		}
		parts = append(parts, "Key skills: "+strings.Join(skills, ", "))
	}
	return strings.Join(parts, "\n")
}

func (s *Salary) String() string {
	if s == nil || (s.From == 0 && s.To == 0) {
		return ""
	}
	var out string
	switch {
	case s.From > 0 && s.To > 0:
		out = fmt.Sprintf("%d-%d", s.From, s.To)
	case s.From > 0:
		out = fmt.Sprintf("from %d", s.From)
	default:
		out = fmt.Sprintf("up to %d", s.To)
	}
	if s.Currency != "" {
		out += " " + s.Currency
	}
	return out
}

func stripMarkup(s string) string {
	return strings.Join(strings.Fields(markup.ReplaceAllString(s, " ")), " ")
}
