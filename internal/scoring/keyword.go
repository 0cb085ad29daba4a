package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/profile"
)

const (
	weightSkills     = 0.40
	weightTitle      = 0.30
	weightKeywords   = 0.20
	weightExperience = 0.10

	profileKeywordLimit = 30
	listingKeywordLimit = 20
	reasonSkillLimit    = 5
	titleReasonMinimum  = 0.3

	lowOverlapReason = "Low keyword overlap"
)

// Breakdown keeps the sub-scores behind a keyword score.
type Breakdown struct {
	Skills     float64
	Title      float64
	Keywords   float64
	Experience float64
}

// KeywordScore rates a listing against a profile with the weighted
// skills/title/keywords/experience blend. The result is rounded to 3 decimals.
func KeywordScore(p *profile.Profile, l *listing.Listing) (float64, string) {
	score, reason, _ := keywordScore(p, l)
	return score, reason
}

func keywordScore(p *profile.Profile, l *listing.Listing) (float64, string, Breakdown) {
	var (
		b       Breakdown
		reasons []string
	)
	text := l.Text()

	if len(p.Skills) > 0 {
		matched := make([]string, 0, len(p.Skills))
		for _, skill := range p.Skills {
			if ContainsSkill(text, strings.ToLower(skill)) {
				matched = append(matched, strings.ToLower(skill))
			}
		}
		b.Skills = math.Min(float64(len(matched))/float64(len(p.Skills)), 1.0)
		if len(matched) > 0 {
			sort.Strings(matched)
			if len(matched) > reasonSkillLimit {
				matched = matched[:reasonSkillLimit]
			}
			reasons = append(reasons, "Skills: "+strings.Join(matched, ", "))
		}
	}

	bestTitle := ""
	for _, title := range p.Titles {
		if sim := TitleSimilarity(title, l.Title); sim > b.Title {
			b.Title = sim
			bestTitle = title
		}
	}
	if b.Title > titleReasonMinimum {
		reasons = append(reasons, "Title match: "+bestTitle)
	}

	profileKeywords := p.Keywords
	if len(profileKeywords) > profileKeywordLimit {
		profileKeywords = profileKeywords[:profileKeywordLimit]
	}
	if len(profileKeywords) > 0 {
		listingKeywords := toSet(ExtractKeywords(text, listingKeywordLimit)...)
		if len(listingKeywords) > 0 {
			wanted := toSet(profileKeywords...)
			common := 0
			for kw := range wanted {
				if _, ok := listingKeywords[kw]; ok {
					common++
				}
			}
			b.Keywords = math.Min(float64(common)/float64(len(wanted)), 1.0)
		}
	}

	if p.ExperienceYears > 0 {
		required, ok := ExtractYearsExperience(text)
		switch {
		case !ok:
			b.Experience = 0.5
		case abs(p.ExperienceYears-required) <= 2:
			b.Experience = 1.0
			reasons = append(reasons, fmt.Sprintf("Experience: %dyr required, you have %dyr", required, p.ExperienceYears))
		case abs(p.ExperienceYears-required) <= 5:
			b.Experience = 0.5
		default:
			b.Experience = 0.2
		}
	}

	total := weightSkills*b.Skills +
		weightTitle*b.Title +
		weightKeywords*b.Keywords +
		weightExperience*b.Experience

	reason := lowOverlapReason
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return round3(total), reason, b
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
