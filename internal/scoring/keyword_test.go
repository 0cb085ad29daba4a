package scoring

import (
	"strings"
	"testing"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/profile"
)

func TestKeywordScoreSeniorSoftwareEngineer(t *testing.T) {
	p := &profile.Profile{
		Skills:          []string{"python", "docker", "kubernetes"},
		Titles:          []string{"Software Engineer"},
		ExperienceYears: 5,
	}
	l := &listing.Listing{
		Title:       "Senior Software Engineer",
		Company:     "Acme",
		Description: "Python, Docker, Kubernetes, 5 years required",
	}

	score, reason := KeywordScore(p, l)
	if score <= 0.4 {
		t.Fatalf("expected score above 0.4, got %v", score)
	}
	if !strings.Contains(reason, "Skills: docker, kubernetes, python") {
		t.Fatalf("expected skills in reason, got %q", reason)
	}
	if !strings.Contains(reason, "Title match: Software Engineer") {
		t.Fatalf("expected title match in reason, got %q", reason)
	}
	if !strings.Contains(reason, "Experience: 5yr required, you have 5yr") {
		t.Fatalf("expected experience in reason, got %q", reason)
	}
	if score != 0.8 {
		t.Fatalf("expected 0.4+0.3+0.1 = 0.8, got %v", score)
	}
}

func TestKeywordScoreLowOverlap(t *testing.T) {
	p := &profile.Profile{Skills: []string{"rust"}, Titles: []string{"Firmware Engineer"}}
	l := &listing.Listing{Title: "Pastry Chef", Description: "Bake bread every morning"}

	score, reason := KeywordScore(p, l)
	if score != 0 {
		t.Fatalf("expected zero score, got %v", score)
	}
	if reason != lowOverlapReason {
		t.Fatalf("expected %q, got %q", lowOverlapReason, reason)
	}
}

func TestKeywordScoreExperienceBands(t *testing.T) {
	tests := []struct {
		name     string
		profile  int
		text     string
		expected float64
	}{
		{name: "no requirement is neutral", profile: 4, text: "great place", expected: 0.5},
		{name: "close", profile: 4, text: "3 years experience", expected: 1.0},
		{name: "medium", profile: 10, text: "5 years experience", expected: 0.5},
		{name: "far", profile: 15, text: "2 years experience", expected: 0.2},
		{name: "no profile experience", profile: 0, text: "2 years experience", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &profile.Profile{ExperienceYears: tt.profile}
			_, _, b := keywordScore(p, &listing.Listing{Title: "x", Description: tt.text})
			if b.Experience != tt.expected {
				t.Fatalf("expected experience %v, got %v", tt.expected, b.Experience)
			}
		})
	}
}

func TestKeywordScoreKeywordOverlap(t *testing.T) {
	p := &profile.Profile{Keywords: []string{"kafka", "postgres", "terraform", "grpc"}}
	l := &listing.Listing{Title: "Engineer", Description: "kafka kafka postgres streaming"}

	_, _, b := keywordScore(p, l)
	if b.Keywords != 0.5 {
		t.Fatalf("expected 2/4 keyword overlap, got %v", b.Keywords)
	}
}

func TestKeywordScoreBounds(t *testing.T) {
	profiles := []*profile.Profile{
		{},
		{Skills: []string{"go", "r", "c++", "python"}, Titles: []string{"Engineer", "Go Developer"}, ExperienceYears: 3, Keywords: []string{"go", "backend"}},
		{Skills: []string{"go"}, ExperienceYears: 30},
	}
	listings := []listing.Listing{
		{},
		{Title: "Go Developer", Description: "go go go backend 3 years"},
		{Title: "Senior Engineer II", Description: strings.Repeat("python c++ r ", 50)},
	}

	for i, p := range profiles {
		for j := range listings {
			score, _ := KeywordScore(p, &listings[j])
			if score < 0 || score > 1 {
				t.Fatalf("profile %d listing %d: score %v out of bounds", i, j, score)
			}
		}
	}
}
