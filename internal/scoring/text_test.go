package scoring

import (
	"strings"
	"testing"
)

func TestContainsSkill(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		skill string
		want  bool
	}{
		{name: "short skill inside word", text: "you are great", skill: "r", want: false},
		{name: "short skill standalone", text: "stats in r and python", skill: "r", want: true},
		{name: "short skill at end", text: "we write go", skill: "go", want: true},
		{name: "short skill inside longer word", text: "google cloud", skill: "go", want: false},
		{name: "short skill with punctuation", text: "go, rust", skill: "go", want: true},
		{name: "long skill substring", text: "postgresql experience", skill: "postgres", want: true},
		{name: "missing", text: "java only", skill: "python", want: false},
		{name: "empty skill", text: "anything", skill: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ContainsSkill(tt.text, tt.skill); got != tt.want {
				t.Fatalf("ContainsSkill(%q, %q) = %v, want %v", tt.text, tt.skill, got, tt.want)
			}
		})
	}
}

func TestExtractSkills(t *testing.T) {
	got := ExtractSkills("We use Go, Docker and Kubernetes on AWS")
	want := "aws,docker,go,kubernetes"
	if strings.Join(got, ",") != want {
		t.Fatalf("expected %s, got %v", want, got)
	}
}

func TestExtractKeywordsRanking(t *testing.T) {
	text := "kafka golang kafka the postgres golang kafka team"
	got := ExtractKeywords(text, 2)

	if strings.Join(got, ",") != "kafka,golang" {
		t.Fatalf("unexpected keywords: %v", got)
	}

	all := ExtractKeywords(text, 10)
	for _, kw := range all {
		if kw == "the" || kw == "team" {
			t.Fatalf("stop word %q leaked into keywords", kw)
		}
	}
	if strings.Join(all, ",") != "kafka,golang,postgres" {
		t.Fatalf("expected ties broken by first occurrence, got %v", all)
	}
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Senior Software Engineer":     "software engineer",
		"Sr. Backend Developer II":     "backend developer",
		"Staff Engineer":               "engineer",
		"  Principal Data Scientist  ": "data scientist",
		"Software Engineer III":        "software engineer",
		"Lead":                         "lead",
	}

	for in, want := range tests {
		if got := NormalizeTitle(in); got != want {
			t.Fatalf("NormalizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	if got := TitleSimilarity("Software Engineer", "Senior Software Engineer"); got != 1.0 {
		t.Fatalf("expected identical normalized titles to score 1, got %v", got)
	}
	if got := TitleSimilarity("Software Engineer", "Pastry Chef"); got != 0.0 {
		t.Fatalf("expected disjoint titles to score 0, got %v", got)
	}
	if got := TitleSimilarity("Backend Engineer", "Backend Platform Engineer"); got < 0.66 || got > 0.67 {
		t.Fatalf("expected 2/3 overlap, got %v", got)
	}
}

func TestExtractYearsExperience(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text  string
		years int
		ok    bool
	}{
		{text: "5+ years of experience with Go", years: 5, ok: true},
		{text: "Experience of 3 years required", years: 3, ok: true},
		{text: "at least 7 yrs", years: 7, ok: true},
		{text: "no requirement here", ok: false},
	}

	for _, tt := range tests {
		years, ok := ExtractYearsExperience(tt.text)
		if ok != tt.ok || years != tt.years {
			t.Fatalf("ExtractYearsExperience(%q) = (%d, %v), want (%d, %v)", tt.text, years, ok, tt.years, tt.ok)
		}
	}
}
