package profile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileProviderBuildProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `name: Jane Doe
location: Berlin
summary: Backend engineer who likes distributed systems.
skills: [Go, Python, " Docker ", go]
titles:
  - Backend Engineer
  - Backend Engineer
experience-years: 6
keywords: [kubernetes, Postgres]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := NewFileProvider(path).BuildProfile(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Name != "Jane Doe" || p.ExperienceYears != 6 {
		t.Fatalf("unexpected profile: %+v", p)
	}

	if strings.Join(p.Skills, ",") != "go,python,docker" {
		t.Fatalf("unexpected skills: %v", p.Skills)
	}

	if len(p.Titles) != 1 || p.Titles[0] != "Backend Engineer" {
		t.Fatalf("unexpected titles: %v", p.Titles)
	}

	if strings.Join(p.Keywords, ",") != "kubernetes,postgres" {
		t.Fatalf("unexpected keywords: %v", p.Keywords)
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	if _, err := NewFileProvider("").BuildProfile(context.Background()); err == nil {
		t.Fatalf("expected error for empty path")
	}

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewFileProvider(missing).BuildProfile(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestAddTitles(t *testing.T) {
	p := &Profile{Titles: []string{"Software Engineer"}}
	p.AddTitles("Software Engineer", " ", "Platform Engineer")

	if strings.Join(p.Titles, "|") != "Software Engineer|Platform Engineer" {
		t.Fatalf("unexpected titles: %v", p.Titles)
	}
}

func TestDescribe(t *testing.T) {
	p := &Profile{
		Name:            "Jane",
		Titles:          []string{"SRE"},
		Skills:          []string{"terraform", "go"},
		ExperienceYears: 4,
		Summary:         strings.Repeat("x", 600),
	}

	got := p.Describe()
	for _, want := range []string{"Name: Jane", "Titles: SRE", "Skills: go, terraform", "Experience: 4 years"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, strings.Repeat("x", 501)) {
		t.Fatalf("expected summary to be truncated")
	}
	if strings.Contains(got, "Location") {
		t.Fatalf("expected empty location to be omitted")
	}
}

func TestStaticClones(t *testing.T) {
	base := &Profile{Titles: []string{"A"}}
	got, err := Static{Profile: base}.BuildProfile(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.AddTitles("B")
	if len(base.Titles) != 1 {
		t.Fatalf("expected original profile to stay untouched, got %v", base.Titles)
	}
}
