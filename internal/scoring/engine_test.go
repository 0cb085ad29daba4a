package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/profile"
)

type stubScorer struct {
	assessment *ai.Assessment
	err        error
	block      bool
	calls      int
}

func (s *stubScorer) Assess(ctx context.Context, _ *profile.Profile, _ *listing.Listing) (*ai.Assessment, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.assessment, s.err
}

func matchingProfile() *profile.Profile {
	return &profile.Profile{
		Skills:          []string{"python", "docker", "kubernetes"},
		Titles:          []string{"Software Engineer"},
		ExperienceYears: 5,
	}
}

func matchingListing() *listing.Listing {
	return &listing.Listing{
		Title:       "Senior Software Engineer",
		Company:     "Acme",
		Description: "Python, Docker, Kubernetes, 5 years required",
	}
}

func TestEngineKeywordOnly(t *testing.T) {
	scorer := &stubScorer{assessment: &ai.Assessment{Score: 0.1}}
	engine := NewEngine(Config{SemanticEnabled: false}, scorer, zap.NewNop())

	res := engine.Score(context.Background(), matchingProfile(), matchingListing())
	if res.Strategy != StrategyKeyword || res.Fallback {
		t.Fatalf("unexpected result: %+v", res)
	}
	if scorer.calls != 0 {
		t.Fatalf("expected semantic scorer to stay unused, got %d calls", scorer.calls)
	}
}

func TestEngineSemanticSuccess(t *testing.T) {
	scorer := &stubScorer{assessment: &ai.Assessment{Score: 1.7, Reason: "strong fit"}}
	engine := NewEngine(Config{SemanticEnabled: true, PreFilter: 0.2}, scorer, zap.NewNop())

	res := engine.Score(context.Background(), matchingProfile(), matchingListing())
	if res.Strategy != StrategySemantic {
		t.Fatalf("expected semantic strategy, got %+v", res)
	}
	if res.Score != 1.0 {
		t.Fatalf("expected score clamped to 1, got %v", res.Score)
	}
	if res.Reason != "[AI] strong fit" {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
}

func TestEngineSemanticGate(t *testing.T) {
	scorer := &stubScorer{assessment: &ai.Assessment{Score: 0.9}}
	engine := NewEngine(Config{SemanticEnabled: true, PreFilter: 0.95}, scorer, zap.NewNop())

	res := engine.Score(context.Background(), matchingProfile(), matchingListing())
	if res.Strategy != StrategyKeyword {
		t.Fatalf("expected listing below pre-filter to keep keyword strategy, got %+v", res)
	}
	if scorer.calls != 0 {
		t.Fatalf("expected no semantic calls below the gate, got %d", scorer.calls)
	}
}

func TestEngineFallback(t *testing.T) {
	wantScore, wantReason := KeywordScore(matchingProfile(), matchingListing())

	tests := []struct {
		name   string
		scorer *stubScorer
	}{
		{name: "error", scorer: &stubScorer{err: errors.New("boom")}},
		{name: "nil assessment", scorer: &stubScorer{}},
		{name: "nan score", scorer: &stubScorer{assessment: &ai.Assessment{Score: math.NaN(), Reason: "??"}}},
		{name: "timeout", scorer: &stubScorer{block: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			engine := NewEngine(Config{SemanticEnabled: true, PreFilter: 0.2, SemanticTimeout: 10 * time.Millisecond}, tt.scorer, zap.New(core))

			res := engine.Score(context.Background(), matchingProfile(), matchingListing())
			if !res.Fallback || res.FallbackErr == nil {
				t.Fatalf("expected fallback, got %+v", res)
			}
			if res.Score != wantScore || res.Reason != wantReason {
				t.Fatalf("expected keyword result (%v, %q), got (%v, %q)", wantScore, wantReason, res.Score, res.Reason)
			}
			if res.Strategy != StrategyKeyword {
				t.Fatalf("expected keyword strategy, got %s", res.Strategy)
			}
			if logs.FilterMessage("semantic scoring failed, using keyword score").Len() != 1 {
				t.Fatalf("expected fallback warning to be logged")
			}
		})
	}
}

func TestScoreAndFilter(t *testing.T) {
	p := matchingProfile()
	items := []listing.Listing{
		{Title: "Pastry Chef", Company: "Bakery", URL: "1"},
		{Title: "Software Engineer", Company: "A", URL: "2", Description: "python"},
		{Title: "Senior Software Engineer", Company: "B", URL: "3", Description: "Python, Docker, Kubernetes, 5 years required"},
		{Title: "Software Engineer", Company: "C", URL: "4", Description: "python"},
	}

	engine := NewEngine(Config{}, nil, zap.NewNop())
	matched, summary := engine.ScoreAndFilter(context.Background(), p, items, 0.3)

	if summary.Scored != 4 || summary.Matched != len(matched) {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	for i, l := range matched {
		if l.Score < 0.3 {
			t.Fatalf("listing %q below threshold: %v", l.Title, l.Score)
		}
		if i > 0 && matched[i-1].Score < l.Score {
			t.Fatalf("results not sorted descending at %d", i)
		}
	}

	if len(matched) != 3 || matched[0].Company != "B" {
		t.Fatalf("unexpected matches: %+v", matched)
	}
	if matched[1].Company != "A" || matched[2].Company != "C" {
		t.Fatalf("expected ties to keep fetch order, got %s then %s", matched[1].Company, matched[2].Company)
	}

	for _, l := range items {
		if l.Reason == "" {
			t.Fatalf("expected every listing to be scored in place, %q has no reason", l.Title)
		}
	}
}
