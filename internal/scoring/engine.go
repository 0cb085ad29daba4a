package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/profile"
)

// Strategy names the scorer that produced a result.
type Strategy string

const (
	StrategyKeyword  Strategy = "keyword"
	StrategySemantic Strategy = "semantic"

	semanticReasonPrefix = "[AI] "
	defaultAIReason      = "AI scored"

	DefaultThreshold       = 0.3
	DefaultPreFilter       = 0.2
	DefaultSemanticTimeout = 30 * time.Second
)

var errInvalidScore = errors.New("semantic scorer returned a non-numeric score")

// Result is the outcome of scoring one listing. When the semantic strategy was
// attempted and failed, Fallback is set and Score/Reason carry the keyword result.
type Result struct {
	Score       float64
	Reason      string
	Strategy    Strategy
	Fallback    bool
	FallbackErr error
}

type Config struct {
	SemanticEnabled bool
	PreFilter       float64
	SemanticTimeout time.Duration
}

// Summary counts what a batch scoring pass did.
type Summary struct {
	Scored    int
	Semantic  int
	Fallbacks int
	Matched   int
}

type Engine struct {
	cfg      Config
	semantic ai.Scorer
	logger   *zap.Logger
}

// NewEngine returns an engine. The semantic strategy is active only when it is
// enabled in cfg and a scorer is supplied.
func NewEngine(cfg Config, semantic ai.Scorer, log *zap.Logger) *Engine {
	if cfg.SemanticTimeout <= 0 {
		cfg.SemanticTimeout = DefaultSemanticTimeout
	}
	return &Engine{
		cfg:      cfg,
		semantic: semantic,
		logger:   logger.OrNop(log),
	}
}

// SemanticActive reports whether listings above the pre-filter go to the semantic scorer.
func (e *Engine) SemanticActive() bool {
	return e.cfg.SemanticEnabled && e.semantic != nil
}

// Score rates one listing. It never fails: semantic errors turn into a
// fallback result carrying the keyword score.
func (e *Engine) Score(ctx context.Context, p *profile.Profile, l *listing.Listing) Result {
	kwScore, kwReason := KeywordScore(p, l)
	keyword := Result{Score: kwScore, Reason: kwReason, Strategy: StrategyKeyword}

	if !e.SemanticActive() || kwScore < e.cfg.PreFilter {
		return keyword
	}

	score, reason, err := e.assess(ctx, p, l)
	if err != nil {
		e.logger.Warn("semantic scoring failed, using keyword score",
			zap.String("title", l.Title),
			zap.String("company", l.Company),
			zap.Float64("keyword_score", kwScore),
			zap.Error(err),
		)
		keyword.Fallback = true
		keyword.FallbackErr = err
		return keyword
	}

	e.logger.Debug("semantic score",
		zap.String("title", l.Title),
		zap.String("company", l.Company),
		zap.Float64("keyword_score", kwScore),
		zap.Float64("score", score),
	)

	return Result{Score: score, Reason: reason, Strategy: StrategySemantic}
}

func (e *Engine) assess(ctx context.Context, p *profile.Profile, l *listing.Listing) (float64, string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SemanticTimeout)
	defer cancel()

	assessment, err := e.semantic.Assess(ctx, p, l)
	if err != nil {
		return 0, "", err
	}
	if assessment == nil {
		return 0, "", fmt.Errorf("semantic scorer returned no assessment")
	}
	if math.IsNaN(assessment.Score) || math.IsInf(assessment.Score, 0) {
		return 0, "", errInvalidScore
	}

	score := round3(math.Max(0, math.Min(1, assessment.Score)))
	reason := strings.TrimSpace(assessment.Reason)
	if reason == "" {
		reason = defaultAIReason
	}

	return score, semanticReasonPrefix + reason, nil
}

// ScoreAndFilter scores every listing in place, then returns copies of those
// scoring at least threshold, sorted by score descending. Ties keep input order.
func (e *Engine) ScoreAndFilter(ctx context.Context, p *profile.Profile, items []listing.Listing, threshold float64) ([]listing.Listing, Summary) {
	summary := Summary{Scored: len(items)}
	matched := make([]listing.Listing, 0, len(items))

	for i := range items {
		res := e.Score(ctx, p, &items[i])
		items[i].Score = res.Score
		items[i].Reason = res.Reason

		if res.Strategy == StrategySemantic {
			summary.Semantic++
		}
		if res.Fallback {
			summary.Fallbacks++
		}
		if res.Score >= threshold {
			matched = append(matched, items[i])
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Score > matched[j].Score
	})
	summary.Matched = len(matched)

	strategy := StrategyKeyword
	if e.SemanticActive() {
		strategy = StrategySemantic
	}
	e.logger.Info("scoring completed",
		zap.String("strategy", string(strategy)),
		zap.Float64("threshold", threshold),
		zap.Int("scored", summary.Scored),
		zap.Int("semantic", summary.Semantic),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Int("matched", summary.Matched),
	)

	return matched, summary
}
