// Package insight turns raw revenue records into structured business
// insights by prompting a local text-generation model and recovering
// named fields from its free-form output.
package insight

import (
	"context"
	"fmt"
	"log/slog"

	"revlens/internal/core"
	"revlens/internal/llm"
)

// Token budgets per generation step. The primary analysis gets the
// largest budget; the chained follow-ups shrink because their prompts
// already carry the analysis text.
const (
	analysisTokenBudget  = 500
	growthTokenBudget    = 300
	risksTokenBudget     = 200
	marketingTokenBudget = 200
)

const (
	growthInstruction = "Based on the following revenue analysis, suggest specific growth strategies:"
	risksInstruction  = "Based on the following revenue analysis, identify potential issues and risks:"
)

// followUpSteps are the generations chained after the primary
// analysis, run in order. Each prompt embeds the primary completion,
// so the steps are sequential by construction.
var followUpSteps = []struct {
	stage       string
	instruction string
	budget      int
	assign      func(*Insight, string)
}{
	{
		stage:       "growth strategies",
		instruction: growthInstruction,
		budget:      growthTokenBudget,
		assign:      func(in *Insight, s string) { in.GrowthStrategies = s },
	},
	{
		stage:       "risk assessment",
		instruction: risksInstruction,
		budget:      risksTokenBudget,
		assign:      func(in *Insight, s string) { in.PotentialIssues = s },
	},
}

// Generator is the slice of the model runtime the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxNewTokens int, cfg llm.SamplingConfig) (string, error)
}

// Insight is the assembled analysis result. The three extracted fields
// may be empty when the generator did not emit the matching section;
// the two follow-up fields are used verbatim.
type Insight struct {
	Observations         string `json:"observations"`
	PriceRecommendations string `json:"price_recommendations"`
	ProductFocus         string `json:"product_focus"`
	GrowthStrategies     string `json:"growth_strategies"`
	PotentialIssues      string `json:"potential_issues"`
}

type Service struct {
	gen      Generator
	sampling llm.SamplingConfig
}

func NewService(gen Generator) *Service {
	return &Service{gen: gen, sampling: llm.DefaultSampling()}
}

// AnalyzeRevenueTrends aggregates records by month, generates a
// primary analysis, extracts the structured sections, and chains two
// follow-up generations on the primary completion. The three model
// calls are strictly sequential because each follow-up prompt embeds
// the primary text. Any failed generation aborts the whole analysis.
func (s *Service) AnalyzeRevenueTrends(ctx context.Context, records []core.RevenueRecord) (*Insight, error) {
	// Malformed records abort before any generation is spent.
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	months := core.AggregateMonthly(records)
	prompt := BuildAnalysisPrompt(months)
	slog.InfoContext(ctx, "Starting revenue trend analysis", "records", len(records), "months", len(months))

	analysis, err := s.gen.Generate(ctx, prompt, analysisTokenBudget, s.sampling)
	if err != nil {
		return nil, fmt.Errorf("primary analysis: %w", err)
	}

	fields := ExtractSections(analysis)
	result := &Insight{
		Observations:         fields.Observations,
		PriceRecommendations: fields.PriceRecommendations,
		ProductFocus:         fields.ProductFocus,
	}

	for _, step := range followUpSteps {
		text, err := s.gen.Generate(ctx, BuildFollowUpPrompt(step.instruction, analysis), step.budget, s.sampling)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.stage, err)
		}
		step.assign(result, text)
	}

	slog.InfoContext(ctx, "Revenue trend analysis complete",
		"has_observations", fields.Observations != "",
		"has_price_recommendations", fields.PriceRecommendations != "",
		"has_product_focus", fields.ProductFocus != "")

	return result, nil
}

// SuggestMarketing generates marketing ideas for a business profile in
// a single model call.
func (s *Service) SuggestMarketing(ctx context.Context, businessType, targetAudience string) (string, error) {
	ideas, err := s.gen.Generate(ctx, BuildMarketingPrompt(businessType, targetAudience), marketingTokenBudget, s.sampling)
	if err != nil {
		return "", fmt.Errorf("marketing ideas: %w", err)
	}
	return ideas, nil
}
