package insight

import (
	"fmt"
	"strings"

	"revlens/internal/core"
)

// analysisInstructions follow the month blocks in every analysis
// prompt. The extractor keys off the section names used here, so the
// two must move together.
const analysisInstructions = `
Based on this data, please provide:

1. Key Observations:
- What are the main revenue trends?
- Are there any seasonal patterns?
- Which categories are performing well/poorly?

2. Price Recommendations:
- Should prices be adjusted?
- Which products need price changes?
- What is the optimal pricing strategy?

3. Product Focus:
- Which products should we prioritize?
- Are there opportunities for new products?
- How should we position our products?

4. Growth Strategies:
- What are the best growth opportunities?
- How can we increase revenue?
- What new markets should we target?

5. Potential Issues:
- Are there any revenue risks?
- What challenges might we face?
- How can we mitigate risks?

Please provide detailed, actionable recommendations for each section.
`

// BuildAnalysisPrompt renders the monthly summary into the analysis
// prompt: role framing, one block per month in chronological order,
// then the fixed instructional sections. Deterministic for a given
// summary; an empty summary still yields a valid prompt.
func BuildAnalysisPrompt(months map[string]*core.MonthlySummary) string {
	var b strings.Builder
	b.WriteString("You are a business analyst providing detailed revenue analysis and recommendations.\n\nRevenue Data Analysis:\n")

	for _, key := range core.MonthKeys(months) {
		m := months[key]
		fmt.Fprintf(&b, "\n%s:\n", key)
		fmt.Fprintf(&b, "  Total Revenue: %s\n", core.FormatUSD(m.Total.Cents))
		fmt.Fprintf(&b, "  Transactions: %d\n", m.Count)
		if len(m.Categories) > 0 {
			b.WriteString("  Categories:\n")
			for _, name := range m.CategoryNames() {
				fmt.Fprintf(&b, "    %s: %s\n", name, core.FormatUSD(m.Categories[name].Cents))
			}
		}
	}

	b.WriteString(analysisInstructions)
	return b.String()
}

// BuildFollowUpPrompt chains a follow-up instruction onto a prior
// completion so the second generation stays anchored to the first.
func BuildFollowUpPrompt(instruction, analysis string) string {
	return instruction + "\n" + analysis
}

// BuildMarketingPrompt is the single-shot prompt behind marketing idea
// generation.
func BuildMarketingPrompt(businessType, targetAudience string) string {
	return fmt.Sprintf(
		"Generate 5 marketing ideas for a %s business targeting %s. Include both online and offline strategies.",
		businessType, targetAudience,
	)
}
