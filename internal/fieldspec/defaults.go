package fieldspec

// Canonical SFDR field ids.
const (
	FieldArticleClassification = "article_classification"
	FieldSustainableDefinition = "sustainable_investment_definition"
	FieldDNSHCoverage          = "dnsh_coverage"
	FieldPAICoverageRatio      = "pai_coverage_ratio"
)

// DefaultSet returns the SFDR disclosure field set: the article the fund
// claims, its sustainable investment definition, DNSH coverage, and the
// share of mandatory PAI indicators it reports.
func DefaultSet() Set {
	return Set{
		{
			ID:    FieldArticleClassification,
			Query: "SFDR article 6 8 9 classification disclosure",
			Instruction: "Classify which SFDR article (6, 8, or 9) this fund discloses under. " +
				"Answer with the article number only.",
			Shape:             ShapeEnum,
			AllowedValues:     []string{"6", "8", "9"},
			Priority:          1,
			EvidenceThreshold: 0.5,
			RetrievalK:        3,
			MaxAttempts:       3,
		},
		{
			ID:    FieldSustainableDefinition,
			Query: "sustainable investment definition environmentally socially",
			Instruction: "Quote the fund's definition of sustainable investment. " +
				"If the documents do not define it, answer 'not stated'.",
			Shape:             ShapeFreeText,
			Priority:          2,
			EvidenceThreshold: 0.5,
			RetrievalK:        5,
			MaxAttempts:       3,
		},
		{
			ID:    FieldDNSHCoverage,
			Query: "do no significant harm DNSH environmental objectives",
			Instruction: "Does the fund apply the do-no-significant-harm principle to none, " +
				"part, or all of its investments? Answer none, partial, or full.",
			Shape:             ShapeEnum,
			AllowedValues:     []string{"none", "partial", "full"},
			Priority:          3,
			EvidenceThreshold: 0.5,
			RetrievalK:        5,
			MaxAttempts:       3,
		},
		{
			ID:    FieldPAICoverageRatio,
			Query: "principal adverse impacts PAI sustainability indicators",
			Instruction: "What fraction of the mandatory principal adverse impact indicators " +
				"does the fund report? Answer with a decimal between 0 and 1.",
			Shape:             ShapeRatio,
			Priority:          4,
			EvidenceThreshold: 0.5,
			RetrievalK:        5,
			MaxAttempts:       3,
		},
	}
}
