package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

const classifierErrorPattern = "classifier:internal_error"

// QueryClassifier scores and routes one conversational turn. Classify is a
// pure function: no I/O, deterministic, and it never panics to the caller.
type QueryClassifier struct {
	cfg domain.ClassifierConfig
}

func NewQueryClassifier(cfg domain.ClassifierConfig) *QueryClassifier {
	return &QueryClassifier{cfg: cfg.Normalize()}
}

func (c *QueryClassifier) Classify(text string, history []domain.Turn) (result domain.ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			// Fail open: a scoring bug must not block the turn.
			result = domain.ClassificationResult{
				UseRichEngine:    true,
				ComplexityScore:  0,
				Confidence:       0.5,
				DetectedPatterns: []string{classifierErrorPattern},
				Reasoning:        fmt.Sprintf("classifier recovered from internal error: %v", r),
			}
		}
	}()

	score := c.complexityScore(text, history)
	patterns := detectPatterns(text)
	intents := detectToolIntents(text)
	contextScore := contextComplexity(history)

	useRich, reason := c.route(patterns, contextScore, score)
	forced := c.forceTool(intents)

	return domain.ClassificationResult{
		UseRichEngine:    useRich,
		ComplexityScore:  score,
		Confidence:       c.decisionConfidence(score, len(patterns)),
		DetectedPatterns: patterns,
		ForcedTool:       forced,
		Reasoning:        reason,
	}
}

func (c *QueryClassifier) complexityScore(text string, history []domain.Turn) float64 {
	words := len(strings.Fields(text))
	sentences := countSentences(text)
	questionWords := len(questionWordPattern.FindAllString(text, -1))
	technicalTerms := len(technicalTermPattern.FindAllString(text, -1))

	score := capped(float64(words)/50, 0.3) +
		capped(float64(sentences)/5, 0.2) +
		capped(float64(questionWords)/3, 0.2) +
		capped(float64(technicalTerms)/2, 0.3)
	if len(history) > 3 {
		score += 0.2
	}
	return capped(score, 1.0)
}

// detectPatterns records at most one match per category, tagged family:category.
func detectPatterns(text string) []string {
	detected := make([]string, 0, len(complexPatternCategories)+len(simplePatternCategories))
	for _, family := range [][]patternCategory{complexPatternCategories, simplePatternCategories} {
		for _, category := range family {
			for _, pattern := range category.patterns {
				if pattern.MatchString(text) {
					detected = append(detected, category.family+":"+category.category)
					break
				}
			}
		}
	}
	return detected
}

// detectToolIntents runs the four independent detectors and returns them
// sorted by confidence descending (stable on ties).
func detectToolIntents(text string) []domain.ToolIntent {
	intents := make([]domain.ToolIntent, 0, len(toolIntentDetectors))
	for _, detector := range toolIntentDetectors {
		matched := 0
		for _, pattern := range detector.patterns {
			if pattern.MatchString(text) {
				matched++
			}
		}
		confidence := float64(matched) / float64(len(detector.patterns))
		for _, boost := range detector.boosts {
			if boost.pattern.MatchString(text) {
				confidence += boost.value
			}
		}
		intents = append(intents, domain.ToolIntent{
			Tool:       detector.tool,
			Confidence: capped(confidence, 1.0),
		})
	}
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].Confidence > intents[j].Confidence
	})
	return intents
}

// contextComplexity scores the last five turns of history.
func contextComplexity(history []domain.Turn) float64 {
	recent := history
	if len(recent) > 5 {
		recent = recent[:5]
	}

	toolMentions := 0
	errorMentions := 0
	for _, turn := range recent {
		toolMentions += len(contextToolKeywordPattern.FindAllString(turn.Content, -1))
		errorMentions += len(contextErrorKeywordPattern.FindAllString(turn.Content, -1))
	}

	score := capped(float64(toolMentions)/3, 0.4) +
		capped(float64(len(history))/10, 0.3) +
		capped(float64(errorMentions)/2, 0.3)
	return capped(score, 1.0)
}

// route applies the ordered decision rules; first match wins.
func (c *QueryClassifier) route(patterns []string, contextScore, score float64) (bool, string) {
	hasToolRequest := containsPattern(patterns, "complex:tool_request")
	hasComplex := hasFamily(patterns, "complex")
	hasSimple := hasFamily(patterns, "simple")

	switch {
	case hasToolRequest:
		return true, "tool request pattern detected"
	case hasSimple && !hasComplex && contextScore < 0.3:
		return false, "simple patterns with low context complexity"
	case hasComplex || contextScore > 0.6:
		return true, "complex pattern or high context complexity"
	default:
		mean := (score + contextScore) / 2
		if mean >= c.cfg.ComplexityThreshold {
			return true, fmt.Sprintf("combined complexity %.2f above threshold %.2f", mean, c.cfg.ComplexityThreshold)
		}
		return false, fmt.Sprintf("combined complexity %.2f below threshold %.2f", mean, c.cfg.ComplexityThreshold)
	}
}

// forceTool turns detector confidences into a forcing directive. Two intent
// pairs force "any tool" regardless of the threshold outcome: a search intent
// co-occurring with document creation means the engine must pick for itself.
func (c *QueryClassifier) forceTool(intents []domain.ToolIntent) *domain.ToolForce {
	byTool := make(map[string]float64, len(intents))
	for _, intent := range intents {
		byTool[intent.Tool] = intent.Confidence
	}
	fires := func(tool string) bool { return byTool[tool] > c.cfg.AnyToolThreshold }

	if fires("create_document") && (fires("web_search") || fires("knowledge_search")) {
		return &domain.ToolForce{Mode: domain.ToolForceAny}
	}

	if len(intents) == 0 {
		return nil
	}
	top := intents[0]
	switch {
	case top.Confidence > c.cfg.NamedToolThreshold:
		return &domain.ToolForce{Mode: domain.ToolForceNamed, ToolName: top.Tool}
	case top.Confidence > c.cfg.AnyToolThreshold:
		return &domain.ToolForce{Mode: domain.ToolForceAny}
	default:
		return nil
	}
}

func (c *QueryClassifier) decisionConfidence(score float64, patternCount int) float64 {
	confidence := 0.5 +
		math.Min(0.3, float64(patternCount)/5*0.3) +
		math.Min(0.2, 0.4*math.Abs(score-c.cfg.ComplexityThreshold))
	return capped(confidence, 1.0)
}

func countSentences(text string) int {
	count := 0
	for _, segment := range sentenceSplitPattern.Split(text, -1) {
		if strings.TrimSpace(segment) != "" {
			count++
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		count = 1
	}
	return count
}

func containsPattern(patterns []string, tag string) bool {
	for _, p := range patterns {
		if p == tag {
			return true
		}
	}
	return false
}

func hasFamily(patterns []string, family string) bool {
	prefix := family + ":"
	for _, p := range patterns {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func capped(value, cap float64) float64 {
	if value > cap {
		return cap
	}
	if value < 0 {
		return 0
	}
	return value
}
