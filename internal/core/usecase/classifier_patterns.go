package usecase

import "regexp"

// Pattern tables for the query classifier. Category order is significant:
// detection iterates slices, never maps, so identical input always yields an
// identical result.

type patternCategory struct {
	family   string
	category string
	patterns []*regexp.Regexp
}

var complexPatternCategories = []patternCategory{
	{
		family:   "complex",
		category: "tool_request",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(create|add|make|draft|write|generate|schedule|set\s+up)\b.{0,60}\b(task|ticket|reminder|event|document|doc|report|memo|page|entry)\b`),
			regexp.MustCompile(`(?i)\b(search|look\s+up|google|find)\b.{0,40}\b(web|online|internet|news)\b`),
			regexp.MustCompile(`(?i)\buse\s+the\b.{0,30}\btool\b`),
		},
	},
	{
		family:   "complex",
		category: "multi_step",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(first|then|after\s+that|next|finally|step\s+by\s+step)\b`),
			regexp.MustCompile(`(?i)\band\s+(then|also)\b`),
		},
	},
	{
		family:   "complex",
		category: "reasoning",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(why|explain|compare|analy[sz]e|evaluate|trade[- ]?offs?|pros\s+and\s+cons)\b`),
			regexp.MustCompile(`(?i)\bwhat\s+(would|should|happens?)\b`),
		},
	},
	{
		family:   "complex",
		category: "domain_specific",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(quarterly|fiscal|q[1-4])\b.{0,40}\b(report|review|plan|forecast)\b`),
			regexp.MustCompile(`(?i)\b(sprint|backlog|milestone|roadmap|okr)\b`),
		},
	},
	{
		family:   "complex",
		category: "knowledge_retrieval",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(according\s+to|based\s+on)\b.{0,40}\b(docs?|documentation|knowledge\s*base|files?|notes?)\b`),
			regexp.MustCompile(`(?i)\bwhat\s+(do|does)\s+(the|our|my)\b.{0,30}\b(docs?|files?|notes?)\s+say\b`),
		},
	},
}

var simplePatternCategories = []patternCategory{
	{
		family:   "simple",
		category: "conversational",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank\s+you|good\s+(morning|afternoon|evening)|bye|goodbye)\b`),
			regexp.MustCompile(`(?i)^\s*how\s+are\s+you\b`),
		},
	},
	{
		family:   "simple",
		category: "factual",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(what|who|when|where)\s+(is|was|are|were)\b[^,;]{0,40}\?*\s*$`),
			regexp.MustCompile(`(?i)^\s*define\b`),
		},
	},
	{
		family:   "simple",
		category: "simple_tool",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(what\s+time|what'?s\s+the\s+(time|date|weather))\b`),
			regexp.MustCompile(`(?i)^\s*(list|show)\s+my\b`),
		},
	},
}

// toolIntentDetector scores how strongly the text asks for one tool family:
// pattern-match density plus additive boosts for strong lexical cues, clamped
// to [0,1] by the caller.
type toolIntentDetector struct {
	tool     string
	patterns []*regexp.Regexp
	boosts   []intentBoost
}

type intentBoost struct {
	pattern *regexp.Regexp
	value   float64
}

var toolIntentDetectors = []toolIntentDetector{
	{
		tool: "create_document",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(document|doc|report|essay|memo|letter|article|post|page)\b`),
			regexp.MustCompile(`(?i)\b(write|draft|compose|author)\b`),
			regexp.MustCompile(`(?i)\b(outline|summary|proposal)\b`),
		},
		boosts: []intentBoost{
			{regexp.MustCompile(`(?i)\b(create|write|draft|make|generate)\b.{0,50}\b(document|doc|report|essay|memo|letter|article|post)\b`), 0.3},
			{regexp.MustCompile(`(?i)^\s*(create|write|draft)\b`), 0.15},
		},
	},
	{
		tool: "web_search",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(search|look\s+up|google|find\s+out)\b`),
			regexp.MustCompile(`(?i)\b(latest|current|recent|today'?s|news)\b`),
			regexp.MustCompile(`(?i)\b(online|web|internet)\b`),
		},
		boosts: []intentBoost{
			{regexp.MustCompile(`(?i)\b(search|look\s+up|google)\b.{0,40}\b(web|online|internet|news|for)\b`), 0.3},
			{regexp.MustCompile(`(?i)^\s*(search|google|look\s+up)\b`), 0.15},
		},
	},
	{
		tool: "task_tracker",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(task|ticket|todo|to-do|issue)\b`),
			regexp.MustCompile(`(?i)\b(tracker|board|backlog|asana|jira|linear)\b`),
			regexp.MustCompile(`(?i)\b(due|deadline|assign(ed)?|priorit(y|ize))\b`),
		},
		boosts: []intentBoost{
			{regexp.MustCompile(`(?i)\b(create|add|make|open)\b.{0,40}\b(task|ticket|todo|to-do|issue)\b`), 0.3},
			{regexp.MustCompile(`(?i)\bdue\s+(on|by|this|next|tomorrow|today|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`), 0.15},
		},
	},
	{
		tool: "knowledge_search",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(knowledge\s*base|kb|wiki|documentation)\b`),
			regexp.MustCompile(`(?i)\b(our|my|internal|uploaded)\b.{0,30}\b(docs?|files?|notes?)\b`),
			regexp.MustCompile(`(?i)\bfind\b.{0,30}\b(in|from)\b.{0,30}\b(docs?|files?|notes?)\b`),
		},
		boosts: []intentBoost{
			{regexp.MustCompile(`(?i)\b(search|look|check)\b.{0,40}\b(knowledge\s*base|kb|wiki|docs?)\b`), 0.3},
		},
	},
}

var questionWordPattern = regexp.MustCompile(`(?i)\b(who|what|when|where|why|how|which|whose|whom|can|could|should|would)\b`)

var technicalTermPattern = regexp.MustCompile(`(?i)\b(api|database|server|deploy(ment)?|algorithm|function|query|integration|auth(entication)?|pipeline|schema|endpoint|docker|kubernetes|regression|migration|cache|webhook)\b`)

var contextToolKeywordPattern = regexp.MustCompile(`(?i)\b(tool|search|document|task|calendar|file|create|update|schedule)\b`)

var contextErrorKeywordPattern = regexp.MustCompile(`(?i)\b(error|fail(ed|ure)?|broken|wrong|retry|issue|bug|crash)\b`)

var sentenceSplitPattern = regexp.MustCompile(`[.!?]+`)
