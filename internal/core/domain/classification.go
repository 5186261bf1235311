package domain

// ToolForceMode tells the engine how strongly a tool invocation is required.
type ToolForceMode string

const (
	ToolForceNamed ToolForceMode = "named"
	ToolForceAny   ToolForceMode = "any"
)

// ToolForce is a directive compelling the rich engine to invoke a specific
// tool, or any tool, on its next model step.
type ToolForce struct {
	Mode     ToolForceMode `json:"mode"`
	ToolName string        `json:"tool_name,omitempty"`
}

// ClassificationResult is produced exactly once per turn and never mutated.
type ClassificationResult struct {
	UseRichEngine    bool       `json:"use_rich_engine"`
	ComplexityScore  float64    `json:"complexity_score"`
	Confidence       float64    `json:"confidence"`
	DetectedPatterns []string   `json:"detected_patterns"`
	ForcedTool       *ToolForce `json:"forced_tool,omitempty"`
	Reasoning        string     `json:"reasoning"`
}

// ToolIntent is one tool-intent detector outcome, confidence in [0,1].
type ToolIntent struct {
	Tool       string  `json:"tool"`
	Confidence float64 `json:"confidence"`
}

// ClassifierConfig carries the tunable routing and tool-forcing thresholds.
// The boost constants behind the detectors are product-tuning choices; only
// the thresholds are exposed.
type ClassifierConfig struct {
	ComplexityThreshold float64
	NamedToolThreshold  float64
	AnyToolThreshold    float64
}

func (c ClassifierConfig) Normalize() ClassifierConfig {
	out := c
	if out.ComplexityThreshold <= 0 || out.ComplexityThreshold > 1 {
		out.ComplexityThreshold = 0.6
	}
	if out.NamedToolThreshold <= 0 || out.NamedToolThreshold > 1 {
		out.NamedToolThreshold = 0.3
	}
	if out.AnyToolThreshold <= 0 || out.AnyToolThreshold >= out.NamedToolThreshold {
		out.AnyToolThreshold = 0.1
	}
	return out
}
