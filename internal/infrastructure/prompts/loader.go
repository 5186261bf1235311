package prompts

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const basePrompt = `You are a helpful assistant. Answer clearly and concisely.
When a tool can satisfy the request, use it instead of guessing.
Today's date is %s.`

var contextPrompts = map[string]string{
	"default": "",
	"research": `Prioritize accuracy over speed. Cite the sources returned by
your tools when you use them.`,
	"writing": `Match the tone the user asks for. Prefer producing a document
deliverable over inlining long content in chat.`,
}

// Loader composes system prompts from a base template, a per-context
// specialization, and per-client overrides.
type Loader struct {
	overrides map[string]string
}

func NewLoader() *Loader {
	return &Loader{}
}

// NewLoaderWithContexts registers extra or replacement context prompts on top
// of the built-in set.
func NewLoaderWithContexts(overrides map[string]string) *Loader {
	return &Loader{overrides: overrides}
}

func (l *Loader) LoadPrompt(modelID, contextID string, clientConfig map[string]string, now time.Time) (string, error) {
	contextPrompt, ok := l.lookupContext(contextID)
	if !ok {
		return "", fmt.Errorf("unknown prompt context: %q", contextID)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(basePrompt, now.Format("Monday, January 2, 2006")))
	if contextPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(contextPrompt)
	}

	if len(clientConfig) > 0 {
		keys := make([]string, 0, len(clientConfig))
		for key := range clientConfig {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		b.WriteString("\n\nClient configuration:")
		for _, key := range keys {
			b.WriteString(fmt.Sprintf("\n- %s: %s", key, clientConfig[key]))
		}
	}
	return b.String(), nil
}

func (l *Loader) lookupContext(contextID string) (string, bool) {
	if contextID == "" {
		contextID = "default"
	}
	if l.overrides != nil {
		if prompt, ok := l.overrides[contextID]; ok {
			return prompt, true
		}
	}
	prompt, ok := contextPrompts[contextID]
	return prompt, ok
}
