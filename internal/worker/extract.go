package worker

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// extractorRules is the config shape of an extractor elaboration:
//
//	{"rules": [{"name": "token", "pattern": "([A-Za-z0-9]{32,44})"}]}
//
// When a pattern has a capture group the first group is the extracted
// value, otherwise the whole match.
type extractorRules struct {
	Rules []extractorRule `json:"rules"`
}

type extractorRule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// compiledExtractor is one ready-to-run extractor elaboration.
type compiledExtractor struct {
	ElaborationID int64
	rules         []compiledRule
}

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// Extraction is one extracted occurrence.
type Extraction struct {
	RuleName        string
	Value           string
	OccurrenceIndex int
}

// compileExtractor parses and compiles an extractor config.
func compileExtractor(elaborationID int64, raw json.RawMessage) (*compiledExtractor, error) {
	var cfg extractorRules
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid extractor config: %w", err)
	}

	out := &compiledExtractor{ElaborationID: elaborationID}
	for _, rule := range cfg.Rules {
		if rule.Name == "" || rule.Pattern == "" {
			return nil, fmt.Errorf("extractor rule needs both name and pattern")
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for rule %q: %w", rule.Name, err)
		}
		out.rules = append(out.rules, compiledRule{name: rule.Name, re: re})
	}
	return out, nil
}

// Extract runs every rule over text, indexing occurrences per rule.
func (e *compiledExtractor) Extract(text string) []Extraction {
	var out []Extraction
	for _, rule := range e.rules {
		matches := rule.re.FindAllStringSubmatch(text, -1)
		for i, match := range matches {
			value := match[0]
			if len(match) > 1 && match[1] != "" {
				value = match[1]
			}
			out = append(out, Extraction{
				RuleName:        rule.name,
				Value:           value,
				OccurrenceIndex: i,
			})
		}
	}
	return out
}
