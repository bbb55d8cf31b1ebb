package router

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one routing rule entry. Type selects which comparison
// applies; Value is matched against the corresponding email field;
// Workspace is the raw (pre-slug) workspace name to use when the rule
// matches.
type Rule struct {
	Type      string `yaml:"type"`
	Value     string `yaml:"value"`
	Workspace string `yaml:"workspace"`
}

// RuleSet is the routing-rules file's top-level shape.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// senderAddressPattern extracts the domain portion of a From header
// value such as "Boss <boss@example.com>".
var senderAddressPattern = regexp.MustCompile(`[\w.-]+@([\w.-]+)`)

func extractSenderDomain(sender string) string {
	if sender == "" {
		return ""
	}
	match := senderAddressPattern.FindStringSubmatch(sender)
	if match == nil {
		return ""
	}
	return strings.ToLower(match[1])
}

// matchRule applies one rule against lowercased/raw email fields.
func matchRule(rule Rule, sender, subject, body, senderL, subjectL, bodyL, senderDomain string) bool {
	rtype := strings.TrimSpace(rule.Type)
	value := strings.TrimSpace(rule.Value)
	if rtype == "" || value == "" {
		return false
	}
	valueL := strings.ToLower(value)

	switch rtype {
	case "sender", "sender_contains":
		return strings.Contains(senderL, valueL)
	case "sender_domain":
		return senderDomain == valueL
	case "subject", "subject_contains":
		return strings.Contains(subjectL, valueL)
	case "subject_regex":
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			slog.Warn("router: invalid subject_regex rule", slog.String("value", value), slog.String("error", err.Error()))
			return false
		}
		return re.MatchString(subject)
	case "body_contains":
		return strings.Contains(bodyL, valueL)
	case "body_regex":
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			slog.Warn("router: invalid body_regex rule", slog.String("value", value), slog.String("error", err.Error()))
			return false
		}
		return re.MatchString(body)
	default:
		slog.Debug("router: unknown rule type", slog.String("type", rtype))
		return false
	}
}

// loadRuleSet reads and parses the routing-rules YAML file at path. A
// missing file yields an empty rule set (logged, not an error) since
// the router must still function with only a default workspace.
func loadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("router: routing rules file absent", slog.String("path", path))
			return RuleSet{}, nil
		}
		return RuleSet{}, fmt.Errorf("router: read rules file %s: %w", path, err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("router: parse rules file %s: %w", path, err)
	}
	return rs, nil
}
