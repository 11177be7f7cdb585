package model

import (
	"regexp"
	"strings"
)

// Polarity controls whether a RoutingRule's set conditions must include or
// exclude the matched value.
type Polarity int

const (
	Include Polarity = iota
	Exclude
)

// RoutingCondition matches a record against any combination of exchange,
// symbol, and data-type sets, plus an optional custom predicate. Empty sets
// are treated as "match all" for that dimension.
type RoutingCondition struct {
	Exchanges []string
	Symbols   []string
	DataTypes []DataType
	Polarity  Polarity
	Predicate func(*Record) bool
}

// Matches reports whether r satisfies the condition.
func (c *RoutingCondition) Matches(r *Record) bool {
	match := setContainsAll(c.Exchanges, r.Exchange) &&
		setContainsAll(c.Symbols, r.Symbol) &&
		dataTypeSetContainsAll(c.DataTypes, r.Type)
	if c.Predicate != nil {
		match = match && c.Predicate(r)
	}
	if c.Polarity == Exclude {
		return !match
	}
	return match
}

func setContainsAll(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func dataTypeSetContainsAll(set []DataType, v DataType) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// RoutingTarget names a destination topic template plus the source fields
// for the ordering and partition keys attached to outbound messages.
type RoutingTarget struct {
	TopicTemplate      string // e.g. "{prefix}.{exchange}.{type}.{symbol}"
	OrderingKeySource  string // "exchange|symbol" by default
	PartitionKeySource string
	SkipBatching       bool // routes matching messages around the batch, sent synchronously
}

// RoutingRule is one (conditions -> targets) entry in the priority-ordered
// rule list evaluated by the topic router.
type RoutingRule struct {
	Name        string
	Priority    int
	Condition   RoutingCondition
	Targets     []RoutingTarget
	FallThrough bool // if true, evaluation continues to lower-priority rules after a match
}

// DefaultTopicTemplate is used when no rule matches a record.
const DefaultTopicTemplate = "{prefix}.{exchange}.{type}.{symbol}"

var topicSanitizer = regexp.MustCompile(`[^a-z0-9._-]+`)

// NormalizeTopicName lowercases, replaces disallowed characters with a dash,
// and trims to maxLen, matching the `[a-z0-9]([a-z0-9._\-]*[a-z0-9])?`
// namespace rule and the 249-character ceiling from the external-interfaces
// surface.
func NormalizeTopicName(name string, maxLen int) string {
	lower := strings.ToLower(name)
	sanitized := topicSanitizer.ReplaceAllString(lower, "-")
	sanitized = strings.Trim(sanitized, "-.")
	if maxLen > 0 && len(sanitized) > maxLen {
		sanitized = sanitized[:maxLen]
		sanitized = strings.Trim(sanitized, "-.")
	}
	if sanitized == "" {
		sanitized = "default"
	}
	return sanitized
}

// RenderTopicTemplate substitutes {prefix}, {environment}, {exchange},
// {symbol}, {type} placeholders in template and normalizes the result.
func RenderTopicTemplate(template, prefix, environment string, r *Record, maxLen int) string {
	out := template
	out = strings.ReplaceAll(out, "{prefix}", prefix)
	out = strings.ReplaceAll(out, "{environment}", environment)
	out = strings.ReplaceAll(out, "{exchange}", r.Exchange)
	out = strings.ReplaceAll(out, "{symbol}", r.Symbol)
	out = strings.ReplaceAll(out, "{type}", string(r.Type))
	return NormalizeTopicName(out, maxLen)
}
