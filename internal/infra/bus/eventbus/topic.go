package eventbus

import (
	"strings"

	"github.com/coachpo/eventframe/errs"
)

const (
	// MatchAll is the reserved topic that receives every event.
	MatchAll = "*"
	// wildcard terminates a prefix pattern such as "user.*".
	wildcard = "*"
)

// IsPattern reports whether topic is a wildcard pattern rather than a concrete event name.
func IsPattern(topic string) bool {
	return strings.HasSuffix(topic, wildcard)
}

// Match reports whether the concrete event name topic satisfies pattern.
// A trailing "*" matches any topic sharing the literal prefix; the reserved
// pattern "*" matches everything; any other pattern matches only itself.
func Match(pattern, topic string) bool {
	if pattern == MatchAll {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, wildcard); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}

// MatchAny reports whether topic satisfies at least one of patterns.
func MatchAny(patterns []string, topic string) bool {
	for _, p := range patterns {
		if Match(p, topic) {
			return true
		}
	}
	return false
}

// ValidateTopic checks a subscription topic. The wildcard marker may only appear once, at the end.
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return errs.New("eventbus/topic", errs.CodeInvalid, errs.WithMessage("topic required"))
	}
	if idx := strings.Index(topic, wildcard); idx >= 0 && idx != len(topic)-1 {
		return errs.New("eventbus/topic", errs.CodeInvalid, errs.WithTopic(topic),
			errs.WithMessage("wildcard only allowed as trailing marker"))
	}
	return nil
}
