package bridge

import (
	"errors"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
)

// Drop reasons recorded on bridge.frames.dropped.
const (
	ReasonBlocked      = "blocked"
	ReasonNotAllowed   = "not_allowed"
	ReasonLoop         = "loop"
	ReasonLocalScope   = "local_scope"
	ReasonDisconnected = "disconnected"
	ReasonMalformed    = "malformed"
	ReasonRateLimited  = "rate_limited"
	ReasonSyncDisabled = "sync_disabled"
	ReasonWriteFailed  = "write_failed"
)

// Policy decides which topics cross the bridge in one direction. Block patterns are
// checked first and win; a topic matching no allow pattern is denied.
type Policy struct {
	Allow []string `yaml:"allow" json:"allow"`
	Block []string `yaml:"block" json:"block"`
}

// Check returns nil when topic may cross, or an errs.CodeFiltered error naming the reason.
func (p Policy) Check(topic string) error {
	if eventbus.MatchAny(p.Block, topic) {
		return errs.New("bridge/policy", errs.CodeFiltered, errs.WithTopic(topic), errs.WithField("reason", ReasonBlocked))
	}
	if !eventbus.MatchAny(p.Allow, topic) {
		return errs.New("bridge/policy", errs.CodeFiltered, errs.WithTopic(topic), errs.WithField("reason", ReasonNotAllowed))
	}
	return nil
}

// Allows reports whether topic passes the policy.
func (p Policy) Allows(topic string) bool {
	return p.Check(topic) == nil
}

// Validate rejects malformed patterns.
func (p Policy) Validate() error {
	for _, list := range [][]string{p.Allow, p.Block} {
		for _, pattern := range list {
			if err := eventbus.ValidateTopic(pattern); err != nil {
				return err
			}
		}
	}
	return nil
}

// Policies holds the independent outbound (local to remote) and inbound (remote to local) policies.
type Policies struct {
	Outbound Policy `yaml:"outbound" json:"outbound"`
	Inbound  Policy `yaml:"inbound" json:"inbound"`
}

// SensitivePrefixes are the topic families kept inside the service by default.
var SensitivePrefixes = []string{"private.*", "system.*", "admin.*", "auth.*", "internal.*"}

// DefaultPolicies allows everything except the sensitive families in both directions.
func DefaultPolicies() Policies {
	return Policies{
		Outbound: Policy{Allow: []string{eventbus.MatchAll}, Block: append([]string(nil), SensitivePrefixes...)},
		Inbound:  Policy{Allow: []string{eventbus.MatchAll}, Block: append([]string(nil), SensitivePrefixes...)},
	}
}

func reasonOf(err error) string {
	var e *errs.E
	if errors.As(err, &e) {
		if r := e.Fields["reason"]; r != "" {
			return r
		}
	}
	return string(errs.CodeOf(err))
}
