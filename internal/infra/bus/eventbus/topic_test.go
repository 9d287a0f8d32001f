package eventbus

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"*", "user.created", true},
		{"*", "x", true},
		{"user.created", "user.created", true},
		{"user.created", "user.deleted", false},
		{"user.*", "user.created", true},
		{"user.*", "user.profile.updated", true},
		{"user.*", "user.", true},
		{"user.*", "user", false},
		{"user.*", "users.created", false},
		{"admin.*", "admin.delete", true},
		{"us*", "user.created", true},
		{"user", "user.created", false},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.topic); got != tc.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"private.*", "system.*"}
	if !MatchAny(patterns, "system.shutdown") {
		t.Fatalf("expected system.shutdown to match")
	}
	if MatchAny(patterns, "user.created") {
		t.Fatalf("expected user.created not to match")
	}
	if MatchAny(nil, "anything") {
		t.Fatalf("empty pattern list must not match")
	}
}

func TestValidateTopic(t *testing.T) {
	valid := []string{"*", "user.*", "user.created"}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Fatalf("ValidateTopic(%q) unexpected error: %v", topic, err)
		}
	}
	invalid := []string{"", "  ", "*.created", "user.*.created", "**"}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Fatalf("ValidateTopic(%q) expected error", topic)
		}
	}
}

func TestIsPattern(t *testing.T) {
	if !IsPattern("*") || !IsPattern("user.*") {
		t.Fatalf("expected wildcard topics to be patterns")
	}
	if IsPattern("user.created") {
		t.Fatalf("concrete topic reported as pattern")
	}
}
