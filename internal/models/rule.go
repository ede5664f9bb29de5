package models

import (
	"fmt"
	"strings"
)

// RuleAction is what the rule engine does when a rule matches
type RuleAction string

const (
	ActionAIPipeline      RuleAction = "ai_pipeline"
	ActionNotify          RuleAction = "notify"
	ActionNotifyImmediate RuleAction = "notify_immediate"
	ActionBoth            RuleAction = "both"
)

// Normalized resolves the default and alias forms of an action.
func (a RuleAction) Normalized() RuleAction {
	switch RuleAction(strings.ToLower(string(a))) {
	case "", ActionAIPipeline, ActionNotify:
		return ActionAIPipeline
	case ActionNotifyImmediate:
		return ActionNotifyImmediate
	case ActionBoth:
		return ActionBoth
	}
	return a
}

// RunsPipeline reports whether the action dispatches to the AI pipeline
func (a RuleAction) RunsPipeline() bool {
	n := a.Normalized()
	return n == ActionAIPipeline || n == ActionBoth
}

// NotifiesImmediately reports whether the action dispatches notifications directly
func (a RuleAction) NotifiesImmediately() bool {
	n := a.Normalized()
	return n == ActionNotifyImmediate || n == ActionBoth
}

// Rule is one condition/action pair from a tenant's configuration
type Rule struct {
	Name            string     `json:"name" mapstructure:"name"`
	Labels          []string   `json:"labels" mapstructure:"labels"`
	Action          RuleAction `json:"action,omitempty" mapstructure:"action"`
	Channels        []Channel  `json:"channels,omitempty" mapstructure:"channels"`
	Roles           []string   `json:"roles,omitempty" mapstructure:"roles"`
	MessageTemplate string     `json:"message_template,omitempty" mapstructure:"message_template"`
	Disabled        bool       `json:"disabled,omitempty" mapstructure:"disabled"`
}

// Matches reports whether any of the rule's labels is among labels.
func (r *Rule) Matches(labels []string) bool {
	if r.Disabled {
		return false
	}
	for _, want := range r.Labels {
		for _, got := range labels {
			if strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got)) {
				return true
			}
		}
	}
	return false
}

// RuleSet is a versioned, ordered list of rules. Evaluation is first match wins.
type RuleSet struct {
	Version int    `json:"version" mapstructure:"version"`
	Rules   []Rule `json:"rules" mapstructure:"rules"`
}

// Validate checks every rule in the set
func (rs *RuleSet) Validate() error {
	if rs == nil {
		return nil
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if len(r.Labels) == 0 {
			return fmt.Errorf("rule %d (%s): at least one label is required", i, r.Name)
		}
		switch r.Action.Normalized() {
		case ActionAIPipeline, ActionNotifyImmediate, ActionBoth:
		default:
			return fmt.Errorf("rule %d (%s): unknown action %q", i, r.Name, r.Action)
		}
		for _, ch := range r.Channels {
			if !ch.Valid() {
				return fmt.Errorf("rule %d (%s): unknown channel %q", i, r.Name, ch)
			}
		}
	}
	return nil
}

// FirstMatch returns the first enabled rule matching labels, or nil.
func (rs *RuleSet) FirstMatch(labels []string) *Rule {
	if rs == nil {
		return nil
	}
	for i := range rs.Rules {
		if rs.Rules[i].Matches(labels) {
			return &rs.Rules[i]
		}
	}
	return nil
}
