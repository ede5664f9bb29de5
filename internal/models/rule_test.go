package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleActionNormalized(t *testing.T) {
	assert.Equal(t, ActionAIPipeline, RuleAction("").Normalized())
	assert.Equal(t, ActionAIPipeline, ActionNotify.Normalized())
	assert.Equal(t, ActionNotifyImmediate, RuleAction("NOTIFY_IMMEDIATE").Normalized())

	assert.True(t, ActionBoth.RunsPipeline())
	assert.True(t, ActionBoth.NotifiesImmediately())
	assert.True(t, RuleAction("").RunsPipeline())
	assert.False(t, ActionNotifyImmediate.RunsPipeline())
	assert.False(t, ActionAIPipeline.NotifiesImmediately())
}

func TestRuleMatches(t *testing.T) {
	r := Rule{Labels: []string{"Harsh Brake", "collision"}}
	assert.True(t, r.Matches([]string{"speeding", "harsh brake"}))
	assert.True(t, r.Matches([]string{" COLLISION "}))
	assert.False(t, r.Matches([]string{"speeding"}))
	assert.False(t, r.Matches(nil))

	r.Disabled = true
	assert.False(t, r.Matches([]string{"collision"}))
}

func TestRuleSetFirstMatch(t *testing.T) {
	rs := &RuleSet{Version: 2, Rules: []Rule{
		{Name: "off", Labels: []string{"collision"}, Disabled: true},
		{Name: "crash", Labels: []string{"collision"}, Action: ActionNotifyImmediate},
		{Name: "any crash", Labels: []string{"collision"}, Action: ActionBoth},
	}}

	m := rs.FirstMatch([]string{"collision"})
	require.NotNil(t, m)
	assert.Equal(t, "crash", m.Name)
	assert.Nil(t, rs.FirstMatch([]string{"speeding"}))

	var empty *RuleSet
	assert.Nil(t, empty.FirstMatch([]string{"collision"}))
}

func TestRuleSetValidate(t *testing.T) {
	var nilSet *RuleSet
	assert.NoError(t, nilSet.Validate())

	valid := &RuleSet{Rules: []Rule{{Name: "ok", Labels: []string{"x"}, Channels: []Channel{ChannelSMS}}}}
	assert.NoError(t, valid.Validate())

	noLabels := &RuleSet{Rules: []Rule{{Name: "bad"}}}
	assert.ErrorContains(t, noLabels.Validate(), "at least one label")

	badAction := &RuleSet{Rules: []Rule{{Name: "bad", Labels: []string{"x"}, Action: "page_everyone"}}}
	assert.ErrorContains(t, badAction.Validate(), "unknown action")

	badChannel := &RuleSet{Rules: []Rule{{Name: "bad", Labels: []string{"x"}, Channels: []Channel{"pager"}}}}
	assert.ErrorContains(t, badChannel.Validate(), "unknown channel")
}
