// File: internal/processor/router.go
package processor

import (
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
)

// Reasons an event stops before any record is created
const (
	GateFeatureDisabled = "feature_disabled"
	GateNoCredentials   = "no_credentials"
	GateNoMatchingRule  = "no_matching_rule"
)

// Tenants is the per-tenant configuration the rule engine reads
type Tenants interface {
	Enabled(tenantID string, f tenant.Feature) bool
	ActiveCredentials(tenantID string) (tenant.Credentials, bool)
	Rules(tenantID string) *models.RuleSet
}

// RuleRouter applies the tenant gates and picks the rule for an event
type RuleRouter struct {
	tenants Tenants
}

// RoutingResult contains the result of event routing. Gate is set when the
// event must not be processed further.
type RoutingResult struct {
	Gate   string            `json:"gate,omitempty"`
	Rule   *models.Rule      `json:"rule,omitempty"`
	Action models.RuleAction `json:"action,omitempty"`
}

// NewRuleRouter creates a new rule router
func NewRuleRouter(tenants Tenants) *RuleRouter {
	return &RuleRouter{tenants: tenants}
}

// RouteEvent checks the safety_rules flag, then active credentials, then
// finds the first rule matching the event's labels
func (rr *RuleRouter) RouteEvent(tenantID string, labels []string) *RoutingResult {
	if !rr.tenants.Enabled(tenantID, tenant.FeatureSafetyRules) {
		return &RoutingResult{Gate: GateFeatureDisabled}
	}
	if _, ok := rr.tenants.ActiveCredentials(tenantID); !ok {
		return &RoutingResult{Gate: GateNoCredentials}
	}
	rule := rr.tenants.Rules(tenantID).FirstMatch(labels)
	if rule == nil {
		return &RoutingResult{Gate: GateNoMatchingRule}
	}
	return &RoutingResult{Rule: rule, Action: rule.Action.Normalized()}
}
