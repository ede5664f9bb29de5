package tenant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
)

// Feature is a per-tenant capability toggle
type Feature string

const (
	FeatureAuditLedger Feature = "audit_ledger"
	FeatureSafetyRules Feature = "safety_rules"
)

// Credentials are a tenant's transport provider credentials
type Credentials struct {
	AccountSID   string
	AuthToken    string
	SMSFrom      string
	WhatsAppFrom string
	VoiceFrom    string
}

// EscalationStep is the default routing for one severity
type EscalationStep struct {
	Roles    []string
	Channels []models.Channel
}

// Contact is one reachable address for a role
type Contact struct {
	Name     string
	Address  string
	Channel  models.Channel
	Priority int
}

// Vehicle is a directory entry for a provider vehicle id
type Vehicle struct {
	TenantID string
	ID       string
	Name     string
}

// Tenant is the resolved configuration of one tenant
type Tenant struct {
	ID             string
	Name           string
	Features       map[Feature]bool
	Credentials    Credentials
	CredentialsOn  bool
	CallbackSecret string
	Rules          models.RuleSet
	Escalation     map[models.Severity]EscalationStep
	DefaultStep    *EscalationStep
	Contacts       map[string][]Contact
}

// Registry is the in-memory tenant configuration table. Components receive
// it through narrow interfaces and never consult global state.
type Registry struct {
	mu       sync.RWMutex
	tenants  map[string]*Tenant
	orgs     map[string]string
	vehicles map[string]Vehicle
}

// NewRegistry builds a registry from tenant configuration blocks
func NewRegistry(cfgs []config.TenantConfig) (*Registry, error) {
	r := &Registry{
		tenants:  make(map[string]*Tenant, len(cfgs)),
		orgs:     make(map[string]string),
		vehicles: make(map[string]Vehicle),
	}
	for i := range cfgs {
		if err := r.Put(&cfgs[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Put adds or replaces one tenant
func (r *Registry) Put(cfg *config.TenantConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if err := cfg.Rules.Validate(); err != nil {
		return fmt.Errorf("tenant %s: %w", cfg.ID, err)
	}

	t := &Tenant{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Features: make(map[Feature]bool, len(cfg.Features)),
		Credentials: Credentials{
			AccountSID:   cfg.Credentials.AccountSID,
			AuthToken:    cfg.Credentials.AuthToken,
			SMSFrom:      cfg.Credentials.SMSFrom,
			WhatsAppFrom: cfg.Credentials.WhatsAppFrom,
			VoiceFrom:    cfg.Credentials.VoiceFrom,
		},
		CredentialsOn:  cfg.Credentials.Active && cfg.Credentials.AccountSID != "",
		CallbackSecret: cfg.CallbackSecret,
		Rules:          cfg.Rules,
		Escalation:     make(map[models.Severity]EscalationStep),
		Contacts:       make(map[string][]Contact),
	}
	if t.CallbackSecret == "" {
		t.CallbackSecret = cfg.Credentials.AuthToken
	}
	for name, on := range cfg.Features {
		t.Features[Feature(strings.ToLower(name))] = on
	}
	for severity, step := range cfg.Escalation {
		s := EscalationStep{Roles: step.Roles, Channels: step.Channels}
		if strings.EqualFold(severity, "default") {
			t.DefaultStep = &s
			continue
		}
		t.Escalation[models.ParseSeverity(severity)] = s
	}
	for role, entries := range cfg.Contacts {
		contacts := make([]Contact, 0, len(entries))
		for _, e := range entries {
			contacts = append(contacts, Contact{Name: e.Name, Address: e.Address, Channel: e.Channel, Priority: e.Priority})
		}
		sort.SliceStable(contacts, func(i, j int) bool { return contacts[i].Priority < contacts[j].Priority })
		t.Contacts[strings.ToLower(role)] = contacts
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
	for _, org := range cfg.ProviderOrgIDs {
		r.orgs[org] = t.ID
	}
	for _, v := range cfg.Vehicles {
		r.vehicles[v.ID] = Vehicle{TenantID: t.ID, ID: v.ID, Name: v.Name}
	}
	return nil
}

// Get returns the tenant with the given id
func (r *Registry) Get(tenantID string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	return t, ok
}

// IDs returns every configured tenant id
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Enabled is the capability lookup: is feature f on for tenantID?
func (r *Registry) Enabled(tenantID string, f Feature) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return false
	}
	return t.Features[f]
}

// SetFeature toggles a feature at runtime
func (r *Registry) SetFeature(tenantID string, f Feature, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[tenantID]; ok {
		t.Features[f] = on
	}
}

// Rules returns the tenant's rule set, or nil when none is configured
func (r *Registry) Rules(tenantID string) *models.RuleSet {
	t, ok := r.Get(tenantID)
	if !ok || len(t.Rules.Rules) == 0 {
		return nil
	}
	return &t.Rules
}

// ActiveCredentials returns the tenant's provider credentials when active
func (r *Registry) ActiveCredentials(tenantID string) (Credentials, bool) {
	t, ok := r.Get(tenantID)
	if !ok || !t.CredentialsOn {
		return Credentials{}, false
	}
	return t.Credentials, true
}

// CallbackSecret returns the shared secret used to sign provider callbacks
func (r *Registry) CallbackSecret(tenantID string) string {
	t, ok := r.Get(tenantID)
	if !ok {
		return ""
	}
	return t.CallbackSecret
}

// EscalationFor returns the default routing for a severity, falling back
// to the tenant's "default" step.
func (r *Registry) EscalationFor(tenantID string, severity models.Severity) (EscalationStep, bool) {
	t, ok := r.Get(tenantID)
	if !ok {
		return EscalationStep{}, false
	}
	if step, ok := t.Escalation[severity]; ok {
		return step, true
	}
	if t.DefaultStep != nil {
		return *t.DefaultStep, true
	}
	return EscalationStep{}, false
}

// Resolve returns the contacts for a role ordered by priority
func (r *Registry) Resolve(ctx context.Context, tenantID, role string) ([]Contact, error) {
	t, ok := r.Get(tenantID)
	if !ok {
		return nil, fmt.Errorf("unknown tenant %q", tenantID)
	}
	contacts := t.Contacts[strings.ToLower(role)]
	out := make([]Contact, len(contacts))
	copy(out, contacts)
	return out, nil
}

// TenantForOrg maps a provider organisation id to a tenant id
func (r *Registry) TenantForOrg(orgID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.orgs[orgID]
	return id, ok
}

// LookupVehicle resolves a provider vehicle id
func (r *Registry) LookupVehicle(ctx context.Context, provider, vehicleID string) (Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[vehicleID]
	return v, ok
}
