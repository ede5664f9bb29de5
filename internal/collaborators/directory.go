package collaborators

import (
	"context"

	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
)

// VehicleDirectory attributes a provider vehicle to a tenant
type VehicleDirectory interface {
	LookupVehicle(ctx context.Context, provider, vehicleID string) (tenant.Vehicle, bool)
}

// ContactResolver returns the reachable contacts for a role, highest
// priority first
type ContactResolver interface {
	Resolve(ctx context.Context, tenantID, role string) ([]tenant.Contact, error)
}

var (
	_ VehicleDirectory = (*tenant.Registry)(nil)
	_ ContactResolver  = (*tenant.Registry)(nil)
)
