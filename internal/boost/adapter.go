package boost

import (
	"context"
	"encoding/json"
	"fmt"

	"gigworks/api_credits/pkg/clients"
	"gigworks/api_credits/pkg/clients/clans"
	"gigworks/api_credits/pkg/clients/gigs"
	"gigworks/api_credits/pkg/clients/users"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// Target identifies the entity a boost or contribution points at
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"` // user|gig|clan
}

// Adapter executes side effects against the services that own boost
// targets. Apply and Remove are best-effort: they return a Result, never an
// error, and the caller must not roll back committed ledger state when they
// fail. GetDetails is a read-only existence check used before credits move,
// so it may fail the request.
type Adapter interface {
	Apply(ctx context.Context, boostType models.BoostType, target Target, durationHours int) clients.Result
	Remove(ctx context.Context, boostType models.BoostType, target Target) clients.Result
	GetDetails(ctx context.Context, entityType, id string) (json.RawMessage, error)
}

// ServiceAdapter fans out to the user, gig, and clan service clients
type ServiceAdapter struct {
	users  *users.Client
	gigs   *gigs.Client
	clans  *clans.Client
	logger logging.Logger
}

// NewServiceAdapter creates an adapter over the three sibling-service clients
func NewServiceAdapter(usersClient *users.Client, gigsClient *gigs.Client, clansClient *clans.Client, logger logging.Logger) *ServiceAdapter {
	return &ServiceAdapter{
		users:  usersClient,
		gigs:   gigsClient,
		clans:  clansClient,
		logger: logger,
	}
}

// Apply asks the owning service to mark the target as boosted
func (a *ServiceAdapter) Apply(ctx context.Context, boostType models.BoostType, target Target, durationHours int) clients.Result {
	var data json.RawMessage
	var err error

	switch boostType {
	case models.BoostProfile:
		data, err = a.users.ApplyBoost(ctx, target.ID, durationHours)
	case models.BoostGig:
		data, err = a.gigs.ApplyBoost(ctx, target.ID, durationHours)
	case models.BoostClan:
		data, err = a.clans.ApplyBoost(ctx, target.ID, durationHours)
	default:
		err = fmt.Errorf("no service owns boost type %q", boostType)
	}

	if err != nil {
		a.logger.WithError(err).WithFields(logging.Fields{
			"boost_type":  boostType,
			"target_id":   target.ID,
			"target_type": target.Type,
		}).Warn("Failed to apply boost on owning service")
		return clients.Fail(err)
	}
	return clients.Ok(data)
}

// Remove asks the owning service to clear the boosted flag
func (a *ServiceAdapter) Remove(ctx context.Context, boostType models.BoostType, target Target) clients.Result {
	var data json.RawMessage
	var err error

	switch boostType {
	case models.BoostProfile:
		data, err = a.users.RemoveBoost(ctx, target.ID)
	case models.BoostGig:
		data, err = a.gigs.RemoveBoost(ctx, target.ID)
	case models.BoostClan:
		data, err = a.clans.RemoveBoost(ctx, target.ID)
	default:
		err = fmt.Errorf("no service owns boost type %q", boostType)
	}

	if err != nil {
		a.logger.WithError(err).WithFields(logging.Fields{
			"boost_type":  boostType,
			"target_id":   target.ID,
			"target_type": target.Type,
		}).Warn("Failed to remove boost on owning service")
		return clients.Fail(err)
	}
	return clients.Ok(data)
}

// GetDetails looks up an entity in its owning service
func (a *ServiceAdapter) GetDetails(ctx context.Context, entityType, id string) (json.RawMessage, error) {
	switch entityType {
	case "user":
		return a.users.GetUser(ctx, id)
	case "gig":
		return a.gigs.GetGig(ctx, id)
	case "clan":
		return a.clans.GetClan(ctx, id)
	default:
		return nil, fmt.Errorf("no service owns entity type %q", entityType)
	}
}
