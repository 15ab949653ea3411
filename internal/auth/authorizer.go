package auth

import (
	"fmt"

	"booking-service/internal/config"
	"booking-service/internal/models"
)

// Operation names the authorizer knows about.
const (
	OpCreate         = "create"
	OpUpdate         = "update"
	OpAccept         = "accept"
	OpCancel         = "cancel"
	OpEnd            = "end"
	OpCustomerNoShow = "customer_no_show"
	OpReopen         = "reopen"
	OpFeedback       = "feedback"
	OpResendNotify   = "resend_notify"
	OpListAll        = "list_all"
)

// Policy maps an operation to the roles allowed to perform it.
type Policy map[string][]models.Role

// DefaultPolicy encodes the evidenced rules plus conservative defaults for
// the operations whose exact role matrix is deployment policy.
func DefaultPolicy() Policy {
	return Policy{
		OpCreate:         {models.RoleCustomer},
		OpUpdate:         {models.RoleCustomer, models.RoleTranslator, models.RoleAdmin, models.RoleSuperadmin},
		OpAccept:         {models.RoleTranslator, models.RoleAdmin, models.RoleSuperadmin},
		OpCancel:         {models.RoleCustomer, models.RoleTranslator, models.RoleAdmin, models.RoleSuperadmin},
		OpEnd:            {models.RoleTranslator, models.RoleAdmin, models.RoleSuperadmin},
		OpCustomerNoShow: {models.RoleTranslator, models.RoleAdmin, models.RoleSuperadmin},
		OpReopen:         {models.RoleAdmin, models.RoleSuperadmin},
		OpFeedback:       {models.RoleAdmin, models.RoleSuperadmin},
		OpResendNotify:   {models.RoleAdmin, models.RoleSuperadmin},
		OpListAll:        {models.RoleAdmin, models.RoleSuperadmin},
	}
}

// Authorizer evaluates whether an actor may perform an operation.
type Authorizer struct {
	policy           Policy
	adminRoleID      string
	superadminRoleID string
}

// New builds an authorizer from config, layering any AUTH_POLICY overrides
// over the defaults.
func New(cfg config.Config) *Authorizer {
	policy := DefaultPolicy()
	for op, roles := range cfg.AuthPolicy {
		list := make([]models.Role, 0, len(roles))
		for _, r := range roles {
			list = append(list, models.Role(r))
		}
		policy[op] = list
	}
	return &Authorizer{
		policy:           policy,
		adminRoleID:      cfg.AdminRoleID,
		superadminRoleID: cfg.SuperadminRoleID,
	}
}

// ResolveRole maps an opaque role identifier from the identity provider onto
// a domain role. Unknown identifiers resolve to an empty role, which no
// policy entry matches.
func (a *Authorizer) ResolveRole(roleID string) models.Role {
	if roleID == "" {
		return ""
	}
	switch roleID {
	case a.adminRoleID:
		return models.RoleAdmin
	case a.superadminRoleID:
		return models.RoleSuperadmin
	case string(models.RoleCustomer):
		return models.RoleCustomer
	case string(models.RoleTranslator):
		return models.RoleTranslator
	}
	return ""
}

// Authorize checks the actor's role against the policy for op.
func (a *Authorizer) Authorize(actor models.Actor, op string) error {
	allowed, ok := a.policy[op]
	if ok {
		for _, role := range allowed {
			if actor.Role == role {
				return nil
			}
		}
	}
	if op == OpCreate && actor.Role == models.RoleTranslator {
		return &models.AuthorizationError{Reason: "translator cannot create booking"}
	}
	return &models.AuthorizationError{Reason: fmt.Sprintf("role %q may not perform %s", actor.Role, op)}
}

// CanListAll reports whether the actor may see the unscoped booking list.
// Callers that get false fall open to an empty result, never an error.
func (a *Authorizer) CanListAll(actor models.Actor) bool {
	return a.Authorize(actor, OpListAll) == nil
}
