package auth

import (
	"fmt"

	"gigline/internal/domain"
)

// Action names an operation subject to the access policy.
type Action string

const (
	ActionProjectCreate  Action = "project.create"
	ActionProjectRead    Action = "project.read"
	ActionProjectUpdate  Action = "project.update"
	ActionProjectDelete  Action = "project.delete"
	ActionProposalSubmit Action = "proposal.submit"
	ActionProposalList   Action = "proposal.list"
	ActionProposalDecide Action = "proposal.decide"
	ActionTaskCreate     Action = "task.create"
	ActionTaskRead       Action = "task.read"
	ActionTaskUpdate     Action = "task.update"
	ActionTaskSubmit     Action = "task.submit"
	ActionTaskDownload   Action = "task.download"
	ActionTaskPay        Action = "task.pay"
	ActionPaymentRead    Action = "payment.read"
	ActionDashboardRead  Action = "dashboard.read"
)

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	Action Action
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Actor is the authenticated caller as seen by the policy.
type Actor struct {
	UserID int64
	Role   domain.Role
}

// Resource carries the ownership facts the policy decides against. Zero
// fields mean the resource has no such owner.
type Resource struct {
	BuyerID     int64
	DeveloperID int64
}

// Allow is the single policy function every engine operation consults.
// Admins pass every check except the role-scoped creation actions, which
// belong to buyers and developers respectively.
func Allow(actor Actor, action Action, res Resource) error {
	deny := ForbiddenError{Action: action}
	switch action {
	case ActionProjectCreate:
		if actor.Role != domain.RoleBuyer {
			return deny
		}
	case ActionProposalSubmit:
		if actor.Role != domain.RoleDeveloper {
			return deny
		}
	case ActionTaskSubmit:
		// only the assigned developer; admins do not submit work
		if actor.Role != domain.RoleDeveloper || actor.UserID != res.DeveloperID {
			return deny
		}
	case ActionTaskPay:
		if actor.Role == domain.RoleAdmin {
			return nil
		}
		if actor.Role != domain.RoleBuyer || actor.UserID != res.BuyerID {
			return deny
		}
	case ActionProjectUpdate, ActionProjectDelete, ActionProposalDecide:
		if actor.Role == domain.RoleAdmin {
			return nil
		}
		if actor.UserID != res.BuyerID {
			return deny
		}
	case ActionProjectRead, ActionProposalList, ActionTaskRead, ActionTaskDownload, ActionPaymentRead:
		if actor.Role == domain.RoleAdmin {
			return nil
		}
		if actor.UserID != res.BuyerID && actor.UserID != res.DeveloperID {
			return deny
		}
	case ActionTaskCreate:
		if actor.Role == domain.RoleAdmin {
			return nil
		}
		if actor.Role != domain.RoleBuyer || actor.UserID != res.BuyerID {
			return deny
		}
	case ActionTaskUpdate:
		if actor.Role == domain.RoleAdmin {
			return nil
		}
		if actor.UserID != res.BuyerID && actor.UserID != res.DeveloperID {
			return deny
		}
	case ActionDashboardRead:
		if actor.Role != domain.RoleAdmin {
			return deny
		}
	default:
		return deny
	}
	return nil
}
