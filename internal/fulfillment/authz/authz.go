// Package authz implements the authorization collaborator contract: a
// single "is this caller an administrator" predicate. Real deployments
// adapt their identity provider behind the same interface.
package authz

import (
	"context"

	id "coursecert/pkg/domain"
)

// StaticAuthorizer grants administrator rights to a fixed set of actors.
type StaticAuthorizer struct {
	allowed map[id.ActorID]struct{}
}

// NewStatic builds an authorizer over an allowlist of actor IDs.
func NewStatic(actors []id.ActorID) *StaticAuthorizer {
	allowed := make(map[id.ActorID]struct{}, len(actors))
	for _, actor := range actors {
		allowed[actor] = struct{}{}
	}
	return &StaticAuthorizer{allowed: allowed}
}

func (a *StaticAuthorizer) IsAdministrator(ctx context.Context, actor id.ActorID) (bool, error) {
	_, ok := a.allowed[actor]
	return ok, nil
}

// AllowAll grants administrator rights to every non-nil actor. Development
// and tests only.
type AllowAll struct{}

func (AllowAll) IsAdministrator(ctx context.Context, actor id.ActorID) (bool, error) {
	return !actor.IsNil(), nil
}
