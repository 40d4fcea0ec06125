package common

import (
	"context"
	"errors"

	"moneymarket/crypto"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides whether caller may perform a privileged action. It is
// injected at construction so deployments choose their own policy.
type Authorizer interface {
	Authorize(ctx context.Context, action string, caller crypto.Address) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, action string, caller crypto.Address) error

func (f AuthorizerFunc) Authorize(ctx context.Context, action string, caller crypto.Address) error {
	return f(ctx, action, caller)
}

// AdminSet authorizes a fixed list of administrator addresses.
type AdminSet struct {
	admins map[string]struct{}
}

func NewAdminSet(admins ...crypto.Address) *AdminSet {
	set := &AdminSet{admins: make(map[string]struct{}, len(admins))}
	for _, admin := range admins {
		if !admin.IsZero() {
			set.admins[string(admin.Bytes())] = struct{}{}
		}
	}
	return set
}

func (s *AdminSet) Authorize(_ context.Context, action string, caller crypto.Address) error {
	if s != nil {
		if _, ok := s.admins[string(caller.Bytes())]; ok {
			return nil
		}
	}
	return NewError(KindUnauthorized, "Unauthorized", ErrUnauthorized, "action", action, "caller", caller.String())
}

// Authorize runs a against caller. A nil authorizer permits every caller;
// deployments that need a gate must inject one.
func Authorize(ctx context.Context, a Authorizer, action string, caller crypto.Address) error {
	if a == nil {
		return nil
	}
	if err := a.Authorize(ctx, action, caller); err != nil {
		if _, ok := AsError(err); ok {
			return err
		}
		return NewError(KindUnauthorized, "Unauthorized", errors.Join(ErrUnauthorized, err), "action", action, "caller", caller.String())
	}
	return nil
}
