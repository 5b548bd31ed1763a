// Package identity is the boundary to the identity provider. Only the
// account key and verification flag are consumed, once, at bootstrap.
package identity

import (
	"context"
	"errors"
	"strings"
)

type Identity struct {
	Key      string
	Verified bool
}

type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Starting balances seeded into a new account.
const (
	VerifiedBalance   int64 = 500
	UnverifiedBalance int64 = 200
)

func (id Identity) StartingBalance() int64 {
	if id.Verified {
		return VerifiedBalance
	}
	return UnverifiedBalance
}

var ErrNoIdentity = errors.New("identity key is empty")

// Static serves a fixed identity, typically from configuration.
type Static Identity

func (s Static) Identity(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	key := strings.TrimSpace(s.Key)
	if key == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity{Key: key, Verified: s.Verified}, nil
}
