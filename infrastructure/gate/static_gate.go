// Package gate holds the development stand-in for the subscription
// service. Production deployments inject the billing platform's client
// through the same repository.SubscriptionGate interface.
package gate

import (
	"context"
)

// StaticGate allows every tenant except an explicit blocklist of
// tenantID -> reason entries.
type StaticGate struct {
	blocked map[string]string
}

// NewStaticGate creates a static subscription gate
func NewStaticGate(blocked map[string]string) *StaticGate {
	if blocked == nil {
		blocked = make(map[string]string)
	}
	return &StaticGate{blocked: blocked}
}

// IsGenerationAllowed implements repository.SubscriptionGate
func (g *StaticGate) IsGenerationAllowed(_ context.Context, tenantID string) (bool, string, error) {
	if reason, ok := g.blocked[tenantID]; ok {
		return false, reason, nil
	}
	return true, "", nil
}
