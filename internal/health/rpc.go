package health

import (
	"context"
	"fmt"

	"github.com/devblac/reward-tower/internal/soroban"
)

// HealthClient is the part of the node client the checker needs.
type HealthClient interface {
	GetHealth(ctx context.Context) (soroban.Health, error)
}

// RPCChecker pings the Soroban node behind the poller.
type RPCChecker struct {
	node HealthClient
}

func NewRPCChecker(node HealthClient) *RPCChecker {
	return &RPCChecker{node: node}
}

// Ping fails when the node is unreachable or reports anything but healthy.
func (c *RPCChecker) Ping(ctx context.Context) error {
	h, err := c.node.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("soroban rpc: %w", err)
	}
	if h.Status != "healthy" {
		return fmt.Errorf("soroban rpc status %q", h.Status)
	}
	return nil
}
