package gen

import (
	"errors"
	"fmt"

	"reseller-billing/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

var ErrDefaultNode = errors.New("snowflake: BILLING.NODE_ID is left at the default")

// NewNode builds the snowflake node for this process. Processes sharing a
// database must run with distinct BILLING.NODE_ID values.
func NewNode(cfg *config.Config, logger *zap.Logger) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.Billing.NodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", cfg.Billing.NodeID, err)
	}
	if cfg.Billing.NodeID == config.DefaultNodeID {
		logger.Warn("snowflake node id is the default; set BILLING.NODE_ID per process to avoid id collisions",
			zap.Int64("node_id", cfg.Billing.NodeID))
	}
	return node, nil
}

// RequireDistinctNode rejects the default node id. The billing daemon runs
// beside a panel that usually keeps the default, so it must pick its own.
func RequireDistinctNode(cfg *config.Config) error {
	if cfg.Billing.NodeID == config.DefaultNodeID {
		return fmt.Errorf("%w (%d)", ErrDefaultNode, config.DefaultNodeID)
	}
	return nil
}
