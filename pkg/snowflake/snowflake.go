package snowflake

import (
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/railzwaylabs/experiment-broker/internal/config"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNodeFromConfig),
)

// Node wraps snowflake.Node to abstract dependency
type Node struct {
	*snowflake.Node
}

// NewNode creates a generator for nodeID. Every process writing to the same
// database needs its own node id.
func NewNode(nodeID int64) (*Node, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &Node{node}, nil
}

func NewNodeFromConfig(cfg *config.Config) (*Node, error) {
	return NewNode(cfg.SnowflakeNodeID)
}

// GenerateID returns a new snowflake ID as int64
func (n *Node) GenerateID() int64 {
	return n.Generate().Int64()
}

// ParseID parses a string ID into an int64
func ParseID(id string) (int64, error) {
	nid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, err
	}
	return nid, nil
}
