package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewRequestID returns a random UUID used to correlate log lines of one
// inbound request.
func NewRequestID() string {
	return uuid.NewString()
}

// NewSnowflakeID generates a snowflake ID string using a node ID from
// the environment variable SNOWFLAKE_NODE. Unset or invalid values use node 1.
func NewSnowflakeID() string {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return NewSnowflakeIDWithNode(1)
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return NewSnowflakeIDWithNode(1)
	}
	return NewSnowflakeIDWithNode(nodeID)
}

var nodes sync.Map // int64 -> *snowflake.Node

// NewSnowflakeIDWithNode generates a snowflake ID string using the provided node ID.
// Nodes are reused so ids from one process never collide within a millisecond.
// If the node cannot be initialized, it falls back to a KSUID string.
func NewSnowflakeIDWithNode(nodeID int64) string {
	if n, ok := nodes.Load(nodeID); ok {
		return n.(*snowflake.Node).Generate().String()
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return NewKSUID()
	}
	n, _ := nodes.LoadOrStore(nodeID, node)
	return n.(*snowflake.Node).Generate().String()
}
