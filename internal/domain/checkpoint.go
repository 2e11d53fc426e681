package domain

import (
	"fmt"
	"strings"
)

// DefaultStartBlock is the first block scanned when no checkpoint exists.
const DefaultStartBlock uint64 = 57000000

// CheckpointKey returns the parameter key holding the last scanned block of
// one monitored instance.
func CheckpointKey(chain, dexType string) string {
	return fmt.Sprintf("last_listen_block_%s_%s", strings.ToLower(chain), strings.ToLower(dexType))
}

// Parameter is a single key/value row.
// Corresponds to lp_parameters table.
type Parameter struct {
	Key       string
	Value     string
	UpdatedAt int64 // Unix milliseconds
}
