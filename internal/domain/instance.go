package domain

import "fmt"

// Instance is one monitored (chain, DEX) deployment and the owners tracked on it.
type Instance struct {
	Chain      string
	Variant    Variant
	Owners     []string
	StartBlock uint64 // first block scanned when no checkpoint exists
}

// Name renders "chain_dex", used in logs and metric labels.
func (i Instance) Name() string {
	return fmt.Sprintf("%s_%s", i.Chain, i.Variant.DEXType)
}

// CheckpointKey returns the parameter key of the instance checkpoint.
func (i Instance) CheckpointKey() string {
	return CheckpointKey(i.Chain, i.Variant.DEXType)
}
