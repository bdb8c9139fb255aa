package coordinator

import (
	"time"

	"github.com/ternarybob/harvester/internal/common"
)

// DefaultClaimTimeout is how long an in_progress claim by another node is honoured
const DefaultClaimTimeout = time.Hour

// Options control a single coordinator. They are fixed for the lifetime of a Coordinator.
type Options struct {
	NodeID                  int
	TotalNodes              int
	Incremental             bool
	ForceRefresh            bool
	MaxItemConcurrency      int
	MaxDiscoveryConcurrency int
	MaxTotalItems           int // 0 = unlimited
	ClaimTimeout            time.Duration
	ResetClearsLedger       bool
	Retry                   RetryPolicy
}

// OptionsFromConfig maps the [coordinator] config section onto Options
func OptionsFromConfig(config *common.CoordinatorConfig) Options {
	return Options{
		NodeID:                  config.NodeID,
		TotalNodes:              config.TotalNodes,
		Incremental:             config.Incremental,
		ForceRefresh:            config.ForceRefresh,
		MaxItemConcurrency:      config.MaxItemConcurrency,
		MaxDiscoveryConcurrency: config.MaxDiscoveryConcurrency,
		MaxTotalItems:           config.MaxTotalItems,
		ClaimTimeout:            common.ParseDuration(config.ClaimTimeout, DefaultClaimTimeout),
		ResetClearsLedger:       config.ResetClearsLedger,
		Retry:                   NewRetryPolicy(config),
	}
}

func (o Options) withDefaults() Options {
	if o.TotalNodes == 0 {
		o.TotalNodes = 1
	}
	if o.MaxItemConcurrency < 1 {
		o.MaxItemConcurrency = 1
	}
	if o.MaxDiscoveryConcurrency < 1 {
		o.MaxDiscoveryConcurrency = 1
	}
	if o.MaxTotalItems < 0 {
		o.MaxTotalItems = 0
	}
	if o.ClaimTimeout <= 0 {
		o.ClaimTimeout = DefaultClaimTimeout
	}
	if o.Retry.MaxAttempts < 1 {
		o.Retry.MaxAttempts = 1
	}
	return o
}
