package resolver

import (
	"fmt"
	"net"

	"guest-dns/pkg/config"
	"guest-dns/pkg/logging"

	doh "github.com/ncruces/go-dns"
)

// NewLookuper builds the blocking lookup configured by cfg.Mode
func NewLookuper(cfg *config.ResolverConfig, logger *logging.Logger) (Lookuper, error) {
	switch cfg.Mode {
	case config.ResolverModeSystem, "":
		return net.DefaultResolver, nil

	case config.ResolverModeUpstream:
		return NewUpstream(cfg.Upstreams, cfg.Strict, logger), nil

	case config.ResolverModeDoH:
		opts := []doh.DoHOption{}
		if len(cfg.DoHAddresses) > 0 {
			opts = append(opts, doh.DoHAddresses(cfg.DoHAddresses...))
		}
		r, err := doh.NewDoHResolver(cfg.DoHURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create DoH resolver for %s: %w", cfg.DoHURL, err)
		}
		logger.Info("DoH resolver initialized", "url", cfg.DoHURL, "bootstrap", cfg.DoHAddresses)
		return r, nil

	default:
		return nil, fmt.Errorf("unknown resolver mode: %s", cfg.Mode)
	}
}

// NewBackend builds the asynchronous backend configured by cfg
func NewBackend(cfg *config.ResolverConfig, logger *logging.Logger) (*AsyncBackend, error) {
	lookup, err := NewLookuper(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Resolver backend ready",
		"mode", cfg.Mode,
		"timeout", cfg.Timeout,
		"max_inflight", cfg.MaxInflight,
	)
	return NewAsyncBackend(lookup, cfg.Timeout, cfg.MaxInflight, logger), nil
}
