package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackProvider chains providers so agent work survives a vendor
// outage: the primary serves every request until it errors, then each
// configured fallback is tried in order.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider builds the chain. The first provider is the
// primary; an empty chain is a wiring defect and panics at boot.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{
		providers: providers,
		logger:    logger,
	}
}

// SendMessage walks the chain and returns the first response. The last
// error is wrapped when every provider fails so callers can still
// inspect the terminal cause.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for i, p := range f.providers {
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "request served by fallback provider",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		lastErr = err
		f.logger.WarnContext(ctx, "provider error, advancing down the chain",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("attempt", i+1),
			slog.Int("remaining", len(f.providers)-i-1),
		)
	}
	return nil, fmt.Errorf("all %d providers failed, last error: %w", len(f.providers), lastErr)
}

// Name is the primary's name tagged with the fallback suffix, so
// provenance records show which chain produced an artifact.
func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}

var _ Provider = (*FallbackProvider)(nil)
