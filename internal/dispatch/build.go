package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/policy"
)

// FromPolicy registers one handler per policy action: an HTTPForwarder when
// a downstream base URL is configured and the action has a path, otherwise
// a LogHandler. The result is validated against the action table.
func FromPolicy(p policy.Policy, baseURL string, timeout time.Duration, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry()
	logHandler := NewLogHandler(logger)
	for _, name := range p.ActionNames() {
		spec, _ := p.Action(name)
		var h Handler = logHandler
		if baseURL != "" && spec.Path != "" {
			fwd, err := NewHTTPForwarder(baseURL, spec.Path, timeout)
			if err != nil {
				return nil, err
			}
			h = fwd
		}
		if err := reg.Register(name, h); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(p.ActionNames()); err != nil {
		return nil, err
	}
	return reg, nil
}

// Reload rebuilds the handlers for p and swaps them in, so actions added by
// a policy reload dispatch like the ones loaded at startup. On error the
// current handlers stay in place.
func (r *Registry) Reload(p policy.Policy, baseURL string, timeout time.Duration, logger *zap.Logger) error {
	next, err := FromPolicy(p, baseURL, timeout, logger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.handlers = next.handlers
	r.mu.Unlock()
	return nil
}
