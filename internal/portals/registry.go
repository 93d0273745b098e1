// Package portals resolves a configured portal name to a fresh adapter instance.
package portals

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/portals/apiportal"
	"github.com/ternarybob/portalx/internal/portals/htmlportal"
	"github.com/ternarybob/portalx/internal/services/navigation"
)

// Deps are the shared services an adapter is built with
type Deps struct {
	Guard      *navigation.Guard
	Extraction common.ExtractionConfig
	UserAgent  string
	Logger     arbor.ILogger
}

// Factory builds an adapter for one session
type Factory func(name string, config common.PortalConfig, deps Deps) (interfaces.PortalAdapter, error)

// Registry maps portal names to adapter factories
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in portals registered
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("deltadental", htmlFactory(htmlportal.DeltaDental()))
	r.Register("metlife", apiFactory(apiportal.MetLife()))
	return r
}

// Register adds or replaces the factory for name
func (r *Registry) Register(name string, factory Factory) {
	r.factories[strings.ToLower(name)] = factory
}

// Names lists registered portals in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a fresh adapter for name. A portal that is only described in
// config gets the generic adapter named by its "adapter" setting, driven
// entirely by its selector table.
func (r *Registry) New(name string, config common.PortalConfig, deps Deps) (interfaces.PortalAdapter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if factory, ok := r.factories[name]; ok {
		return factory(name, config, deps)
	}

	switch config.Adapter {
	case "html":
		return htmlFactory(htmlportal.Profile{
			Name:               name,
			EligibilityLabels:  htmlportal.DeltaDental().EligibilityLabels,
			ClaimHeaders:       htmlportal.DeltaDental().ClaimHeaders,
			ServiceLineHeaders: htmlportal.DeltaDental().ServiceLineHeaders,
		})(name, config, deps)
	case "api":
		return apiFactory(apiportal.Profile{
			Name:              name,
			GraphQLPath:       "/graphql",
			ClaimsPath:        "/members/%s/claims",
			ClaimDetailPath:   "/claims/%s",
			RequestsPerSecond: apiportal.DefaultRateLimit,
			Burst:             apiportal.DefaultRateLimit,
		})(name, config, deps)
	}

	return nil, &models.ConfigError{
		Field: "portal",
		Msg:   fmt.Sprintf("unknown portal %q (known: %s)", name, strings.Join(r.Names(), ", ")),
	}
}

func htmlFactory(base htmlportal.Profile) Factory {
	return func(name string, config common.PortalConfig, deps Deps) (interfaces.PortalAdapter, error) {
		profile, unknown, err := base.ApplyOverrides(config.Selectors)
		if err != nil {
			return nil, err
		}
		warnUnknown(deps.Logger, name, unknown)
		return htmlportal.New(profile, config.BaseURL, deps.Guard, deps.Extraction, deps.Logger)
	}
}

func apiFactory(base apiportal.Profile) Factory {
	return func(name string, config common.PortalConfig, deps Deps) (interfaces.PortalAdapter, error) {
		profile, unknown, err := base.ApplyOverrides(config.Selectors)
		if err != nil {
			return nil, err
		}
		warnUnknown(deps.Logger, name, unknown)
		return apiportal.New(profile, config.BaseURL, config.APIURL, deps.UserAgent, deps.Extraction, deps.Logger)
	}
}

func warnUnknown(logger arbor.ILogger, portal string, keys []string) {
	if logger == nil || len(keys) == 0 {
		return
	}
	logger.Warn().Str("portal", portal).Str("keys", strings.Join(keys, ",")).Msg("Ignoring unknown selector overrides")
}
