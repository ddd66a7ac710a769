package orchestrator

import (
	"github.com/stonemason/stonemason/pkg/interfaces"
	"github.com/stonemason/stonemason/pkg/logger"
	"github.com/stonemason/stonemason/pkg/notifier"
	"github.com/stonemason/stonemason/pkg/types"
)

// DependencyFactory creates the orchestrator's collaborators from config.
type DependencyFactory struct{}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory() *DependencyFactory {
	return &DependencyFactory{}
}

// CreateDefaults wires the default collaborators around engine. Resolver and
// occlusion registry stay nil so New builds them against its scratch
// directory; the notifier is created only when config enables it.
func (f *DependencyFactory) CreateDefaults(
	engine interfaces.RuleEngine,
	config *types.OrchestratorConfig,
	log logger.Logger,
) interfaces.Dependencies {
	deps := interfaces.Dependencies{Engine: engine}

	if config != nil && config.Notifications != nil {
		enabled := config.Notifications.Enabled == nil || *config.Notifications.Enabled
		if enabled {
			deps.Notifier = notifier.New(notifier.Config{
				Enabled:      true,
				SuccessSound: config.Notifications.SuccessSound,
				FailureSound: config.Notifications.FailureSound,
			}, log)
		}
	}

	return deps
}

// CreateWithOverrides starts from defaults and replaces any non-nil override.
func (f *DependencyFactory) CreateWithOverrides(
	engine interfaces.RuleEngine,
	config *types.OrchestratorConfig,
	log logger.Logger,
	overrides interfaces.Dependencies,
) interfaces.Dependencies {
	deps := f.CreateDefaults(engine, config, log)

	if overrides.Engine != nil {
		deps.Engine = overrides.Engine
	}
	if overrides.Resolver != nil {
		deps.Resolver = overrides.Resolver
	}
	if overrides.Occlusion != nil {
		deps.Occlusion = overrides.Occlusion
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}

	return deps
}
