// Package metrics builds a tally.Scope from a small backend registry
// ("statsd", "disabled"), following uber-kraken's metrics package,
// trimmed to the two backends this module carries a real dependency for.
package metrics

import (
	"fmt"
	"io"

	"github.com/uber-go/tally"
)

func init() {
	register("statsd", newStatsdScope)
	register("disabled", newDisabledScope)
}

var scopeFactories = make(map[string]scopeFactory)

type scopeFactory func(config Config, torrentName string) (tally.Scope, io.Closer, error)

func register(name string, f scopeFactory) {
	if _, ok := scopeFactories[name]; ok {
		panic(fmt.Sprintf("metrics backend %q already registered", name))
	}
	scopeFactories[name] = f
}

// New creates a metrics Scope from config, tagged with torrentName. An empty
// Backend defaults to "disabled".
func New(config Config, torrentName string) (tally.Scope, io.Closer, error) {
	if config.Backend == "" {
		config.Backend = "disabled"
	}
	f, ok := scopeFactories[config.Backend]
	if !ok || f == nil {
		return nil, nil, fmt.Errorf("metrics backend %q not registered", config.Backend)
	}
	return f(config, torrentName)
}
