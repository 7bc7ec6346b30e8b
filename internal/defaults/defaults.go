// Package defaults embeds the example configuration written by the
// cortex init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example configuration: two modes, keyword and
// context-aware transition rules, and commented-out integrations.
//
//go:embed config.example.yaml
var ConfigYAML []byte
