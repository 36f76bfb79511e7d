// Package configs provides embedded configuration templates.
//
// Templates are embedded at build time with //go:embed so they ship in
// every distribution. They are written out by:
//   - `quarry config init --user` → $XDG_CONFIG_HOME/quarry/config.yaml
//   - `quarry config init` → .quarry.yaml in the project root
//
// The resolution order of the resulting files is documented on
// internal/config.Load.
package configs

import _ "embed"

// UserConfigTemplate seeds the user/machine-level configuration:
// embedding endpoint, daemon socket, log level.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate seeds the project-level configuration:
// include/exclude paths, search weights, chunking. Meant to be committed
// with the project.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
