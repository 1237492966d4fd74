// Package build holds build-time metadata, overridden with ldflags on
// release builds.
package build

const ProjectName = "permgraph"

var (
	Version = "dev"
	Commit  = "none"
)
