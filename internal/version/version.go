// Package version carries the agent build version, set with
// -ldflags "-X vramsply/internal/version.Version=v1.2.3".
package version

var Version = "0.1.0-dev"
