package version

// Name identifies the service in logs, traces, and the health endpoint.
const Name = "tipcast"

// Version is overridden at build time via -ldflags.
var Version = "dev"
