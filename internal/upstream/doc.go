// Package upstream implements the IO capabilities resolvers are evaluated
// with: a retrying HTTP client, a pooled gRPC client working on dynamic
// messages, and a script runtime for @js resolvers.
//
// Every call publishes UpstreamStart and UpstreamFinish events and is
// counted in the upstream metrics.
package upstream
