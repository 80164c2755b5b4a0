// Package events declares the events published on the event bus.
package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// Upstream call kinds.
const (
	KindHTTP = "http"
	KindGRPC = "grpc"
)

// UpstreamStart is emitted before an upstream call. ID pairs it with its
// UpstreamFinish.
type UpstreamStart struct {
	ID     uint64
	Kind   string
	Method string
	Target string
}

// UpstreamFinish is emitted after an upstream call completes. Status is set
// for HTTP calls and Code for gRPC calls.
type UpstreamFinish struct {
	ID       uint64
	Kind     string
	Method   string
	Target   string
	Status   int
	Code     codes.Code
	Err      error
	Duration time.Duration
}
