package dns

import (
	"context"

	"guest-dns/pkg/resolver"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Rejection reasons
const (
	rejectMalformed   = "malformed"
	rejectOpcode      = "opcode"
	rejectResponse    = "response"
	rejectNoQuestions = "no_questions"
	rejectTruncated   = "truncated"
	rejectUnsupported = "unsupported"
	rejectShutdown    = "shutdown"
)

// Drop reasons
const (
	dropOversize = "oversize"
	dropPack     = "pack"
	dropShutdown = "shutdown"
)

// Question sources
const (
	sourceHosts    = "hosts"
	sourceResolver = "resolver"
)

func (s *Server) recordReceived(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueriesReceived.Add(ctx, 1)
}

// recordRejected counts a query dropped before dispatch
func (s *Server) recordRejected(ctx context.Context, reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueriesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *Server) recordQuestion(ctx context.Context, source string, outcome resolver.Outcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.Questions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome.String()),
	))
}

func (s *Server) recordLookup(ctx context.Context, res resolver.Result) {
	s.recordQuestion(ctx, sourceResolver, res.Outcome)
	if s.metrics == nil {
		return
	}
	s.metrics.LookupDuration.Record(ctx, float64(res.Duration.Microseconds())/1000,
		metric.WithAttributes(attribute.String("outcome", res.Outcome.String())))
}

func (s *Server) recordQueued(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.ResponsesQueued.Add(ctx, 1)
}

func (s *Server) recordDropped(ctx context.Context, reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ResponsesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *Server) addOutstanding(ctx context.Context, delta int64) {
	s.outstanding.Add(delta)
	if s.metrics == nil {
		return
	}
	s.metrics.Outstanding.Add(ctx, delta)
}
