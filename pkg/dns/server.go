// Package dns is the guest-facing DNS proxy. It splits each guest query into
// per-question lookups, answers from the override table or the host resolver,
// and queues one aggregate reply once every question has completed.
package dns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"guest-dns/pkg/logging"
	"guest-dns/pkg/packet"
	"guest-dns/pkg/resolver"
	"guest-dns/pkg/storage"
	"guest-dns/pkg/telemetry"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultPollInterval is how long Shutdown sleeps between drain attempts
const DefaultPollInterval = 10 * time.Millisecond

// Overrides answers names without asking the resolver.
// *hosts.Table satisfies it.
type Overrides interface {
	Lookup(name string) (net.IP, bool)
}

// Server is the resolution orchestrator.
//
// Send and Recv are called from a single owning goroutine. Resolver callbacks
// finalise queries on their own goroutines and push to the output queue.
type Server struct {
	overrides Overrides
	backend   resolver.Backend
	adapterIP net.IP
	notify    func()
	logger    *logging.Logger

	metrics      *telemetry.Metrics
	journal      storage.Storage
	tracer       trace.Tracer
	pollInterval time.Duration

	queue       *Queue
	outstanding atomic.Int64
	closing     atomic.Bool
}

// NewServer creates a server. adapterIP replaces 127.0.0.1 in answers.
// notify is called once per queued response, from any goroutine; it may be nil.
func NewServer(overrides Overrides, backend resolver.Backend, adapterIP net.IP, notify func(), logger *logging.Logger) *Server {
	if v4 := adapterIP.To4(); v4 != nil {
		adapterIP = v4
	} else {
		logger.Warn("Adapter address is not IPv4, loopback answers will not be rewritten", "adapter_ip", adapterIP)
		adapterIP = loopback.To4()
	}

	return &Server{
		overrides:    overrides,
		backend:      backend,
		adapterIP:    adapterIP,
		notify:       notify,
		logger:       logger,
		journal:      storage.NewNoOpStorage(),
		tracer:       tracenoop.NewTracerProvider().Tracer(""),
		pollInterval: DefaultPollInterval,
		queue:        NewQueue(),
	}
}

// SetMetrics sets the metrics sink. Call before the first Send.
func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// SetJournal sets the query journal. Call before the first Send.
func (s *Server) SetJournal(j storage.Storage) {
	if j == nil {
		j = storage.NewNoOpStorage()
	}
	s.journal = j
}

// SetTracer sets the tracer used for per-query spans. Call before the first Send.
func (s *Server) SetTracer(t trace.Tracer) {
	if t == nil {
		t = tracenoop.NewTracerProvider().Tracer("")
	}
	s.tracer = t
}

// SetPollInterval sets the Shutdown drain interval
func (s *Server) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Send accepts one guest query. It never blocks on resolution and always
// reports the datagram as handled; unusable queries are logged and dropped.
func (s *Server) Send(d *packet.Datagram) bool {
	ctx := context.Background()
	s.recordReceived(ctx)

	if s.closing.Load() {
		s.logger.Warn("Query received after shutdown began, dropping", "client_port", d.SrcPort)
		s.recordRejected(ctx, rejectShutdown)
		return true
	}

	query := new(dns.Msg)
	if err := query.Unpack(d.Payload); err != nil {
		s.logger.Warn("Failed to unpack DNS query", "client_port", d.SrcPort, "error", err)
		s.recordRejected(ctx, rejectMalformed)
		return true
	}

	if reason := s.validate(query); reason != "" {
		s.logger.Warn("Rejected DNS query",
			"id", query.Id,
			"client_port", d.SrcPort,
			"reason", reason,
		)
		s.recordRejected(ctx, reason)
		return true
	}

	names := make([]string, 0, len(query.Question))
	for _, q := range query.Question {
		if !supported(q) {
			s.logger.Info("Skipping unsupported question",
				"id", query.Id,
				"name", q.Name,
				"type", dns.TypeToString[q.Qtype],
				"class", dns.ClassToString[q.Qclass],
			)
			continue
		}
		names = append(names, q.Name)
	}
	if len(names) == 0 {
		s.logger.Info("No supported questions in query", "id", query.Id, "client_port", d.SrcPort)
		s.recordRejected(ctx, rejectUnsupported)
		return true
	}

	// Override hits are looked up up front so the state is complete before
	// any resolver callback can see it.
	hits := make([]net.IP, len(names))
	st := newQueryState(names, newResponse(query), d.SrcPort)
	for i, name := range names {
		if addr, ok := s.overrides.Lookup(name); ok {
			hits[i] = addr
			st.hostsHits++
		}
	}
	st.start = time.Now()
	_, st.span = s.tracer.Start(ctx, "dns.query", trace.WithAttributes(
		attribute.Int("dns.id", int(query.Id)),
		attribute.Int("dns.questions", len(names)),
		attribute.Int("dns.hosts_hits", st.hostsHits),
		attribute.Int("client.port", int(d.SrcPort)),
	))

	s.addOutstanding(ctx, 1)

	s.logger.Debug("Dispatching query",
		"id", query.Id,
		"client_port", d.SrcPort,
		"questions", len(names),
		"hosts_hits", st.hostsHits,
	)

	// st must not be touched once the last question has been handed off
	for i, name := range names {
		if hits[i] != nil {
			s.recordQuestion(ctx, sourceHosts, resolver.Answer)
			if st.RecordAnswer(name, hits[i]) == 0 {
				s.finalise(st)
			}
			continue
		}

		s.backend.Resolve(name, func(res resolver.Result) {
			s.complete(st, name, res)
		})
	}

	return true
}

// validate returns the rejection reason for query, or ""
func (s *Server) validate(query *dns.Msg) string {
	switch {
	case query.Opcode != dns.OpcodeQuery:
		return rejectOpcode
	case query.Response:
		return rejectResponse
	case len(query.Question) == 0:
		return rejectNoQuestions
	case query.Truncated:
		return rejectTruncated
	}
	return ""
}

// complete is the resolver callback for one question
func (s *Server) complete(st *queryState, name string, res resolver.Result) {
	ctx := context.Background()
	s.recordLookup(ctx, res)

	var remaining int32
	if res.Outcome == resolver.Answer {
		remaining = st.RecordAnswer(name, res.Addr)
	} else {
		s.logger.Debug("Lookup failed",
			"name", name,
			"outcome", res.Outcome.String(),
			"error", res.Err,
		)
		remaining = st.RecordFailure(name)
	}

	if remaining == 0 {
		s.finalise(st)
	}
}

// finalise builds the reply for st and queues it. It runs exactly once per
// query, on whichever goroutine recorded the last question.
func (s *Server) finalise(st *queryState) {
	ctx := context.Background()
	resp := st.response
	defer st.span.End()

	answers := make([]string, len(st.order))
	for i, name := range st.order {
		addr := st.answer(name)
		if addr == nil {
			resp.Rcode = dns.RcodeServerFailure
			continue
		}
		if addr.Equal(loopback) {
			addr = s.adapterIP
		}
		addARecord(resp, name, addr, answerTTL)
		answers[i] = addr.String()
	}

	entry := &storage.QueryLog{
		Timestamp:      st.start,
		ClientPort:     int(st.clientPort),
		TransactionID:  int(resp.Id),
		Questions:      st.order,
		Answers:        answers,
		ResponseCode:   resp.Rcode,
		ResponseTimeMs: float64(time.Since(st.start).Microseconds()) / 1000,
		HostsHits:      st.hostsHits,
	}
	st.span.SetAttributes(
		attribute.String("dns.rcode", dns.RcodeToString[resp.Rcode]),
		attribute.Int("dns.answers", len(resp.Answer)),
	)

	if size := resp.Len(); size > maxUDPSize {
		s.logger.Error("Response exceeds UDP size limit, dropping",
			"id", resp.Id,
			"client_port", st.clientPort,
			"size", size,
			"limit", maxUDPSize,
		)
		st.span.SetStatus(codes.Error, "response too large")
		s.recordDropped(ctx, dropOversize)
		entry.Status = storage.StatusOversize
		s.logJournal(ctx, entry)
		s.addOutstanding(ctx, -1)
		return
	}

	payload, err := resp.Pack()
	if err != nil {
		s.logger.Error("Failed to pack response", "id", resp.Id, "error", err)
		st.span.SetStatus(codes.Error, err.Error())
		s.recordDropped(ctx, dropPack)
		s.addOutstanding(ctx, -1)
		return
	}

	// Outstanding is released by Recv or the shutdown drain
	s.queue.Push(&packet.Datagram{
		SrcPort: serverPort,
		DstPort: st.clientPort,
		Payload: payload,
	})
	s.recordQueued(ctx)

	entry.Status = storage.StatusQueued
	s.logJournal(ctx, entry)

	s.logger.Debug("Response queued",
		"id", resp.Id,
		"client_port", st.clientPort,
		"rcode", dns.RcodeToString[resp.Rcode],
		"answers", len(resp.Answer),
	)

	if s.notify != nil {
		s.notify()
	}
}

func (s *Server) logJournal(ctx context.Context, entry *storage.QueryLog) {
	if err := s.journal.LogQuery(ctx, entry); err != nil && !errors.Is(err, storage.ErrBufferFull) {
		s.logger.Debug("Failed to journal query", "id", entry.TransactionID, "error", err)
	}
}

// Recv pops one finished response, or returns nil if none is ready
func (s *Server) Recv() *packet.Datagram {
	d := s.queue.Pop()
	if d == nil {
		return nil
	}
	s.addOutstanding(context.Background(), -1)
	return d
}

// Shutdown stops accepting queries and waits until every accepted query has
// been delivered or dropped, discarding queued responses meanwhile. A query
// whose lookup never completes keeps Shutdown waiting until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closing.CompareAndSwap(false, true) {
		s.logger.Info("Shutting down DNS server", "outstanding", s.outstanding.Load())
	}

	discarded := 0
	for {
		for d := s.queue.Pop(); d != nil; d = s.queue.Pop() {
			discarded++
			s.recordDropped(ctx, dropShutdown)
			s.addOutstanding(ctx, -1)
		}

		if s.outstanding.Load() <= 0 {
			s.logger.Info("DNS server shut down", "discarded", discarded)
			return nil
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Warn("DNS server shutdown interrupted",
				"outstanding", s.outstanding.Load(),
				"discarded", discarded,
			)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close shuts down without a deadline
func (s *Server) Close() {
	_ = s.Shutdown(context.Background())
}

// Outstanding returns the number of accepted queries not yet delivered or dropped
func (s *Server) Outstanding() int64 {
	return s.outstanding.Load()
}

// Pending returns the number of queued responses
func (s *Server) Pending() int {
	return s.queue.Len()
}
