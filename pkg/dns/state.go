package dns

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/trace"
)

// answerSlot holds the address recorded for one question name.
// A nil pointer means no answer.
type answerSlot struct {
	addr atomic.Pointer[net.IP]
}

// queryState aggregates the answers for one in-flight query.
//
// answers is keyed with every question name before the state is shared with
// resolver callbacks and is never structurally modified afterwards; callbacks
// only store into existing slots, so concurrent completions need no lock.
// Repeated question names share a slot but each is still counted in pending.
type queryState struct {
	pending atomic.Int32

	order      []string
	answers    map[string]*answerSlot
	response   *dns.Msg
	clientPort uint16

	// set by Send before the first dispatch, read only by the finaliser
	hostsHits int
	start     time.Time
	span      trace.Span
}

func newQueryState(names []string, response *dns.Msg, clientPort uint16) *queryState {
	st := &queryState{
		order:      names,
		answers:    make(map[string]*answerSlot, len(names)),
		response:   response,
		clientPort: clientPort,
	}
	for _, name := range names {
		if _, ok := st.answers[name]; !ok {
			st.answers[name] = &answerSlot{}
		}
	}
	st.pending.Store(int32(len(names)))
	return st
}

// RecordAnswer stores addr for name and returns the number of questions still
// pending. The caller that sees 0 owns finalisation.
func (st *queryState) RecordAnswer(name string, addr net.IP) int32 {
	if slot, ok := st.answers[name]; ok && addr != nil {
		a := addr
		slot.addr.Store(&a)
	}
	return st.pending.Add(-1)
}

// RecordFailure counts name as done without an answer
func (st *queryState) RecordFailure(name string) int32 {
	return st.pending.Add(-1)
}

// answer returns the recorded address for name, or nil
func (st *queryState) answer(name string) net.IP {
	slot, ok := st.answers[name]
	if !ok {
		return nil
	}
	if p := slot.addr.Load(); p != nil {
		return *p
	}
	return nil
}
