package dns

import (
	"net"

	"github.com/miekg/dns"
)

const (
	// answerTTL is the TTL stamped on every synthesized A record
	answerTTL = 10800

	// maxUDPSize is the largest response sent; larger ones are dropped
	maxUDPSize = 512

	// serverPort is the source port of every reply
	serverPort = 53
)

var loopback = net.IPv4(127, 0, 0, 1)

// newResponse builds the reply skeleton for query. The question section is
// echoed as received, including questions that will not be answered.
func newResponse(query *dns.Msg) *dns.Msg {
	resp := &dns.Msg{
		MsgHdr: dns.MsgHdr{
			Id:                 query.Id,
			Response:           true,
			Opcode:             dns.OpcodeQuery,
			Authoritative:      false,
			Truncated:          false,
			RecursionDesired:   true,
			RecursionAvailable: true,
			AuthenticatedData:  false,
			CheckingDisabled:   false,
			Rcode:              dns.RcodeSuccess,
		},
		Compress: false,
	}
	resp.Question = append(make([]dns.Question, 0, len(query.Question)), query.Question...)
	return resp
}

func addARecord(msg *dns.Msg, domain string, ip net.IP, ttl uint32) {
	if ip == nil || ip.To4() == nil {
		return
	}
	rr := &dns.A{
		Hdr: dns.RR_Header{
			Name:   domain,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		A: ip.To4(),
	}
	msg.Answer = append(msg.Answer, rr)
}

// supported reports whether q is a question this server answers
func supported(q dns.Question) bool {
	return q.Qtype == dns.TypeA && q.Qclass == dns.ClassINET
}
