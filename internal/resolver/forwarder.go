package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/dnsscience/authdnsd/internal/cache"
	"github.com/dnsscience/authdnsd/internal/random"
	"github.com/dnsscience/authdnsd/internal/wire"
)

var errForwarderMismatch = errors.New("resolver: forwarder response question mismatch")

// doForward tries each configured forwarder in order until one returns
// a usable response (NOERROR or NXDOMAIN whose question matches the
// one sent), caching the result under key using the minimum TTL across
// the returned RRs. Returns SERVFAIL if every forwarder fails.
func (r *Resolver) doForward(ctx context.Context, query *wire.Message, key cache.Key) *wire.Message {
	if len(r.cfg.Forwarders) == 0 || r.forward == nil {
		return r.errorResponseFromQuestion(query.Question[0], RcodeServFail)
	}

	q := query.Question[0]
	encodedName := q.Name
	if hasMultipleCasedLetters(q.Name) {
		encodedName = apply0x20(q.Name)
	}

	outbound := &wire.Message{
		Header:   wire.Header{ID: random.TransactionID(), RD: true},
		Question: []wire.Question{{Name: encodedName, Type: q.Type, Class: wire.ClassIN}},
	}

	timeout := r.cfg.ForwardTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	for _, addr := range r.cfg.Forwarders {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := r.forward.Forward(fctx, addr, outbound)
		cancel()
		if err != nil {
			r.logger.Warn("forwarder attempt failed", "forwarder", addr, "name", q.Name, "error", err)
			continue
		}
		if err := verifyQuestionMatch(outbound.Question[0], resp); err != nil {
			r.logger.Warn("forwarder response rejected", "forwarder", addr, "name", q.Name, "error", err)
			continue
		}
		if resp.Header.Rcode != RcodeNoError && resp.Header.Rcode != RcodeNXDomain {
			continue
		}

		zone := extractZone(q.Name)
		resp.Answer = scrubOutOfBailiwick(resp.Answer, zone)
		resp.Authority = scrubOutOfBailiwick(resp.Authority, zone)
		resp.Additional = filterNonOPT(scrubOutOfBailiwick(filterOPT(resp.Additional), zone), resp.Additional)

		resp.Question = query.Question
		r.cacheInsert(key, resp, forwardedMinTTL(resp))
		return resp
	}

	return r.errorResponseFromQuestion(q, RcodeServFail)
}

// verifyQuestionMatch rejects a forwarder response whose question
// section does not match what was sent: name (exact case, so 0x20
// encoding is actually validated), type, and class must all agree.
func verifyQuestionMatch(sent wire.Question, resp *wire.Message) error {
	if len(resp.Question) == 0 {
		return errForwarderMismatch
	}
	got := resp.Question[0]
	if got.Name != sent.Name {
		// Exact-case mismatch: either the 0x20 casing was not echoed
		// back by the forwarder, or the response belongs to a
		// different query entirely. Either way, reject it.
		return errForwarderMismatch
	}
	if got.Type != sent.Type || got.Class != sent.Class {
		return errForwarderMismatch
	}
	return nil
}

func hasMultipleCasedLetters(name string) bool {
	count := 0
	for i := 0; i < len(name); i++ {
		if isASCIILetter(name[i]) {
			count++
			if count > 1 {
				return true
			}
		}
	}
	return false
}

func forwardedMinTTL(msg *wire.Message) uint32 {
	min := uint32(3600)
	seen := false
	for _, section := range [...][]wire.ResourceRecord{msg.Answer, msg.Authority, msg.Additional} {
		for _, rr := range section {
			if rr.Type == wire.TypeOPT {
				continue
			}
			if !seen || rr.TTL < min {
				min, seen = rr.TTL, true
			}
		}
	}
	if !seen {
		return 300
	}
	return min
}

func filterOPT(rrs []wire.ResourceRecord) []wire.ResourceRecord {
	out := rrs[:0:0]
	for _, rr := range rrs {
		if rr.Type != wire.TypeOPT {
			out = append(out, rr)
		}
	}
	return out
}

// filterNonOPT reassembles scrubbed non-OPT additional records with the
// original OPT record (if any) appended back, since OPT's owner name is
// "." and bailiwick scrubbing would otherwise strip it.
func filterNonOPT(scrubbed, original []wire.ResourceRecord) []wire.ResourceRecord {
	for _, rr := range original {
		if rr.Type == wire.TypeOPT {
			scrubbed = append(scrubbed, rr)
		}
	}
	return scrubbed
}
