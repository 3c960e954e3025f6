// Package resolver implements the query pipeline: classify a question
// against the locally served zones, answer from the zone store or
// response cache, chase CNAMEs, forward out-of-zone queries upstream,
// and assemble the authority/additional sections an authoritative
// server is expected to return.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dnsscience/authdnsd/internal/cache"
	"github.com/dnsscience/authdnsd/internal/cookie"
	"github.com/dnsscience/authdnsd/internal/dnssec"
	"github.com/dnsscience/authdnsd/internal/wire"
	"github.com/dnsscience/authdnsd/internal/zonestore"
)

const maxCNAMEChain = 8

// Rcode values used when building responses. wire carries no symbolic
// constants of its own; the resolver is the only package that needs them.
const (
	RcodeNoError  uint8 = 0
	RcodeFormErr  uint8 = 1
	RcodeServFail uint8 = 2
	RcodeNXDomain uint8 = 3
	RcodeNotImp   uint8 = 4
	RcodeRefused  uint8 = 5
	RcodeBadCookie uint8 = 23
)

// Config configures a Resolver. Every field is already validated by the
// time a Resolver is constructed.
type Config struct {
	// Apex is the canonical name of the zone this server is
	// authoritative for (config.Config.ZoneFile's zone name).
	Apex string

	// Authoritative controls miss behavior: true answers NXDOMAIN for
	// unknown apex names; false falls through to forwarding.
	Authoritative bool

	Forwarders     []string
	ForwardTimeout time.Duration

	CookiesEnabled bool

	// CacheTTLFloor clamps every cache insert to at least this many
	// seconds, preventing a misconfigured near-zero TTL upstream from
	// turning the cache into a no-op and hammering forwarders.
	CacheTTLFloor uint32

	Logger *slog.Logger
}

// Resolver answers DNS questions against a zone store, response cache,
// and optional DNSSEC signer, forwarding what it cannot answer itself.
type Resolver struct {
	cfg     Config
	store   zonestore.Store
	cache   *cache.Cache
	signer  *dnssec.Signer // nil disables DNSSEC
	cookies *cookie.Manager
	forward Forwarder
	logger  *slog.Logger
}

// Forwarder sends a query to one of the configured upstreams and
// returns its response. It exists as an interface so tests can stub
// network behavior; internal/server's udpForwarder is the real
// UDP-based implementation wired in at startup.
type Forwarder interface {
	Forward(ctx context.Context, addr string, query *wire.Message) (*wire.Message, error)
}

// New builds a Resolver. signer and cookies may be nil to disable
// DNSSEC signing and DNS Cookie handling respectively.
func New(cfg Config, store zonestore.Store, c *cache.Cache, signer *dnssec.Signer, cookies *cookie.Manager, fwd Forwarder) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:     cfg,
		store:   store,
		cache:   c,
		signer:  signer,
		cookies: cookies,
		forward: fwd,
		logger:  logger,
	}
}

// Resolve runs the full pipeline for a single query and returns the
// response to send, with the same transaction ID as the query.
func (r *Resolver) Resolve(ctx context.Context, query *wire.Message, clientAddr string) *wire.Message {
	if len(query.Question) == 0 {
		return r.errorResponse(query, RcodeFormErr)
	}
	q := query.Question[0]

	opt, _ := wire.FindOPT(query)
	var do bool
	if opt != nil {
		_, _, _, d := wire.DecodeOPTMeta(*opt)
		do = d
	}

	if r.cookies != nil && opt != nil {
		if badCookie := r.checkCookie(*opt, clientAddr); badCookie {
			resp := r.errorResponse(query, RcodeBadCookie)
			r.attachOPT(resp, query, do)
			return resp
		}
	}

	if q.Class != wire.ClassIN {
		resp := r.errorResponse(query, RcodeRefused)
		resp.Header.ID = query.Header.ID
		resp.Header.QR = true
		resp.Question = query.Question
		return resp
	}

	key := cache.Key{Name: wire.CanonicalName(q.Name), Type: q.Type, DO: do}

	var resp *wire.Message
	switch r.classify(q.Name) {
	case classApex:
		resp = r.resolveLocal(ctx, q, key, do)
	case classOutOfZone:
		resp = r.resolveForward(ctx, query, key)
	default:
		resp = r.errorResponse(query, RcodeRefused)
	}

	resp.Header.ID = query.Header.ID
	resp.Header.QR = true
	resp.Header.RD = query.Header.RD
	resp.Question = query.Question
	r.attachOPT(resp, query, do)
	return resp
}

type zoneClass int

const (
	classApex zoneClass = iota
	classOutOfZone
)

// classify decides whether name falls under the locally served apex.
func (r *Resolver) classify(name string) zoneClass {
	if r.cfg.Apex == "" {
		return classOutOfZone
	}
	if isSubdomainOrEqual(name, r.cfg.Apex) {
		return classApex
	}
	return classOutOfZone
}

func isSubdomainOrEqual(name, apex string) bool {
	name, apex = wire.CanonicalName(name), wire.CanonicalName(apex)
	if name == apex {
		return true
	}
	return strings.HasSuffix(name, "."+apex)
}

// resolveLocal answers a query against the zone store and cache,
// falling back to forwarding (if configured and non-authoritative) or
// NXDOMAIN on a miss.
func (r *Resolver) resolveLocal(ctx context.Context, q wire.Question, key cache.Key, do bool) *wire.Message {
	if entry, ok := r.cache.Get(key); ok {
		return decrementEntryTTLs(entry)
	}

	if q.Type == wire.TypeANY {
		return r.resolveANY(ctx, q, key)
	}

	rrset, chain, err := r.lookupWithCNAMEChasing(ctx, q.Name, q.Type)
	if err == nil {
		msg := r.buildPositiveResponse(q, rrset, chain, do)
		r.cacheInsert(key, msg, minTTL(rrset.TTL, chain))
		return msg
	}
	if !errors.Is(err, zonestore.ErrNotFound) {
		r.logger.Error("zone store lookup failed", "error", err, "name", q.Name)
		return r.errorResponseFromQuestion(q, RcodeServFail)
	}

	if r.cfg.Authoritative {
		msg := r.buildNegativeResponse(q)
		r.cacheInsert(key, msg, r.negativeTTL())
		return msg
	}

	return r.doForward(ctx, &wire.Message{Header: wire.Header{RD: true}, Question: []wire.Question{q}}, key)
}

// resolveANY gathers every RRset at q.Name into one response, per the
// spec's ANY(255) handling.
func (r *Resolver) resolveANY(ctx context.Context, q wire.Question, key cache.Key) *wire.Message {
	sets, err := r.store.GetAll(ctx, q.Name)
	if err != nil || len(sets) == 0 {
		if r.cfg.Authoritative {
			msg := r.buildNegativeResponse(q)
			r.cacheInsert(key, msg, r.negativeTTL())
			return msg
		}
		return r.doForward(ctx, &wire.Message{Header: wire.Header{RD: true}, Question: []wire.Question{q}}, key)
	}

	msg := &wire.Message{}
	msg.Header.AA = r.cfg.Authoritative
	for _, set := range sets {
		for _, rd := range set.Rdata {
			msg.Answer = append(msg.Answer, wire.ResourceRecord{
				Name: q.Name, Type: set.Type, Class: wire.ClassIN, TTL: set.TTL, Rdata: rd,
			})
		}
	}
	r.appendAuthority(msg, true)
	r.cacheInsert(key, msg, minRRSetTTL(sets))
	return msg
}

// lookupWithCNAMEChasing resolves qname/qtype, following CNAMEs within
// the zone up to maxCNAMEChain hops when the owner name resolves to a
// CNAME instead of the requested type.
func (r *Resolver) lookupWithCNAMEChasing(ctx context.Context, qname string, qtype wire.RecordType) (zonestore.RRSet, []wire.ResourceRecord, error) {
	var chain []wire.ResourceRecord
	name := qname

	for hop := 0; hop < maxCNAMEChain; hop++ {
		set, err := r.store.Get(ctx, name, qtype)
		if err == nil {
			return set, chain, nil
		}
		if !errors.Is(err, zonestore.ErrNotFound) {
			return zonestore.RRSet{}, chain, err
		}
		if qtype == wire.TypeCNAME {
			return zonestore.RRSet{}, chain, zonestore.ErrNotFound
		}

		cnameSet, cerr := r.store.Get(ctx, name, wire.TypeCNAME)
		if cerr != nil {
			return zonestore.RRSet{}, chain, zonestore.ErrNotFound
		}
		for _, rd := range cnameSet.Rdata {
			chain = append(chain, wire.ResourceRecord{Name: name, Type: wire.TypeCNAME, Class: wire.ClassIN, TTL: cnameSet.TTL, Rdata: rd})
			if target, ok := rd.(wire.CNAME); ok {
				name = target.Target
			}
		}
	}
	return zonestore.RRSet{}, chain, zonestore.ErrNotFound
}

func (r *Resolver) buildPositiveResponse(q wire.Question, rrset zonestore.RRSet, chain []wire.ResourceRecord, do bool) *wire.Message {
	msg := &wire.Message{}
	msg.Header.AA = r.cfg.Authoritative
	msg.Answer = append(msg.Answer, chain...)
	for _, rd := range rrset.Rdata {
		msg.Answer = append(msg.Answer, wire.ResourceRecord{
			Name: rrset.Name, Type: rrset.Type, Class: wire.ClassIN, TTL: rrset.TTL, Rdata: rd,
		})
	}
	r.appendAuthority(msg, true)
	r.sign(msg, do)
	return msg
}

func (r *Resolver) buildNegativeResponse(q wire.Question) *wire.Message {
	msg := &wire.Message{}
	msg.Header.AA = r.cfg.Authoritative
	msg.Header.Rcode = RcodeNXDomain
	r.appendAuthority(msg, false)
	return msg
}

// appendAuthority adds the apex NS RRset (positive answers) or SOA
// (negative answers, served with the SOA MINIMUM as its TTL) to the
// authority section, plus glue A/AAAA records
// for any NS target that falls inside the zone being served.
func (r *Resolver) appendAuthority(msg *wire.Message, positive bool) {
	ctx := context.Background()
	if positive {
		set, err := r.store.Get(ctx, r.cfg.Apex, wire.TypeNS)
		if err != nil {
			return
		}
		for _, rd := range set.Rdata {
			msg.Authority = append(msg.Authority, wire.ResourceRecord{Name: r.cfg.Apex, Type: wire.TypeNS, Class: wire.ClassIN, TTL: set.TTL, Rdata: rd})
		}
		r.appendGlue(ctx, msg, set.Rdata)
		return
	}
	set, err := r.store.Get(ctx, r.cfg.Apex, wire.TypeSOA)
	if err != nil {
		return
	}
	for _, rd := range set.Rdata {
		ttl := set.TTL
		if soa, ok := rd.(wire.SOA); ok {
			ttl = soa.Minimum
		}
		msg.Authority = append(msg.Authority, wire.ResourceRecord{Name: r.cfg.Apex, Type: wire.TypeSOA, Class: wire.ClassIN, TTL: ttl, Rdata: rd})
	}
}

// appendGlue resolves each NS target in nsRdata that falls inside the
// locally served zone against the store and adds its A/AAAA records to
// the additional section, so a resolver following a delegation doesn't
// need a separate lookup to reach the nameserver itself.
func (r *Resolver) appendGlue(ctx context.Context, msg *wire.Message, nsRdata []wire.Rdata) {
	for _, rd := range nsRdata {
		ns, ok := rd.(wire.NS)
		if !ok {
			continue
		}
		if !isSubdomainOrEqual(ns.Target, r.cfg.Apex) {
			continue
		}
		for _, gtype := range [...]wire.RecordType{wire.TypeA, wire.TypeAAAA} {
			glue, err := r.store.Get(ctx, ns.Target, gtype)
			if err != nil {
				continue
			}
			for _, grd := range glue.Rdata {
				msg.Additional = append(msg.Additional, wire.ResourceRecord{Name: glue.Name, Type: gtype, Class: wire.ClassIN, TTL: glue.TTL, Rdata: grd})
			}
		}
	}
}

func (r *Resolver) negativeTTL() uint32 {
	set, err := r.store.Get(context.Background(), r.cfg.Apex, wire.TypeSOA)
	if err != nil || len(set.Rdata) == 0 {
		return 300
	}
	if soa, ok := set.Rdata[0].(wire.SOA); ok {
		return soa.Minimum
	}
	return 300
}

// sign places an RRSIG immediately after every RRset in msg's answer and
// authority sections when do is true and a signer is configured.
func (r *Resolver) sign(msg *wire.Message, do bool) {
	if !do || r.signer == nil {
		return
	}
	msg.Answer = r.signSection(msg.Answer)
	msg.Authority = r.signSection(msg.Authority)
}

func (r *Resolver) signSection(rrs []wire.ResourceRecord) []wire.ResourceRecord {
	grouped := map[string][]wire.ResourceRecord{}
	var order []string
	for _, rr := range rrs {
		k := rr.Name + "/" + strconv.Itoa(int(rr.Type))
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], rr)
	}
	out := make([]wire.ResourceRecord, 0, len(rrs)+len(order))
	for _, k := range order {
		set := grouped[k]
		out = append(out, set...)
		sig, err := r.signer.Sign(set[0].Name, set[0].Type, set[0].TTL, set)
		if err != nil {
			r.logger.Warn("dnssec signing failed", "error", err, "name", set[0].Name)
			continue
		}
		out = append(out, sig)
	}
	return out
}

// PrimeApexNS pins the apex NS RRset into the response cache so it is
// served without a store lookup and never evicted, fulfilling the
// "installed from Config.ns_records at startup" contract. It's a no-op
// if the store has no apex NS RRset yet. Called once during server
// startup, after the apex NS RRset has been installed in the store.
func (r *Resolver) PrimeApexNS(ctx context.Context) {
	if r.cfg.Apex == "" {
		return
	}
	set, err := r.store.Get(ctx, r.cfg.Apex, wire.TypeNS)
	if err != nil {
		return
	}
	q := wire.Question{Name: r.cfg.Apex, Type: wire.TypeNS, Class: wire.ClassIN}
	for _, do := range [...]bool{false, true} {
		if do && r.signer == nil {
			continue
		}
		msg := r.buildPositiveResponse(q, set, nil, do)
		key := cache.Key{Name: r.cfg.Apex, Type: wire.TypeNS, DO: do}
		r.cache.Pin(key, &cache.Entry{
			Message:   msg,
			ExpiresAt: time.Now().Add(time.Duration(set.TTL) * time.Second),
			OrigTTL:   set.TTL,
		})
	}
}

func (r *Resolver) cacheInsert(key cache.Key, msg *wire.Message, ttl uint32) {
	if ttl < r.cfg.CacheTTLFloor {
		ttl = r.cfg.CacheTTLFloor
	}
	r.cache.Set(key, &cache.Entry{
		Message:   msg,
		ExpiresAt: time.Now().Add(time.Duration(ttl) * time.Second),
		OrigTTL:   ttl,
	})
}

func minTTL(base uint32, chain []wire.ResourceRecord) uint32 {
	min := base
	for _, rr := range chain {
		if rr.TTL < min {
			min = rr.TTL
		}
	}
	return min
}

func minRRSetTTL(sets []zonestore.RRSet) uint32 {
	if len(sets) == 0 {
		return 300
	}
	min := sets[0].TTL
	for _, s := range sets[1:] {
		if s.TTL < min {
			min = s.TTL
		}
	}
	return min
}

func (r *Resolver) resolveForward(ctx context.Context, query *wire.Message, key cache.Key) *wire.Message {
	if entry, ok := r.cache.Get(key); ok {
		return decrementEntryTTLs(entry)
	}
	return r.doForward(ctx, query, key)
}

// decrementEntryTTLs returns a copy of entry's cached message with every
// answer/authority/additional RR's TTL reduced by the time spent sitting
// in the cache, so concurrent callers sharing the same *cache.Entry never
// see it mutated and no served response outlives its entry's remaining
// lifetime. OPT records are left untouched since their TTL field carries
// extended-RCODE/version/DO bits rather than a real TTL.
func decrementEntryTTLs(entry *cache.Entry) *wire.Message {
	now := time.Now()
	src := entry.Message
	out := &wire.Message{
		Header:     src.Header,
		Question:   src.Question,
		Answer:     decrementSection(entry, src.Answer, now),
		Authority:  decrementSection(entry, src.Authority, now),
		Additional: decrementSection(entry, src.Additional, now),
	}
	return out
}

func decrementSection(entry *cache.Entry, rrs []wire.ResourceRecord, now time.Time) []wire.ResourceRecord {
	if len(rrs) == 0 {
		return nil
	}
	out := make([]wire.ResourceRecord, len(rrs))
	for i, rr := range rrs {
		out[i] = rr
		if rr.Type != wire.TypeOPT {
			out[i].TTL = entry.RemainingTTL(rr.TTL, now)
		}
	}
	return out
}

func (r *Resolver) errorResponse(query *wire.Message, rcode uint8) *wire.Message {
	msg := &wire.Message{}
	msg.Header.Rcode = rcode
	msg.Question = query.Question
	return msg
}

func (r *Resolver) errorResponseFromQuestion(q wire.Question, rcode uint8) *wire.Message {
	msg := &wire.Message{Question: []wire.Question{q}}
	msg.Header.Rcode = rcode
	return msg
}

func (r *Resolver) attachOPT(msg *wire.Message, query *wire.Message, do bool) {
	opt, _ := wire.FindOPT(query)
	if opt == nil {
		return
	}
	var options []wire.EDNSOption
	if r.cookies != nil {
		if o, ok := wire.GetOption(*opt, wire.EDNSOptionCookie); ok {
			if echoed, ok := r.echoCookie(o); ok {
				options = append(options, echoed)
			}
		}
	}
	msg.Additional = append(msg.Additional, wire.NewOPTRecord(wire.DefaultUDPSize, 0, 0, do, options))
}
