// Package resolve implements the family-aware DNS resolver of spec.md
// §4.3 (component C3) atop github.com/miekg/dns, the same library the
// teacher's internal/netxlite uses for DNS message encoding/decoding.
package resolve

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

// Endpoint is one candidate (ip, port) pair produced by a lookup.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprintf("%d", e.Port))
}

// Resolver resolves hostnames into ordered candidate endpoints.
type Resolver struct {
	// Servers are "host:port" nameserver addresses. If empty, the
	// system resolver configuration (/etc/resolv.conf) is used.
	Servers []string
	Client  *dns.Client
}

// New builds a Resolver using the system's configured nameservers,
// falling back to the public resolvers the teacher's fixtures commonly
// target in tests if /etc/resolv.conf cannot be read.
func New() *Resolver {
	servers := []string{"8.8.8.8:53"}
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		servers = nil
		for _, s := range cfg.Servers {
			servers = append(servers, net.JoinHostPort(s, cfg.Port))
		}
	}
	return &Resolver{Servers: servers, Client: new(dns.Client)}
}

// Lookup resolves host according to ipVersion and returns an ordered
// list of endpoints at port. For "auto" it prefers AAAA results,
// appending A results afterward, matching the RFC 6724-style ordering
// spec.md §4.3 calls for. It fails with a *model.ResolutionError when
// no address of the required family is found.
func (r *Resolver) Lookup(ctx context.Context, host string, port uint16, ipVersion model.IPVersion) ([]Endpoint, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []Endpoint{{IP: ip, Port: port}}, nil
	}
	var v4, v6 []net.IP
	var errA, errAAAA error
	switch ipVersion {
	case model.IPv4:
		v4, errA = r.query(ctx, host, dns.TypeA)
	case model.IPv6:
		v6, errAAAA = r.query(ctx, host, dns.TypeAAAA)
	default: // auto: always try AAAA first, A second (RFC 6724-style preference)
		v6, errAAAA = r.query(ctx, host, dns.TypeAAAA)
		v4, errA = r.query(ctx, host, dns.TypeA)
	}
	var out []Endpoint
	for _, ip := range v6 {
		out = append(out, Endpoint{IP: ip, Port: port})
	}
	for _, ip := range v4 {
		out = append(out, Endpoint{IP: ip, Port: port})
	}
	if len(out) == 0 {
		cause := errAAAA
		if cause == nil {
			cause = errA
		}
		if cause == nil {
			cause = fmt.Errorf("no address of the required family")
		}
		return nil, &model.ResolutionError{Host: host, Cause: cause}
	}
	return out, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.Servers {
		reply, _, err := r.Client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dns server %s returned rcode %s", server, dns.RcodeToString[reply.Rcode])
			continue
		}
		var ips []net.IP
		for _, rr := range reply.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.AAAA:
				ips = append(ips, rec.AAAA)
			}
		}
		if len(ips) == 0 {
			lastErr = fmt.Errorf("no %s records for %s", dns.TypeToString[qtype], host)
			continue
		}
		return ips, nil
	}
	return nil, lastErr
}
