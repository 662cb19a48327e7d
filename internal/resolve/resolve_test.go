package resolve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

// startFakeServer runs an in-process DNS server that answers A queries
// for "a-only.test" and AAAA+A queries for "dual.test", and refuses
// everything else, so tests exercise real wire decoding without
// touching the network.
func startFakeServer(t *testing.T) (addr string, shutdown func()) {
	t.Helper()
	mux := dns.NewServeMux()
	mux.HandleFunc("a-only.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR("a-only.test. 60 IN A 192.0.2.1")
			m.Answer = append(m.Answer, rr)
		}
		w.WriteMsg(m)
	})
	mux.HandleFunc("dual.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		switch r.Question[0].Qtype {
		case dns.TypeA:
			rr, _ := dns.NewRR("dual.test. 60 IN A 192.0.2.2")
			m.Answer = append(m.Answer, rr)
		case dns.TypeAAAA:
			rr, _ := dns.NewRR("dual.test. 60 IN AAAA ::2")
			m.Answer = append(m.Answer, rr)
		}
		w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	return pc.LocalAddr().String(), func() { srv.Shutdown() }
}

func TestLookupIPv6OnAOnlyHostFails(t *testing.T) {
	addr, shutdown := startFakeServer(t)
	defer shutdown()
	r := &Resolver{Servers: []string{addr}, Client: new(dns.Client)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.Lookup(ctx, "a-only.test", 443, model.IPv6)
	if err == nil {
		t.Fatal("expected ResolutionError, got nil")
	}
	if _, ok := err.(*model.ResolutionError); !ok {
		t.Fatalf("expected *model.ResolutionError, got %T: %v", err, err)
	}
}

func TestLookupAutoPrefersAAAA(t *testing.T) {
	addr, shutdown := startFakeServer(t)
	defer shutdown()
	r := &Resolver{Servers: []string{addr}, Client: new(dns.Client)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	endpoints, err := r.Lookup(ctx, "dual.test", 443, model.IPAuto)
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}
	if endpoints[0].IP.To4() != nil {
		t.Fatalf("expected AAAA result first, got %v", endpoints[0].IP)
	}
}

func TestLookupLiteralIPSkipsDNS(t *testing.T) {
	r := &Resolver{Servers: []string{"127.0.0.1:1"}, Client: new(dns.Client)}
	endpoints, err := r.Lookup(context.Background(), "192.0.2.9", 443, model.IPv4)
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 1 || endpoints[0].IP.String() != "192.0.2.9" {
		t.Fatalf("unexpected endpoints: %+v", endpoints)
	}
}
