package http3probe

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/QUIC-Lab/quic-lab/internal/probe"
)

// generateServerTLSConfig builds a minimal self-signed TLS config, the
// same generateTLSConfig pattern every quic-go-backed listener test in
// this tree uses.
func generateServerTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h3"}}
}

func startH3Server(t *testing.T, status int, body string) string {
	t.Helper()
	pconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	srv := &http3.Server{
		TLSConfig:  generateServerTLSConfig(),
		QUICConfig: &quic.Config{},
		Handler:    mux,
	}
	go srv.Serve(pconn)
	t.Cleanup(func() { srv.Close(); pconn.Close() })
	return pconn.LocalAddr().String()
}

func dialEarly(t *testing.T, addr string) quic.EarlyConnection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := quic.DialAddrEarly(ctx, addr, &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"h3"}}, nil)
	if err != nil {
		t.Fatalf("DialAddrEarly: %v", err)
	}
	t.Cleanup(func() { conn.CloseWithError(0, "") })
	return conn
}

func TestOnConnectedSucceedsOn2xxResponse(t *testing.T) {
	addr := startH3Server(t, 200, "hello")
	conn := dialEarly(t, addr)

	p := New(probe.Config{Host: "127.0.0.1", Path: "/ok"}).(*Probe)
	if err := p.OnConnected(context.Background(), conn); err != nil {
		t.Fatalf("OnConnected: %v", err)
	}
	ok, record := p.Outcome()
	if !ok {
		t.Fatalf("Outcome ok = false, record = %+v", record)
	}
}

func TestOnConnectedFailsOnRequestConstructionError(t *testing.T) {
	addr := startH3Server(t, 200, "hello")
	conn := dialEarly(t, addr)

	p := New(probe.Config{Host: "127.0.0.1", Path: "\x7f"}).(*Probe)
	err := p.OnConnected(context.Background(), conn)
	if err == nil {
		t.Fatalf("expected an error for a malformed path")
	}
	ok, _ := p.Outcome()
	if ok {
		t.Fatalf("Outcome ok = true, want false")
	}
}
