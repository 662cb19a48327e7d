package driver

import (
	"crypto/tls"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/QUIC-Lab/quic-lab/internal/keylog"
	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
)

var multipathWarnOnce sync.Once

// warnMultipathInert logs once, process-wide, that enable_multipath is
// accepted but has no transport effect: quic-go v0.46.0 (the QUIC
// stack this engine dials through) implements no multipath extension,
// unlike the Rust reference implementation's native multipath support.
// The field is still accepted and validated by config loading (it is
// not a Non-goal), it is just inert here.
func warnMultipathInert(cc model.ConnectionConfig, logger model.Logger) {
	if !cc.EnableMultipath {
		return
	}
	multipathWarnOnce.Do(func() {
		logger.Warnf("driver: connection_config.enable_multipath=true, but quic-go has no multipath support; the field is recorded but has no transport effect")
	})
}

// buildTLSConfig maps ConnectionConfig's TLS/application fields to a
// crypto/tls.Config, installing a fresh per-connection KeyLogWriter
// when keylogging is enabled.
func buildTLSConfig(host string, cc model.ConnectionConfig, keySink *keylog.Sink) *tls.Config {
	tlsConf := &tls.Config{
		ServerName:         host,
		NextProtos:         cc.ALPN,
		InsecureSkipVerify: !cc.VerifyPeer,
	}
	if keySink != nil {
		tlsConf.KeyLogWriter = keylog.NewPerConn(keySink)
	}
	return tlsConf
}

// buildQUICConfig maps ConnectionConfig's transport fields to
// quic-go's quic.Config, installing the per-connection qlog tracer
// factory that bridges into the shared QlogMux.
func buildQUICConfig(cc model.ConnectionConfig, mux *qlogmux.Mux, onTraceID func(string)) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:                 cc.MaxIdleTimeout(),
		InitialStreamReceiveWindow:     cc.InitialMaxStreamDataBidiLocal,
		MaxStreamReceiveWindow:         max64(cc.MaxReceiveBufferSize, cc.InitialMaxStreamDataBidiLocal),
		InitialConnectionReceiveWindow: cc.InitialMaxData,
		MaxConnectionReceiveWindow:     max64(cc.MaxReceiveBufferSize, cc.InitialMaxData),
		MaxIncomingStreams:             int64(cc.InitialMaxStreamsBidi),
		MaxIncomingUniStreams:          int64(cc.InitialMaxStreamsUni),
		InitialPacketSize:              uint16(cc.SendUDPPayloadSize),
		Tracer:                         newTracerFactory(mux, onTraceID),
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
