package wire

import (
	"io"
	"time"

	"github.com/xtaci/smux"
)

// MuxConfig builds a smux.Config from tunable parameters and verifies it
// before returning, so callers get a verification error up front instead of
// a confusing failure on the first OpenStream.
func MuxConfig(version, maxReceiveBuffer, maxStreamBuffer, maxFrameSize, keepAliveSeconds int) (*smux.Config, error) {
	cfg := smux.DefaultConfig()
	cfg.Version = version
	cfg.MaxReceiveBuffer = maxReceiveBuffer
	cfg.MaxStreamBuffer = maxStreamBuffer
	cfg.MaxFrameSize = maxFrameSize
	cfg.KeepAliveInterval = time.Duration(keepAliveSeconds) * time.Second

	if err := smux.VerifyConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DialMuxSession opens the client side of one multiplexed connection: one
// stream to an adapter host (a raw net.Conn, or a CompStream wrapped around
// it) that will carry one smux.Stream per remote kernel entry sharing that
// transport_uri.
func DialMuxSession(conn io.ReadWriteCloser, cfg *smux.Config) (*smux.Session, error) {
	return smux.Client(conn, cfg)
}

// AcceptMuxSession opens the adapter side of one multiplexed connection.
// Each stream Accept returns is served as an independent session, exactly
// like a plain TCP connection would be.
func AcceptMuxSession(conn io.ReadWriteCloser, cfg *smux.Config) (*smux.Session, error) {
	return smux.Server(conn, cfg)
}
