package wire

import (
	"io"
	"net"
	"time"

	"github.com/golang/snappy"
	"github.com/xtaci/smux"
)

// Transport is the opaque byte-stream endpoint the framing layer consumes:
// reliable, ordered, in-order delivery via Send/Recv/Close. No framing,
// congestion control, or retransmission is assumed below this interface.
type Transport interface {
	Send(b []byte) error
	Recv(buf []byte, timeout time.Duration) (int, error)
	Close() error
}

// deadlineConn is satisfied by net.Conn and *smux.Stream, both of which
// support a real read deadline; stdio does not, and falls back to a
// goroutine + timer below.
type deadlineConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

type streamTransport struct {
	rw        io.ReadWriteCloser
	deadliner deadlineConn
}

// NewTCPTransport wraps a net.Conn (the remote adapter's reliable byte-stream
// link) as a Transport.
func NewTCPTransport(conn net.Conn) Transport {
	return &streamTransport{rw: conn, deadliner: conn}
}

// NewSmuxTransport wraps one multiplexed smux.Stream as a Transport. Used
// when more than one remote kernel entry shares a single underlying
// connection to the same adapter host.
func NewSmuxTransport(stream *smux.Stream) Transport {
	return &streamTransport{rw: stream, deadliner: stream}
}

// stdioReadWriteCloser glues a pair of independent reader/writer handles
// (the local loopback adapter's stdin/stdout) into one ReadWriteCloser.
type stdioReadWriteCloser struct {
	r io.Reader
	w io.Writer
	c io.Closer
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdioReadWriteCloser) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdioReadWriteCloser) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// NewStdioTransport wraps a local adapter subprocess's stdin/stdout pipes.
// Pipes have no deadline support, so Recv falls back to a goroutine + timer.
func NewStdioTransport(r io.Reader, w io.Writer, c io.Closer) Transport {
	return &streamTransport{rw: &stdioReadWriteCloser{r: r, w: w, c: c}}
}

// NewCompStream wraps conn in a snappy-compressed stream. It is itself a
// deadlineConn as long as conn is, so it can still back a streamTransport.
type CompStream struct {
	conn deadlineConn
	w    *snappy.Writer
	r    *snappy.Reader
}

func NewCompStream(conn deadlineConn) *CompStream {
	return &CompStream{
		conn: conn,
		w:    snappy.NewBufferedWriter(conn),
		r:    snappy.NewReader(conn),
	}
}

func (c *CompStream) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *CompStream) Write(p []byte) (int, error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, err
	}
	if err := c.w.Flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *CompStream) Close() error                      { return c.conn.Close() }
func (c *CompStream) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (t *streamTransport) Send(b []byte) error {
	_, err := t.rw.Write(b)
	return err
}

func (t *streamTransport) Recv(buf []byte, timeout time.Duration) (int, error) {
	if t.deadliner != nil {
		if err := t.deadliner.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
		n, err := t.rw.Read(buf)
		return n, translateReadErr(err)
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.rw.Read(buf)
		ch <- result{n, err}
	}()
	select {
	case r := <-ch:
		return r.n, translateReadErr(r.err)
	case <-time.After(timeout):
		return 0, newErr(TimedOut, "recv timed out after %s", timeout)
	}
}

func (t *streamTransport) Close() error {
	return t.rw.Close()
}

func translateReadErr(err error) error {
	if err == nil {
		return nil
	}
	if err == io.EOF {
		return newErr(ConnReset, "connection closed")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return newErr(TimedOut, "recv timed out")
	}
	return err
}
