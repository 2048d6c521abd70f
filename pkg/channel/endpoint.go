package channel

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/cuemby/fleetd/pkg/control"
)

// ErrWouldBlock is returned by TrySend when the socket buffer is full; the
// caller drops the message with a log, not a fatal error. No caller
// re-sends a dropped frame, lifecycle kinds included.
var ErrWouldBlock = errors.New("channel: would block")

// ErrNoMessage is returned by TryRecv when no complete frame is currently
// available.
var ErrNoMessage = errors.New("channel: no message available")

// pollWindow bounds how long a Try* call may wait for the socket to become
// ready before treating it as would-block; it stands in for true
// non-blocking I/O on top of net.Conn's deadline-based API.
const pollWindow = time.Millisecond

const readChunk = 64 * 1024

// Endpoint is one end of a control channel: a framed, best-effort,
// non-blocking reader/writer over a net.Conn.
type Endpoint struct {
	conn net.Conn
	rbuf []byte // bytes read but not yet assembled into a complete frame
}

// NewEndpoint wraps conn (typically from Pair or FromFD) as an Endpoint.
func NewEndpoint(conn net.Conn) *Endpoint {
	return &Endpoint{conn: conn}
}

// Close closes the underlying connection.
func (e *Endpoint) Close() error { return e.conn.Close() }

// TrySend writes f without blocking beyond pollWindow. FIFO per pair is
// preserved by only ever calling TrySend from one goroutine per endpoint
// (the owning worker's main loop, or the supervisor's single router
// goroutine for that peer).
func (e *Endpoint) TrySend(f control.Frame) error {
	if err := e.conn.SetWriteDeadline(time.Now().Add(pollWindow)); err != nil {
		return err
	}
	defer e.conn.SetWriteDeadline(time.Time{})

	if err := control.WriteFrame(e.conn, f); err != nil {
		if isTimeout(err) {
			return ErrWouldBlock
		}
		return err
	}
	return nil
}

// TryRecv returns the next complete frame, assembling it from whatever
// bytes are already buffered plus (at most) one non-blocking read. Partial
// frames are retained across calls rather than discarded, so a frame
// split across two readiness events is never corrupted.
func (e *Endpoint) TryRecv() (control.Frame, error) {
	if f, ok, err := e.tryParseBuffered(); ok || err != nil {
		return f, err
	}

	if err := e.conn.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
		return control.Frame{}, err
	}
	defer e.conn.SetReadDeadline(time.Time{})

	tmp := make([]byte, readChunk)
	n, err := e.conn.Read(tmp)
	if n > 0 {
		e.rbuf = append(e.rbuf, tmp[:n]...)
	}
	if err != nil && !isTimeout(err) && n == 0 {
		return control.Frame{}, err
	}

	if f, ok, perr := e.tryParseBuffered(); ok || perr != nil {
		return f, perr
	}
	return control.Frame{}, ErrNoMessage
}

func (e *Endpoint) tryParseBuffered() (control.Frame, bool, error) {
	f, consumed, ok, err := control.ParseFrame(e.rbuf)
	if err != nil {
		return control.Frame{}, false, err
	}
	if !ok {
		return control.Frame{}, false, nil
	}
	e.rbuf = e.rbuf[consumed:]
	return f, true, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
