package scanning

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"time"
)

// CaptureBanner reads whatever the peer sends first, up to limit bytes, until
// the peer stops sending or timeout passes. Running into the deadline or EOF
// is not an error; any other failure is returned with the bytes read so far.
// The connection's read deadline is cleared before returning.
func CaptureBanner(conn net.Conn, timeout time.Duration, limit int) ([]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck // best effort on a probe socket

	buf := make([]byte, limit)
	n := 0
	for n < limit {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			if isQuietEnd(err) {
				err = nil
			}
			return buf[:n], err
		}
	}
	return buf[:n], nil
}

// readDatagram performs a single bounded read on a connected datagram socket.
func readDatagram(conn net.Conn, timeout time.Duration, limit int) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck // best effort on a probe socket

	buf := make([]byte, limit)
	n, err := conn.Read(buf)
	return buf[:n], err
}

func isQuietEnd(err error) bool {
	return stderrors.Is(err, io.EOF) || stderrors.Is(err, os.ErrDeadlineExceeded) || isTimeout(err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}
