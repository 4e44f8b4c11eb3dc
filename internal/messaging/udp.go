// internal/messaging/udp.go
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"form-relay/internal/metrics"
)

// UDPSender writes each payload as one datagram to a fixed address. The
// socket is left unconnected so an absent receiver never turns into an
// ECONNREFUSED on the next write.
type UDPSender struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

func NewUDPSender(address string) (*UDPSender, error) {
	remote, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve datagram address %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open datagram socket: %w", err)
	}
	return &UDPSender{conn: conn, remote: remote}, nil
}

// Send never waits on the receiver; UDP writes complete locally, so the
// socket carries no write deadline shared between concurrent callers.
func (s *UDPSender) Send(_ context.Context, payload []byte) error {
	if _, err := s.conn.WriteToUDP(payload, s.remote); err != nil {
		metrics.DatagramsSent.WithLabelValues("udp", "error").Inc()
		return fmt.Errorf("send datagram to %s: %w", s.remote, err)
	}
	metrics.DatagramsSent.WithLabelValues("udp", "ok").Inc()
	return nil
}

func (s *UDPSender) Close() error {
	return s.conn.Close()
}

// UDPReceiver owns the bound channel address.
type UDPReceiver struct {
	conn          *net.UDPConn
	maxPacketSize int
	buf           []byte
}

// ListenUDP reserves address for the relay; binding an address another
// relay already holds fails. readBuffer, when positive, sizes the kernel
// receive queue that absorbs bursts while a slow insert is in progress.
func ListenUDP(ctx context.Context, address string, maxPacketSize, readBuffer int) (*UDPReceiver, error) {
	var cfg net.ListenConfig
	if readBuffer > 0 {
		cfg.Control = func(network, addr string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, readBuffer)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}

	pc, err := cfg.ListenPacket(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind datagram address %s: %w", address, err)
	}

	log.Printf("[Datagram] Listening on %s", pc.LocalAddr())
	return &UDPReceiver{
		conn:          pc.(*net.UDPConn),
		maxPacketSize: maxPacketSize,
		// one spare byte reveals datagrams longer than maxPacketSize
		buf: make([]byte, maxPacketSize+1),
	}, nil
}

// Addr is the bound local address; useful when listening on port 0.
func (r *UDPReceiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Receive is not safe for concurrent use; the relay drains one datagram at
// a time.
func (r *UDPReceiver) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = r.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = r.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, _, err := r.conn.ReadFromUDP(r.buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("read datagram: %w", err)
	}

	if n > r.maxPacketSize {
		return append([]byte(nil), r.buf[:r.maxPacketSize]...), ErrTruncated
	}
	return append([]byte(nil), r.buf[:n]...), nil
}

func (r *UDPReceiver) Close() error {
	return r.conn.Close()
}
