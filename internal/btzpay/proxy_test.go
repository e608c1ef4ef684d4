package btzpay

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socksServer is a minimal no-auth SOCKS5 CONNECT relay.
type socksServer struct {
	ln      net.Listener
	targets chan string
	conns   atomic.Int32
}

func newSOCKSServer(t *testing.T) *socksServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &socksServer{ln: ln, targets: make(chan string, 16)}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *socksServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns.Add(1)
		go s.handle(conn)
	}
}

func (s *socksServer) handle(conn net.Conn) {
	defer conn.Close()

	// greeting: VER NMETHODS METHODS...
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil || head[0] != 5 {
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, head[1])); err != nil {
		return
	}
	if _, err := conn.Write([]byte{5, 0}); err != nil {
		return
	}

	// request: VER CMD RSV ATYP DST.ADDR DST.PORT
	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil || req[1] != 1 {
		return
	}
	var host string
	switch req[3] {
	case 1:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 3:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	case 4:
		ip := make([]byte, 16)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	default:
		return
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port))))
	s.targets <- target

	upstream, err := net.Dial("tcp", target)
	if err != nil {
		conn.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()
	if _, err := conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

func TestRequestsGoThroughSOCKSProxy(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/qris/transaction/T1", r.URL.Path)
		w.Write([]byte(`{"success":true,"data":{"status":"pending"}}`))
	}))
	t.Cleanup(gateway.Close)

	for _, scheme := range []string{"socks5", "socks5h"} {
		t.Run(scheme, func(t *testing.T) {
			socks := newSOCKSServer(t)
			c, err := NewClient(Config{
				BaseURL:  gateway.URL,
				APIKey:   "k",
				Timeout:  2 * time.Second,
				ProxyURL: scheme + "://" + socks.ln.Addr().String(),
			})
			require.NoError(t, err)

			st, err := c.GetStatus(context.Background(), "T1", "K1")
			require.NoError(t, err)
			assert.Equal(t, StatusPending, st.Normalized())

			assert.Equal(t, int32(1), socks.conns.Load())
			select {
			case target := <-socks.targets:
				assert.Equal(t, gateway.Listener.Addr().String(), target)
			default:
				t.Fatal("proxy saw no CONNECT request")
			}
		})
	}
}

func TestInvalidProxyURL(t *testing.T) {
	for _, raw := range []string{"127.0.0.1:1080", "http://127.0.0.1:8080", "socks5://"} {
		_, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", ProxyURL: raw})
		assert.Error(t, err, raw)
	}
}
