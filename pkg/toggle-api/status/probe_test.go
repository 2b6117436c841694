//go:build !no_ci
// +build !no_ci

package status

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveSOCKS5 runs a no-auth SOCKS5 server that only supports CONNECT.
func serveSOCKS5(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go handleSOCKS5(conn)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func handleSOCKS5(conn net.Conn) {
	defer conn.Close() //nolint:errcheck

	// greeting: VER NMETHODS METHODS...
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil || hdr[0] != 0x05 {
		return
	}
	if _, err := io.CopyN(io.Discard, conn, int64(hdr[1])); err != nil {
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	// request: VER CMD RSV ATYP DST.ADDR DST.PORT
	var req [4]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil || req[1] != 0x01 {
		return
	}
	var host string
	switch req[3] {
	case 0x01:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 0x03:
		var n [1]byte
		if _, err := io.ReadFull(conn, n[:]); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	var port [2]byte
	if _, err := io.ReadFull(conn, port[:]); err != nil {
		return
	}

	target, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port[:])))))
	if err != nil {
		conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}) //nolint:errcheck
		return
	}
	defer target.Close() //nolint:errcheck
	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	go io.Copy(target, conn) //nolint:errcheck
	io.Copy(conn, target)    //nolint:errcheck
}

func echoServer(t *testing.T, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSOCKS5Prober(t *testing.T) {
	echo := echoServer(t, "198.51.100.23")
	port := serveSOCKS5(t)

	p := NewSOCKS5Prober("127.0.0.1", echo.URL, 2*time.Second)
	ip, err := p.ExternalIP(context.Background(), port)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.23", ip)
}

func TestSOCKS5ProberClosedPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	p := NewSOCKS5Prober("127.0.0.1", "http://198.51.100.1/", time.Second)
	_, err = p.ExternalIP(context.Background(), port)
	require.Error(t, err)
}

func TestFetchIPRejectsGarbage(t *testing.T) {
	echo := echoServer(t, "<html>blocked</html>")
	_, err := fetchIP(context.Background(), &http.Client{}, echo.URL)
	require.ErrorIs(t, err, ErrNoIP)
}

func TestEgress(t *testing.T) {
	log := logging.MustGetLogger("status_test")

	t.Run("configured host", func(t *testing.T) {
		e := NewEgress("proxy.example.com", "", time.Second, log)
		assert.Equal(t, "proxy.example.com", e.Host(context.Background()))
	})

	t.Run("echo service, cached", func(t *testing.T) {
		echo := echoServer(t, "203.0.113.9")
		e := NewEgress("", echo.URL, time.Second, log)
		assert.Equal(t, "203.0.113.9", e.Host(context.Background()))
		echo.Close()
		assert.Equal(t, "203.0.113.9", e.Host(context.Background()))
	})

	t.Run("route source", func(t *testing.T) {
		e := NewEgress("", "", time.Second, log)
		e.routeSrc = func() (string, error) { return "10.1.2.3", nil }
		assert.Equal(t, "10.1.2.3", e.Host(context.Background()))
	})

	t.Run("unknown", func(t *testing.T) {
		e := NewEgress("", "", time.Second, log)
		e.routeSrc = func() (string, error) { return "", errors.New("no route") }
		assert.Equal(t, UnknownHost, e.Host(context.Background()))
	})
}

func TestParseRouteSource(t *testing.T) {
	out := "8.8.8.8 via 10.0.0.1 dev eth0 src 10.0.0.23 uid 0 \n    cache \n"
	assert.Equal(t, "10.0.0.23", parseRouteSource(out))
	assert.Equal(t, "", parseRouteSource("RTNETLINK answers: Network is unreachable"))
}
