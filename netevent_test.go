package asyncrt

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// listenTCP binds a non-blocking listener on a kernel-chosen loopback port.
func listenTCP(t *testing.T) (Socket, int) {
	t.Helper()
	sock, err := NewTCPSocket()
	require.NoError(t, err)
	require.NoError(t, sock.SetReuseAddr(true))
	require.NoError(t, sock.Bind(&unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, sock.Listen(16))
	sa, err := sock.LocalAddr()
	require.NoError(t, err)
	return sock, sa.(*unix.SockaddrInet4).Port
}

// recvExactly reads exactly n bytes, looping over short reads.
func recvExactly(tc *TaskContext, s Socket, n int) ([]byte, error) {
	buf := make([]byte, n)
	off := 0
	for off < n {
		m, err := Recv(tc, s, buf[off:])
		if err != nil {
			return nil, err
		}
		off += m
	}
	return buf, nil
}

func TestNet_EchoSingleShot(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	listener, port := listenTCP(t)
	t.Cleanup(func() { _ = listener.Close(rt.Reactor()) })

	server := NewTask(func(tc *TaskContext) (string, error) {
		conn, err := Accept(tc, listener)
		if err != nil {
			return "", err
		}
		defer func() { _ = conn.Close(rt.Reactor()) }()

		req, err := recvExactly(tc, conn, 4)
		if err != nil {
			return "", err
		}
		if string(req) != "ping" {
			return "", fmt.Errorf("unexpected request %q", req)
		}
		if err := SendAll(tc, conn, []byte("pong")); err != nil {
			return "", err
		}
		return string(req), nil
	})
	require.NoError(t, rt.Schedule(server))

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	reply := make([]byte, 4)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = readFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))

	waitDone(t, server.Done(), 5*time.Second)
	require.NoError(t, server.Err())
	v, ok := server.Result()
	require.True(t, ok)
	assert.Equal(t, "ping", v)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	off := 0
	for off < len(buf) {
		n, err := conn.Read(buf[off:])
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

func TestNet_ConnectAndRoundTrip(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	listener, port := listenTCP(t)
	t.Cleanup(func() { _ = listener.Close(rt.Reactor()) })

	server := NewTask(func(tc *TaskContext) (None, error) {
		conn, err := Accept(tc, listener)
		if err != nil {
			return None{}, err
		}
		defer func() { _ = conn.Close(rt.Reactor()) }()
		req, err := recvExactly(tc, conn, 5)
		if err != nil {
			return None{}, err
		}
		return None{}, SendAll(tc, conn, req)
	})
	require.NoError(t, rt.Schedule(server))

	client := NewTask(func(tc *TaskContext) (string, error) {
		sock, err := NewTCPSocket()
		if err != nil {
			return "", err
		}
		defer func() { _ = sock.Close(rt.Reactor()) }()
		sa := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
		if err := Connect(tc, sock, sa); err != nil {
			return "", err
		}
		if err := SendAll(tc, sock, []byte("hello")); err != nil {
			return "", err
		}
		resp, err := recvExactly(tc, sock, 5)
		if err != nil {
			return "", err
		}
		return string(resp), nil
	})
	require.NoError(t, rt.Schedule(client))

	waitDone(t, client.Done(), 5*time.Second)
	waitDone(t, server.Done(), 5*time.Second)
	require.NoError(t, client.Err())
	require.NoError(t, server.Err())

	v, ok := client.Result()
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestNet_CleanEOFIsDisconnect(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	listener, port := listenTCP(t)
	t.Cleanup(func() { _ = listener.Close(rt.Reactor()) })

	server := NewTask(func(tc *TaskContext) (None, error) {
		conn, err := Accept(tc, listener)
		if err != nil {
			return None{}, err
		}
		defer func() { _ = conn.Close(rt.Reactor()) }()
		buf := make([]byte, 16)
		_, err = Recv(tc, conn, buf)
		return None{}, err
	})
	require.NoError(t, rt.Schedule(server))

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	waitDone(t, server.Done(), 5*time.Second)
	require.Error(t, server.Err())
	assert.True(t, IsDisconnect(server.Err()), "expected DisconnectError, got %v", server.Err())
}

func TestNet_ConnectRefused(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))

	// Bind a port, then close it so connects are refused.
	probe, port := listenTCP(t)
	require.NoError(t, probe.Close(nil))

	client := NewTask(func(tc *TaskContext) (None, error) {
		sock, err := NewTCPSocket()
		if err != nil {
			return None{}, err
		}
		defer func() { _ = sock.Close(rt.Reactor()) }()
		sa := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
		return None{}, Connect(tc, sock, sa)
	})
	require.NoError(t, rt.Schedule(client))
	waitDone(t, client.Done(), 5*time.Second)

	require.Error(t, client.Err())
	assert.ErrorIs(t, client.Err(), &OpError{Kind: CallConnectError})
}

func TestNet_UDPRoundTrip(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(2))

	sock, err := NewUDPSocket()
	require.NoError(t, err)
	require.NoError(t, sock.Bind(&unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	sa, err := sock.LocalAddr()
	require.NoError(t, err)
	port := sa.(*unix.SockaddrInet4).Port
	t.Cleanup(func() { _ = sock.Close(rt.Reactor()) })

	server := NewTask(func(tc *TaskContext) (string, error) {
		buf := make([]byte, 64)
		d, err := RecvFrom(tc, sock, buf)
		if err != nil {
			return "", err
		}
		if err := SendTo(tc, sock, buf[:d.N], d.From); err != nil {
			return "", err
		}
		return string(buf[:d.N]), nil
	})
	require.NoError(t, rt.Schedule(server))

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("dgram"))
	require.NoError(t, err)

	reply := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err := conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, "dgram", string(reply[:n]))

	waitDone(t, server.Done(), 5*time.Second)
	require.NoError(t, server.Err())
}
