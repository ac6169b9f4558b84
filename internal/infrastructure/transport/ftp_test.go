package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"PMCMirror/internal/config"
	"PMCMirror/internal/domain"
)

// fakeFTPServer speaks just enough FTP for login, EPSV/PASV and RETR.
type fakeFTPServer struct {
	t        *testing.T
	listener net.Listener
	files    map[string]string

	mu          sync.Mutex
	logins      int
	retrieved   []string
	dropOnFirst bool
}

func newFakeFTPServer(t *testing.T, files map[string]string) *fakeFTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeFTPServer{t: t, listener: ln, files: files}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeFTPServer) Addr() string { return s.listener.Addr().String() }

func (s *fakeFTPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeFTPServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		_, _ = fmt.Fprintf(conn, format+"\r\n", args...)
	}

	var data net.Listener
	defer func() {
		if data != nil {
			_ = data.Close()
		}
	}()

	reply("220 fake ftp ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd, arg, _ := strings.Cut(line, " ")

		switch strings.ToUpper(cmd) {
		case "USER":
			reply("331 password please")
		case "PASS":
			s.mu.Lock()
			s.logins++
			s.mu.Unlock()
			reply("230 logged in")
		case "TYPE", "NOOP", "OPTS", "MODE":
			reply("200 ok")
		case "QUIT":
			reply("221 bye")
			return
		case "EPSV", "PASV":
			if data != nil {
				_ = data.Close()
			}
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			port := data.Addr().(*net.TCPAddr).Port
			if strings.ToUpper(cmd) == "EPSV" {
				reply("229 Entering Extended Passive Mode (|||%d|)", port)
			} else {
				reply("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
			}
		case "RETR":
			body, ok := s.files[arg]
			if !ok || data == nil {
				reply("550 %s: no such file", arg)
				continue
			}
			dc, err := data.Accept()
			if err != nil {
				reply("425 no data connection")
				continue
			}
			reply("150 opening data connection")
			_, _ = io.WriteString(dc, body)
			_ = dc.Close()
			reply("226 transfer complete")

			s.mu.Lock()
			s.retrieved = append(s.retrieved, arg)
			drop := s.dropOnFirst && len(s.retrieved) == 1
			s.mu.Unlock()
			if drop {
				return
			}
		default:
			reply("502 not implemented")
		}
	}
}

func (s *fakeFTPServer) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func readAll(t *testing.T, tr *FTPTransport, path string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	body, err := tr.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open %s: %v", path, err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := body.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	return string(data)
}

func TestFTPTransportReusesConnection(t *testing.T) {
	t.Parallel()

	server := newFakeFTPServer(t, map[string]string{
		"/pub/pmc/oa_comm/xml/PMC1.xml": "<article>1</article>",
		"/pub/pmc/oa_comm/xml/PMC2.xml": "<article>2</article>",
	})
	tr := NewFTPTransport(config.FTPConfig{Host: server.Addr(), BasePath: "/pub/pmc/", DialTimeout: time.Second}, nil)
	defer tr.Close()

	if got := readAll(t, tr, "oa_comm/xml/PMC1.xml"); got != "<article>1</article>" {
		t.Fatalf("unexpected body %q", got)
	}
	if got := readAll(t, tr, "/oa_comm/xml/PMC2.xml"); got != "<article>2</article>" {
		t.Fatalf("unexpected body %q", got)
	}
	if server.Logins() != 1 {
		t.Fatalf("expected one login, got %d", server.Logins())
	}
}

func TestFTPTransportReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	server := newFakeFTPServer(t, map[string]string{
		"/pub/pmc/a.xml": "a",
		"/pub/pmc/b.xml": "b",
	})
	server.mu.Lock()
	server.dropOnFirst = true
	server.mu.Unlock()
	tr := NewFTPTransport(config.FTPConfig{Host: server.Addr(), BasePath: "/pub/pmc", DialTimeout: time.Second}, nil)
	defer tr.Close()

	if got := readAll(t, tr, "a.xml"); got != "a" {
		t.Fatalf("unexpected body %q", got)
	}
	if got := readAll(t, tr, "b.xml"); got != "b" {
		t.Fatalf("unexpected body %q", got)
	}
	if server.Logins() != 2 {
		t.Fatalf("expected a reconnect, logins=%d", server.Logins())
	}
}

func TestFTPTransportMissingFileIsPermanent(t *testing.T) {
	t.Parallel()

	server := newFakeFTPServer(t, map[string]string{})
	tr := NewFTPTransport(config.FTPConfig{Host: server.Addr(), BasePath: "/pub/pmc/", DialTimeout: time.Second}, nil)
	defer tr.Close()

	_, err := tr.Open(context.Background(), "missing.xml")
	var te *domain.TransportError
	if !errors.As(err, &te) || te.Retryable {
		t.Fatalf("expected non-retryable TransportError, got %v", err)
	}

	// The slot must be released after a failed Open.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := tr.Open(ctx, "missing.xml"); errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("transfer slot leaked")
	}
}

func TestFTPTransportDialFailureIsRetryable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	tr := NewFTPTransport(config.FTPConfig{Host: addr, DialTimeout: 200 * time.Millisecond}, nil)
	_, err = tr.Open(context.Background(), "x.xml")
	var te *domain.TransportError
	if !errors.As(err, &te) || !te.Retryable {
		t.Fatalf("expected retryable TransportError, got %v", err)
	}
}

func TestFTPFullPath(t *testing.T) {
	t.Parallel()

	tr := NewFTPTransport(config.FTPConfig{BasePath: "/pub/pmc/"}, nil)
	if got := tr.fullPath("/oa_comm/xml/PMC1.xml"); got != "/pub/pmc/oa_comm/xml/PMC1.xml" {
		t.Fatalf("unexpected path %s", got)
	}
}
