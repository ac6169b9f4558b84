package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"PMCMirror/internal/config"
	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

// FTPName is the transport name reported in events and captures.
const FTPName = "ftp"

// FTPTransport reads source files over one persistent FTP control connection.
// Transfers are serialized: a body must be closed before the next Open proceeds.
type FTPTransport struct {
	addr        string
	basePath    string
	user        string
	password    string
	dialTimeout time.Duration
	logger      *slog.Logger

	sem  chan struct{}
	conn *ftp.ServerConn
}

var _ ports.Transport = (*FTPTransport)(nil)

// NewFTPTransport does not dial; the connection is opened on first use.
func NewFTPTransport(cfg config.FTPConfig, logger *slog.Logger) *FTPTransport {
	user, password := cfg.User, cfg.Password
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	if logger != nil {
		logger = logger.With("component", "ftp")
	}
	return &FTPTransport{
		addr:        cfg.Host,
		basePath:    cfg.BasePath,
		user:        user,
		password:    password,
		dialTimeout: cfg.DialTimeout,
		logger:      logger,
		sem:         make(chan struct{}, 1),
	}
}

// Name implements ports.Transport.
func (t *FTPTransport) Name() string { return FTPName }

// Open retrieves path below the configured base path. A broken connection is
// re-established once before the error is returned.
func (t *FTPTransport) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	full := t.fullPath(p)
	resp, err := t.retr(ctx, full)
	if err != nil && !ftpPermanent(err) && ctx.Err() == nil {
		t.warn("ftp retrieve failed, reconnecting", "path", full, "error", err)
		t.closeConn()
		resp, err = t.retr(ctx, full)
	}
	if err != nil {
		<-t.sem
		return nil, &domain.TransportError{Transport: FTPName, Path: p, Retryable: !ftpPermanent(err), Err: err}
	}
	return &ftpBody{resp: resp, transport: t}, nil
}

// Close ends the control connection.
func (t *FTPTransport) Close() error {
	t.sem <- struct{}{}
	defer func() { <-t.sem }()
	t.closeConn()
	return nil
}

func (t *FTPTransport) fullPath(p string) string {
	return path.Join("/", strings.TrimSuffix(t.basePath, "/"), strings.TrimPrefix(p, "/"))
}

func (t *FTPTransport) retr(ctx context.Context, full string) (*ftp.Response, error) {
	if err := t.ensureConn(ctx); err != nil {
		return nil, err
	}
	resp, err := t.conn.Retr(full)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = resp.SetDeadline(deadline)
	}
	return resp, nil
}

func (t *FTPTransport) ensureConn(ctx context.Context) error {
	if t.conn != nil {
		if err := t.conn.NoOp(); err == nil {
			return nil
		}
		t.debug("ftp connection lost")
		t.closeConn()
	}

	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if t.dialTimeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(t.dialTimeout))
	}
	conn, err := ftp.Dial(t.addr, opts...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return fmt.Errorf("login %s: %w", t.addr, err)
	}
	t.conn = conn
	return nil
}

func (t *FTPTransport) closeConn() {
	if t.conn == nil {
		return
	}
	_ = t.conn.Quit()
	t.conn = nil
}

func (t *FTPTransport) warn(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, args...)
	}
}

func (t *FTPTransport) debug(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, args...)
	}
}

// ftpBody releases the transfer slot when closed. A failed close leaves the
// control connection in an unknown state, so it is dropped.
type ftpBody struct {
	resp      *ftp.Response
	transport *FTPTransport
	closed    bool
}

func (b *ftpBody) Read(p []byte) (int, error) {
	return b.resp.Read(p)
}

func (b *ftpBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.resp.Close()
	if err != nil {
		b.transport.closeConn()
	}
	<-b.transport.sem
	return err
}

// ftpPermanent reports 5xx replies (file unavailable, not logged in).
func ftpPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}
