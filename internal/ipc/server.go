/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ipc implements the control channel: a TCP listener that accepts
// JSON matching requests, acknowledges them, runs a session and writes the
// outcome back on the same connection.
package ipc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"transmatcher/internal/domain"
	applog "transmatcher/internal/log"
	"transmatcher/internal/session"
)

const (
	DefaultAddr            = ":12345"
	DefaultMaxRequestBytes = 16 << 20
	writeTimeout           = 10 * time.Second
	// maxQueuedDocs bounds the requests waiting behind the running one.
	maxQueuedDocs          = 16
)

var (
	// ErrBind is returned by Listen when the address cannot be bound.
	ErrBind = errors.New("bind control channel")
	// ErrRequestTooLarge is reported when a connection buffers more than
	// MaxRequestBytes without completing a document.
	ErrRequestTooLarge = errors.New("request exceeds size limit")
	ErrUnauthorized    = errors.New("unauthorized")
	errNotListening    = errors.New("server is not listening")
)

// Options configures a Server.
type Options struct {
	Addr            string
	MaxRequestBytes int
	// Token, when set, must match the request's token field.
	Token  string
	Broker *session.Broker
	// OnError observes protocol and transport errors (telemetry hook).
	OnError func(kind string, err error)
}

// Server owns the listening socket and the live connections.
type Server struct {
	opts Options
	log  *slog.Logger

	ln     net.Listener
	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]*conn
}

type conn struct {
	id      uint64
	nc      net.Conn
	peer    string
	started time.Time

	wmu sync.Mutex
	cur atomic.Pointer[session.Session]
}

// ConnInfo describes a live connection.
type ConnInfo struct {
	ID      uint64
	Peer    string
	Since   time.Time
	Session string
}

func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.Broker == nil {
		opts.Broker = session.NewBroker(session.AutoAccept, session.BrokerOptions{SingleSession: true})
	}
	return &Server{
		opts:  opts,
		log:   applog.WithComponent("ipc"),
		conns: make(map[uint64]*conn),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrBind, s.opts.Addr, err)
	}
	s.ln = ln
	s.log.Info("control channel listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx ends. Open sessions are rejected and
// every connection is closed before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errNotListening
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = s.ln.Close()
		for _, ci := range s.Conns() {
			s.log.Info("closing connection", slog.String("peer", ci.Peer),
				slog.String("session", ci.Session), slog.Duration("open", time.Since(ci.Since)))
		}
		s.closeAll()
		return nil
	})
	g.Go(func() error {
		for {
			nc, err := s.ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			g.Go(func() error {
				s.handle(gctx, nc)
				return nil
			})
		}
	})
	err := g.Wait()
	s.log.Info("control channel stopped")
	return err
}

// Conns lists live connections.
func (s *Server) Conns() []ConnInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnInfo, 0, len(s.conns))
	for _, c := range s.conns {
		info := ConnInfo{ID: c.id, Peer: c.peer, Since: c.started}
		if cur := c.cur.Load(); cur != nil {
			info.Session = cur.ID
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) register(nc net.Conn) *conn {
	c := &conn{
		id:      s.nextID.Add(1),
		nc:      nc,
		peer:    nc.RemoteAddr().String(),
		started: time.Now(),
	}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	return c
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	_ = c.nc.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.nc.Close()
	}
}

// frame is one decoded document or the error that ends the stream.
type frame struct {
	doc []byte
	err error
}

func (s *Server) handle(parent context.Context, nc net.Conn) {
	c := s.register(nc)
	ctx, cancel := context.WithCancel(applog.ContextWithPeer(parent, c.peer))
	frames := make(chan frame, maxQueuedDocs)
	readerDone := make(chan struct{})
	defer func() {
		cancel()
		s.unregister(c)
		<-readerDone
		s.log.DebugContext(ctx, "connection closed")
	}()
	s.log.InfoContext(ctx, "connection opened")

	go func() {
		defer close(readerDone)
		s.readLoop(ctx, cancel, c, frames)
	}()

	for fr := range frames {
		if ctx.Err() != nil {
			return
		}
		if fr.err != nil {
			s.reportError(ctx, "decode", fr.err)
			_ = s.write(c, domain.Failure(fr.err.Error()))
			return
		}
		if err := s.process(ctx, c, fr.doc); err != nil {
			if ctx.Err() == nil {
				s.reportError(ctx, "process", err)
			}
			return
		}
	}
}

// readLoop decodes documents straight off the connection and queues them in
// arrival order. It keeps reading while a session runs, so a disconnect is
// seen even with requests queued behind it. A read error (including EOF)
// tears the connection down, which rejects a pending session and discards
// any partial document.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, c *conn, out chan<- frame) {
	defer close(out)
	lr := &docLimitReader{r: c.nc, max: int64(s.opts.MaxRequestBytes)}
	dec := json.NewDecoder(lr)
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if err == nil {
			lr.startDocument(dec.InputOffset())
			if !s.enqueue(ctx, out, frame{doc: raw}) {
				cancel()
				return
			}
			continue
		}

		var syn *json.SyntaxError
		switch {
		case errors.As(err, &syn):
			err = fmt.Errorf("%w: %v", domain.ErrMalformedRequest, err)
		case errors.Is(err, ErrRequestTooLarge):
			err = fmt.Errorf("%w (%d bytes)", ErrRequestTooLarge, s.opts.MaxRequestBytes)
		default:
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.log.DebugContext(ctx, "discarding incomplete document")
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.DebugContext(ctx, "read failed", slog.Any("err", err))
			}
			cancel()
			return
		}
		if !s.enqueue(ctx, out, frame{err: err}) {
			cancel()
			return
		}
		// The stream is unusable, but queued requests still run; watch for
		// the peer leaving meanwhile.
		_, _ = io.Copy(io.Discard, c.nc)
		cancel()
		return
	}
}

// enqueue hands fr to the connection's worker without blocking the reader.
// A full queue ends the connection.
func (s *Server) enqueue(ctx context.Context, out chan<- frame, fr frame) bool {
	select {
	case out <- fr:
		return true
	case <-ctx.Done():
		return false
	default:
		s.reportError(ctx, "queue", fmt.Errorf("more than %d requests queued", maxQueuedDocs))
		return false
	}
}

// docLimitReader fails with ErrRequestTooLarge once more than max bytes
// were read past the end of the last complete document.
type docLimitReader struct {
	r    io.Reader
	max  int64
	read int64
	base int64
}

func (l *docLimitReader) Read(p []byte) (int, error) {
	left := l.base + l.max - l.read
	if left <= 0 {
		return 0, ErrRequestTooLarge
	}
	if int64(len(p)) > left {
		p = p[:left]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	return n, err
}

// startDocument moves the limit window to a document boundary.
func (l *docLimitReader) startDocument(off int64) { l.base = off }

// process handles one request: ack, session, outcome.
func (s *Server) process(ctx context.Context, c *conn, doc []byte) error {
	req, err := domain.ParseRequest(doc)
	if err != nil {
		_ = s.write(c, domain.Failure(err.Error()))
		return err
	}
	if s.opts.Token != "" && subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.opts.Token)) != 1 {
		_ = s.write(c, domain.Failure(ErrUnauthorized.Error()))
		return ErrUnauthorized
	}
	if err := s.write(c, domain.Received()); err != nil {
		return err
	}

	sess := session.FromRequest(req, c.peer)
	c.cur.Store(sess)
	defer c.cur.Store(nil)

	st, runErr := s.opts.Broker.Run(ctx, sess)
	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "peer gone, dropping session result", slog.String("session", sess.ID))
		return ctx.Err()
	}
	if runErr != nil {
		s.reportError(ctx, "session", runErr)
	}
	if st == session.Accepted {
		_, result := sess.Result()
		return s.write(c, domain.Accepted(result))
	}
	return s.write(c, domain.Rejected())
}

// write sends one response document. Failures abort the connection.
func (s *Server) write(c *conn, resp domain.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	b = append(b, '\n')
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.nc.Write(b); err != nil {
		s.log.Warn("write failed", slog.String("peer", c.peer), slog.String("status", resp.Status), slog.Any("err", err))
		_ = c.nc.Close()
		return fmt.Errorf("write %s: %w", resp.Status, err)
	}
	return nil
}

func (s *Server) reportError(ctx context.Context, kind string, err error) {
	s.log.WarnContext(ctx, "control channel error", slog.String("kind", kind), slog.Any("err", err))
	if s.opts.OnError != nil {
		s.opts.OnError(kind, err)
	}
}
