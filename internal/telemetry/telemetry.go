/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry is an opt-in sender for anonymous usage events and
// crash uploads. Events carry counts and states only, never entry text.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	applog "transmatcher/internal/log"
	"transmatcher/internal/session"
	"transmatcher/internal/version"
)

// Event names.
const (
	EventSessionStarted  = "session_started"
	EventSessionAccepted = "session_accepted"
	EventSessionRejected = "session_rejected"
	EventIPCError        = "ipc_error"
)

// Config holds runtime configuration for telemetry and crash uploads.
// All telemetry is strictly opt-in and disabled by default.
//
// Environment variables (read by FromEnv):
// - TM_TELEMETRY_OPT_IN: "1", "true", "yes" to enable metrics
// - TM_TELEMETRY_URL: URL to POST JSON events to
// - TM_CRASH_UPLOAD_URL: URL to POST crash reports to
// - TM_TELEMETRY_TIMEOUT_MS: request timeout, default 1500ms
// - TM_TELEMETRY_DEBUG: if set, logs send attempts
//
// Without URLs events are dropped even if opt-in is true.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("TM_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("TM_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("TM_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("TM_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("TM_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Client sends events from a bounded queue on its own goroutine and drops
// them on errors or when the queue is full.
type Client struct {
	cfg    Config
	log    *slog.Logger
	cli    *http.Client
	q      chan map[string]any
	once   sync.Once
	closed chan struct{}
	wg     sync.WaitGroup
}

// New constructs a client. Close it to stop the sender goroutine.
func New(cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		cli:    &http.Client{Timeout: cfg.Timeout},
		q:      make(chan map[string]any, 64),
		closed: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Enabled reports whether telemetry is opted in and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Event queues a small JSON event if enabled.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	payload := map[string]any{
		"name":    name,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"version": version.String(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	for k, v := range props {
		payload[k] = v
	}
	select {
	case c.q <- payload:
	default:
	}
}

// SessionStarted is a session.Broker OnStart hook.
func (c *Client) SessionStarted(s *session.Session) {
	c.Event(EventSessionStarted, map[string]any{
		"origin_rows": len(s.Origin),
		"trans_rows":  len(s.Data),
	})
}

// SessionFinished is a session.Broker OnFinish hook.
func (c *Client) SessionFinished(s *session.Session) {
	st, res := s.Result()
	props := map[string]any{
		"duration_ms": s.Finished().Sub(s.Started).Milliseconds(),
	}
	name := EventSessionRejected
	if st == session.Accepted {
		name = EventSessionAccepted
		props["result_rows"] = len(res)
	}
	c.Event(name, props)
}

// IPCError is an ipc.Options OnError hook. Only the error kind is sent.
func (c *Client) IPCError(kind string, _ error) {
	c.Event(EventIPCError, map[string]any{"kind": kind})
}

// Flush waits briefly for the queue to drain.
func (c *Client) Flush(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		if len(c.q) == 0 || time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Close stops the sender goroutine and waits for it.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
	c.wg.Wait()
}

func (c *Client) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case item := <-c.q:
			c.post(c.cfg.EventsURL, "application/json", mustJSON(item), "event")
		}
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (c *Client) post(url, contentType string, body []byte, what string) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.String("what", what), slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry sent", slog.String("what", what), slog.Int("status", resp.StatusCode))
	}
}

// UploadCrash posts a crash report synchronously if opted in. It is called
// on the way out of a crashed process, so it does not go through the queue.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", report, "crash")
}
