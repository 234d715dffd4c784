/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	gojsonschema "github.com/xeipuuv/gojsonschema"
	"go.uber.org/goleak"

	"transmatcher/internal/domain"
	"transmatcher/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleRequest = `{"origin":[{"name":"A","message":"hi"}],"trans":{"label":"fr","data":[{"name":"B","message":"yo"}]}}`

type harness struct {
	srv   *Server
	addr  string
	shown chan *session.Session
}

// startServer runs a server on a loopback port whose presenter hands every
// session to the test through h.shown.
func startServer(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{shown: make(chan *session.Session, 8)}
	broker := session.NewBroker(session.PresenterFunc(func(_ context.Context, s *session.Session) error {
		h.shown <- s
		return nil
	}), session.BrokerOptions{SingleSession: true})
	opts := Options{Addr: "127.0.0.1:0", Broker: broker}
	if mutate != nil {
		mutate(&opts)
	}
	h.srv = NewServer(opts)
	if err := h.srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	h.addr = h.srv.Addr().String()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Serve did not stop")
		}
	})
	return h
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", h.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) nextSession(t *testing.T) *session.Session {
	t.Helper()
	select {
	case s := <-h.shown:
		return s
	case <-time.After(5 * time.Second):
		t.Fatalf("no session presented")
		return nil
	}
}

func readMsg(t *testing.T, c net.Conn, dec *json.Decoder) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return string(raw)
}

func send(t *testing.T, c net.Conn, s string) {
	t.Helper()
	if _, err := c.Write([]byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestAcceptWithoutEdits(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, sampleRequest)

	if got := readMsg(t, c, dec); got != `{"status":"received"}` {
		t.Fatalf("first message = %s", got)
	}
	s := h.nextSession(t)
	if s.Label != "fr" {
		t.Fatalf("label = %q", s.Label)
	}
	s.Accept(s.NewModel().Trans(s.Label))
	want := `{"status":"accepted","trans":[{"name":"B","message":"yo"}]}`
	if got := readMsg(t, c, dec); got != want {
		t.Fatalf("outcome = %s, want %s", got, want)
	}
}

func TestDeleteRowThenAccept(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, sampleRequest)
	readMsg(t, c, dec)

	s := h.nextSession(t)
	m := s.NewModel()
	col, _ := m.Column(s.Label)
	if !m.RemoveAt(0, col) {
		t.Fatalf("RemoveAt refused")
	}
	s.Accept(m.Trans(s.Label))
	if got := readMsg(t, c, dec); got != `{"status":"accepted","trans":[]}` {
		t.Fatalf("outcome = %s", got)
	}
}

func TestReject(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, sampleRequest)
	readMsg(t, c, dec)
	h.nextSession(t).Reject()
	if got := readMsg(t, c, dec); got != `{"status":"rejected"}` {
		t.Fatalf("outcome = %s", got)
	}
}

func TestSplitDocument(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	half := len(sampleRequest) / 2
	send(t, c, sampleRequest[:half])

	_ = c.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 64)
	n, err := c.Read(buf)
	var ne net.Error
	if n != 0 || !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected silence after partial document, got %d bytes, err %v", n, err)
	}
	_ = c.SetReadDeadline(time.Time{})

	send(t, c, sampleRequest[half:])
	dec := json.NewDecoder(c)
	if got := readMsg(t, c, dec); got != `{"status":"received"}` {
		t.Fatalf("message = %s", got)
	}
	s := h.nextSession(t)
	s.Reject()
	readMsg(t, c, dec)
	select {
	case extra := <-h.shown:
		t.Fatalf("unexpected second session %s", extra.ID)
	default:
	}
}

func TestConcatenatedDocumentsInOrder(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	dec := json.NewDecoder(c)
	second := strings.Replace(sampleRequest, `"fr"`, `"de"`, 1)
	send(t, c, sampleRequest+"\n"+second)

	if got := readMsg(t, c, dec); got != `{"status":"received"}` {
		t.Fatalf("first ack = %s", got)
	}
	s1 := h.nextSession(t)
	if s1.Label != "fr" {
		t.Fatalf("first session label = %q", s1.Label)
	}
	s1.Reject()
	if got := readMsg(t, c, dec); got != `{"status":"rejected"}` {
		t.Fatalf("first outcome = %s", got)
	}
	if got := readMsg(t, c, dec); got != `{"status":"received"}` {
		t.Fatalf("second ack = %s", got)
	}
	s2 := h.nextSession(t)
	if s2.Label != "de" {
		t.Fatalf("second session label = %q", s2.Label)
	}
	s2.Accept(domain.Sequence{{Name: "X", Message: "y"}})
	if got := readMsg(t, c, dec); got != `{"status":"accepted","trans":[{"name":"X","message":"y"}]}` {
		t.Fatalf("second outcome = %s", got)
	}
}

func TestMalformedDocumentClosesConnection(t *testing.T) {
	for name, doc := range map[string]string{
		"syntax":     `{"origin": [}`,
		"not object": `[1,2,3]`,
		"null":       `null`,
	} {
		t.Run(name, func(t *testing.T) {
			h := startServer(t, nil)
			c := h.dial(t)
			dec := json.NewDecoder(c)
			send(t, c, doc)
			got := readMsg(t, c, dec)
			var resp domain.Response
			if err := json.Unmarshal([]byte(got), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Status != domain.StatusError || resp.Error == "" {
				t.Fatalf("response = %s", got)
			}
			var more json.RawMessage
			_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
			if err := dec.Decode(&more); err == nil {
				t.Fatalf("expected connection to close, got %s", more)
			}
		})
	}
}

func TestLenientFieldsStillProceed(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, `{"origin":5,"trans":{"label":7,"data":[{"name":1},"x"]}}`)
	if got := readMsg(t, c, dec); got != `{"status":"received"}` {
		t.Fatalf("ack = %s", got)
	}
	s := h.nextSession(t)
	if len(s.Origin) != 0 || s.Label != "" || len(s.Data) != 2 {
		t.Fatalf("unexpected session origin=%v label=%q data=%v", s.Origin, s.Label, s.Data)
	}
	s.Accept(s.Data)
	if got := readMsg(t, c, dec); got != `{"status":"accepted","trans":[{"name":"","message":""},{"name":"","message":""}]}` {
		t.Fatalf("outcome = %s", got)
	}
}

func TestDisconnectRejectsPendingSession(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	send(t, c, sampleRequest)
	s := h.nextSession(t)
	_ = c.Close()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session not finished after disconnect")
	}
	if s.State() != session.Rejected {
		t.Fatalf("state = %v", s.State())
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(h.srv.Conns()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection registry not cleaned: %+v", h.srv.Conns())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisconnectWithQueuedRequestRejectsSession(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, sampleRequest+sampleRequest)
	if got := readMsg(t, c, dec); got != `{"status":"received"}` {
		t.Fatalf("ack = %s", got)
	}
	s := h.nextSession(t)
	_ = c.Close()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session still pending after disconnect; conns=%d", len(h.srv.Conns()))
	}
	if s.State() != session.Rejected {
		t.Fatalf("state = %v", s.State())
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(h.srv.Conns()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection registry not cleaned: %+v", h.srv.Conns())
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case extra := <-h.shown:
		t.Fatalf("queued request ran after disconnect: %s", extra.ID)
	default:
	}
}

func TestLargeRequestInChunks(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	dec := json.NewDecoder(c)
	msg := strings.Repeat("x", 12<<20)
	doc := `{"origin":[{"name":"A","message":"` + msg + `"}],"trans":{"label":"fr","data":[]}}`

	start := time.Now()
	for off := 0; off < len(doc); off += 32 << 10 {
		end := min(off+32<<10, len(doc))
		send(t, c, doc[off:end])
	}
	if got := readMsg(t, c, dec); got != `{"status":"received"}` {
		t.Fatalf("ack = %.80s", got)
	}
	if d := time.Since(start); d > 4*time.Second {
		t.Fatalf("receiving %d bytes took %v", len(doc), d)
	}
	s := h.nextSession(t)
	if len(s.Origin) != 1 || len(s.Origin[0].Message) != len(msg) {
		t.Fatalf("origin not decoded intact")
	}
	s.Reject()
	readMsg(t, c, dec)
}

func TestDocLimitReaderWindow(t *testing.T) {
	lr := &docLimitReader{r: strings.NewReader(strings.Repeat("a", 100)), max: 10}
	buf := make([]byte, 64)
	n, err := lr.Read(buf)
	if n != 10 || err != nil {
		t.Fatalf("first read = %d, %v", n, err)
	}
	if _, err := lr.Read(buf); !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("read past the limit: err = %v", err)
	}
	lr.startDocument(8)
	if n, err := lr.Read(buf); n != 8 || err != nil {
		t.Fatalf("read after boundary = %d, %v", n, err)
	}
}

func TestConnsReportsActiveSession(t *testing.T) {
	h := startServer(t, nil)
	c := h.dial(t)
	send(t, c, sampleRequest)
	s := h.nextSession(t)
	conns := h.srv.Conns()
	if len(conns) != 1 || conns[0].Session != s.ID {
		t.Fatalf("conns = %+v", conns)
	}
	s.Reject()
}

func TestRequestTooLarge(t *testing.T) {
	h := startServer(t, func(o *Options) { o.MaxRequestBytes = 64 })
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, `{"origin":"`+strings.Repeat("x", 200))
	got := readMsg(t, c, dec)
	if !strings.Contains(got, `"status":"error"`) || !strings.Contains(got, "size limit") {
		t.Fatalf("response = %s", got)
	}
}

func TestTokenRequired(t *testing.T) {
	h := startServer(t, func(o *Options) { o.Token = "s3cret" })
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, sampleRequest)
	if got := readMsg(t, c, dec); got != `{"status":"error","error":"unauthorized"}` {
		t.Fatalf("response = %s", got)
	}

	c2 := h.dial(t)
	dec2 := json.NewDecoder(c2)
	send(t, c2, strings.TrimSuffix(sampleRequest, "}")+`,"token":"s3cret"}`)
	if got := readMsg(t, c2, dec2); got != `{"status":"received"}` {
		t.Fatalf("ack = %s", got)
	}
	h.nextSession(t).Reject()
	readMsg(t, c2, dec2)
}

func TestListenReportsBindFailure(t *testing.T) {
	h := startServer(t, nil)
	srv := NewServer(Options{Addr: h.addr})
	if err := srv.Listen(); !errors.Is(err, ErrBind) {
		t.Fatalf("expected ErrBind, got %v", err)
	}
	if err := srv.Serve(context.Background()); err == nil {
		t.Fatalf("Serve without Listen should fail")
	}
}

func TestHeadlessDefaultBroker(t *testing.T) {
	srv := NewServer(Options{Addr: "127.0.0.1:0"})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	cl := NewClient(srv.Addr().String())
	got, err := cl.Match(context.Background(), domain.Sequence{{Name: "A", Message: "hi"}}, "fr", domain.Sequence{{Name: "B", Message: "yo"}})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if diff := cmp.Diff(domain.Sequence{{Name: "B", Message: "yo"}}, got); diff != "" {
		t.Fatalf("result mismatch:\n%s", diff)
	}
}

func TestResponsesConformToSchema(t *testing.T) {
	schemaBytes, err := os.ReadFile(filepath.Join("..", "..", "docs", "ipc.schema.json"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	h := startServer(t, nil)

	var docs []string
	c := h.dial(t)
	dec := json.NewDecoder(c)
	send(t, c, sampleRequest)
	docs = append(docs, readMsg(t, c, dec))
	h.nextSession(t).Accept(domain.Sequence{{Name: "B", Message: "edited"}})
	docs = append(docs, readMsg(t, c, dec))
	send(t, c, sampleRequest)
	docs = append(docs, readMsg(t, c, dec))
	h.nextSession(t).Reject()
	docs = append(docs, readMsg(t, c, dec))
	send(t, c, `{bad`)
	docs = append(docs, readMsg(t, c, dec))
	docs = append(docs, sampleRequest)

	for _, d := range docs {
		res, err := schema.Validate(gojsonschema.NewStringLoader(d))
		if err != nil {
			t.Fatalf("validate %s: %v", d, err)
		}
		if !res.Valid() {
			for _, e := range res.Errors() {
				t.Logf("schema error: %s", e)
			}
			t.Fatalf("document does not conform: %s", d)
		}
	}

	res, err := schema.Validate(gojsonschema.NewStringLoader(`{"status":"rejected","trans":[]}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Valid() {
		t.Fatalf("rejected response with trans must not validate")
	}
}
