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
	"fmt"
	"net"
	"time"

	"transmatcher/internal/domain"
)

// ErrRejected is returned by Client.Match when the user rejected the match.
var ErrRejected = errors.New("match rejected")

// RemoteError is an error response from the server.
type RemoteError struct{ Msg string }

func (e *RemoteError) Error() string { return "server error: " + e.Msg }

// Client talks to a control channel.
type Client struct {
	Addr  string
	Token string
	// DialTimeout bounds connection setup only; the outcome is awaited for
	// as long as ctx allows.
	DialTimeout time.Duration
}

func NewClient(addr string) *Client {
	if addr == "" {
		addr = "localhost" + DefaultAddr
	}
	return &Client{Addr: addr, DialTimeout: 5 * time.Second}
}

// Match sends one request and waits for the user's decision. It returns
// the edited column on accept.
func (c *Client) Match(ctx context.Context, origin domain.Sequence, label string, data domain.Sequence) (domain.Sequence, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer nc.Close()

	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
	defer stop()

	req := domain.Request{
		Origin: origin,
		Trans:  domain.TransPayload{Label: label, Data: data},
		Token:  c.Token,
	}
	if err := json.NewEncoder(nc).Encode(req); err != nil {
		return nil, c.wrap(ctx, "send request", err)
	}

	dec := json.NewDecoder(nc)
	var ack domain.Response
	if err := dec.Decode(&ack); err != nil {
		return nil, c.wrap(ctx, "read ack", err)
	}
	switch ack.Status {
	case domain.StatusReceived:
	case domain.StatusError:
		return nil, &RemoteError{Msg: ack.Error}
	default:
		return nil, fmt.Errorf("unexpected ack status %q", ack.Status)
	}

	var out domain.Response
	if err := dec.Decode(&out); err != nil {
		return nil, c.wrap(ctx, "read outcome", err)
	}
	switch out.Status {
	case domain.StatusAccepted:
		if out.Trans == nil {
			return domain.Sequence{}, nil
		}
		return *out.Trans, nil
	case domain.StatusRejected:
		return nil, ErrRejected
	case domain.StatusError:
		return nil, &RemoteError{Msg: out.Error}
	default:
		return nil, fmt.Errorf("unexpected outcome status %q", out.Status)
	}
}

func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%s: %w", op, err)
}
