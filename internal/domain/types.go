/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the wire and in-memory shapes shared by the control
// channel, the matching grid and the history store.

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Entry is one line of origin or translated text.
// Decoding is lenient: absent fields and fields of the wrong JSON type
// become empty strings, and a value that is not an object becomes an
// empty Entry.
type Entry struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	*e = Entry{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	e.Name = lenientString(raw["name"])
	e.Message = lenientString(raw["message"])
	return nil
}

// Sequence is an ordered list of entries. A nil Sequence encodes as [].
type Sequence []Entry

func (s Sequence) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Entry(s))
}

func (s *Sequence) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil || raw == nil {
		*s = Sequence{}
		return nil
	}
	out := make(Sequence, len(raw))
	for i, r := range raw {
		_ = out[i].UnmarshalJSON(r)
	}
	*s = out
	return nil
}

// Clone returns an independent copy; the copy of nil is an empty, non-nil Sequence.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}

func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ErrMalformedRequest is returned when a complete JSON document is not a
// request object.
var ErrMalformedRequest = errors.New("malformed request")

// TransPayload is the single translation column carried by a request.
type TransPayload struct {
	Label string   `json:"label"`
	Data  Sequence `json:"data"`
}

func (t *TransPayload) UnmarshalJSON(b []byte) error {
	*t = TransPayload{Data: Sequence{}}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	t.Label = lenientString(raw["label"])
	if d, ok := raw["data"]; ok {
		_ = t.Data.UnmarshalJSON(d)
	}
	return nil
}

// Request is what a peer sends on the control channel.
type Request struct {
	Origin Sequence     `json:"origin"`
	Trans  TransPayload `json:"trans"`
	// Token is only checked when the server has one configured.
	Token string `json:"token,omitempty"`
}

// ParseRequest decodes one complete JSON document. Only a document whose
// top-level value is not an object is an error; everything inside it
// degrades to defaults.
func ParseRequest(doc []byte) (Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if raw == nil {
		return Request{}, fmt.Errorf("%w: top-level value is null", ErrMalformedRequest)
	}
	req := Request{Origin: Sequence{}, Trans: TransPayload{Data: Sequence{}}}
	if o, ok := raw["origin"]; ok {
		_ = req.Origin.UnmarshalJSON(o)
	}
	if tr, ok := raw["trans"]; ok {
		_ = req.Trans.UnmarshalJSON(tr)
	}
	req.Token = lenientString(raw["token"])
	return req, nil
}

// Status values used in responses.
const (
	StatusReceived = "received"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Response is one message written back to the peer. Trans is present only
// on accepted responses, Error only on error responses.
type Response struct {
	Status string    `json:"status"`
	Trans  *Sequence `json:"trans,omitempty"`
	Error  string    `json:"error,omitempty"`
}

func Received() Response { return Response{Status: StatusReceived} }

func Rejected() Response { return Response{Status: StatusRejected} }

// Accepted carries a copy of the edited translation column.
func Accepted(trans Sequence) Response {
	c := trans.Clone()
	return Response{Status: StatusAccepted, Trans: &c}
}

func Failure(msg string) Response { return Response{Status: StatusError, Error: msg} }
