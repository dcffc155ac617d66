package cloud

import (
	"encoding/json"
	"fmt"

	"tuya-ble-cloud/internal/platform/errors"
)

// Remote codes that mean the held token can no longer be used.
const (
	codeSignInvalid  = 1004
	codeTokenInvalid = 1010
	codeTokenExpired = 1011
)

// Envelope is the uniform response shape of every cloud call. Local failures
// are reported in the same shape with Kind set.
type Envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	Code    int             `json:"code,omitempty"`
	T       int64           `json:"t,omitempty"`

	Kind errors.Kind `json:"-"`
}

func failure(kind errors.Kind, msg string) *Envelope {
	return &Envelope{Success: false, Msg: msg, Kind: kind}
}

// FailureKind classifies a failed envelope. Rejections reported by the remote
// service count as auth failures.
func (e *Envelope) FailureKind() errors.Kind {
	if e == nil || e.Success {
		return ""
	}
	if e.Kind != "" {
		return e.Kind
	}
	return errors.KindAuth
}

// TokenRejected reports whether the remote service refused the access token.
func (e *Envelope) TokenRejected() bool {
	if e == nil || e.Success {
		return false
	}
	switch e.Code {
	case codeSignInvalid, codeTokenInvalid, codeTokenExpired:
		return true
	}
	return false
}

// Err converts a failed envelope into a typed error; successful envelopes yield nil.
func (e *Envelope) Err(op string) error {
	if e == nil || e.Success {
		return nil
	}
	msg := e.Msg
	if msg == "" {
		msg = "Unknown error"
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	return errors.New(e.FailureKind(), op, msg)
}

// Decode unmarshals the result payload into v.
func (e *Envelope) Decode(v any) error {
	if e == nil || len(e.Result) == 0 {
		return errors.New(errors.KindMalformed, "cloud.decode", "missing result")
	}
	if err := json.Unmarshal(e.Result, v); err != nil {
		return errors.Wrap(errors.KindMalformed, "cloud.decode", "unexpected result shape", err)
	}
	return nil
}

// decodeInto decodes the result or returns a malformed failure envelope.
func (e *Envelope) decodeInto(v any) *Envelope {
	if err := e.Decode(v); err != nil {
		return failure(errors.KindMalformed, err.Error())
	}
	return nil
}
