package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashmarket/internal/crypto"
)

// maxBodyBytes bounds the size of any request body the API will read.
const maxBodyBytes = 1 << 20 // 1 MiB

// maxRequestSkew is how far a signed request timestamp may drift from
// server time before the request is rejected as a replay.
const maxRequestSkew = 5 * time.Minute

// signedEnvelope carries the typed payload a caller signed together with
// the 65-byte secp256k1 signature over it. The recovered signer address is
// the caller identity for the operation; there are no sessions.
type signedEnvelope struct {
	Payload   crypto.RequestPayload `json:"payload"`
	Signature string                `json:"signature"`
}

// decodeJSON reads and decodes a JSON request body into v, enforcing the
// body size limit and rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// recoverCaller validates the envelope's action and timestamp, then
// recovers the signing address.
func recoverCaller(env signedEnvelope, action string, now time.Time) (common.Address, error) {
	if env.Payload.Action != action {
		return common.Address{}, fmt.Errorf("payload action must be %q, got %q", action, env.Payload.Action)
	}
	ts := time.Unix(env.Payload.Timestamp, 0)
	if d := now.Sub(ts); d > maxRequestSkew || d < -maxRequestSkew {
		return common.Address{}, errors.New("request timestamp outside the accepted window")
	}
	return crypto.RecoverSigner(env.Payload, env.Signature)
}

// parseHash decodes a 0x-prefixed 32-byte hex identifier.
func parseHash(s string) (common.Hash, error) {
	b, err := parseHexBytes(s, common.HashLength)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(b), nil
}

func parseHexBytes(s string, want int) ([]byte, error) {
	if len(s) != 2+2*want || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return nil, fmt.Errorf("expected 0x-prefixed %d-byte hex string", want)
	}
	b := common.FromHex(s)
	if len(b) != want {
		return nil, fmt.Errorf("expected 0x-prefixed %d-byte hex string", want)
	}
	return b, nil
}
