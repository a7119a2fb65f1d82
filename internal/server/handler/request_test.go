package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashmarket/internal/crypto"
	"github.com/alanyoungcy/flashmarket/internal/domain"
)

const testKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func signedTestEnvelope(t *testing.T, action string, ts int64) signedEnvelope {
	t.Helper()
	signer, err := crypto.NewSigner(testKeyHex)
	require.NoError(t, err)

	payload := crypto.RequestPayload{
		Action:    action,
		Market:    "0xab00000000000000000000000000000000000000000000000000000000000000",
		Amount:    "100",
		Side:      "yes",
		Timestamp: ts,
	}
	sig, err := signer.SignRequest(payload)
	require.NoError(t, err)
	return signedEnvelope{Payload: payload, Signature: sig}
}

// --- recoverCaller ---

func TestRecoverCaller_AcceptsFreshSignedRequest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	env := signedTestEnvelope(t, "place_bet", now.Unix())

	signer, err := crypto.NewSigner(testKeyHex)
	require.NoError(t, err)

	caller, err := recoverCaller(env, "place_bet", now)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), caller)
}

func TestRecoverCaller_RejectsActionMismatch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	env := signedTestEnvelope(t, "place_bet", now.Unix())

	_, err := recoverCaller(env, "claim_winnings", now)
	assert.Error(t, err)
}

func TestRecoverCaller_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	env := signedTestEnvelope(t, "place_bet", now.Add(-6*time.Minute).Unix())

	_, err := recoverCaller(env, "place_bet", now)
	assert.Error(t, err)
}

func TestRecoverCaller_RejectsFutureTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	env := signedTestEnvelope(t, "place_bet", now.Add(6*time.Minute).Unix())

	_, err := recoverCaller(env, "place_bet", now)
	assert.Error(t, err)
}

func TestRecoverCaller_RejectsTamperedPayload(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	env := signedTestEnvelope(t, "place_bet", now.Unix())
	env.Payload.Amount = "999"

	signer, err := crypto.NewSigner(testKeyHex)
	require.NoError(t, err)

	caller, err := recoverCaller(env, "place_bet", now)
	if err == nil {
		assert.NotEqual(t, signer.Address(), caller)
	}
}

// --- parseHash ---

func TestParseHash_RoundTrip(t *testing.T) {
	in := "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	h, err := parseHash(in)
	require.NoError(t, err)
	assert.Equal(t, in, h.Hex())
}

func TestParseHash_RejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"deadbeef",
		"0x1234",
		"0x" + "zz" + "adbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	}
	for _, in := range cases {
		_, err := parseHash(in)
		assert.Error(t, err, "input %q", in)
	}
}

// --- parseListOpts ---

func TestParseListOpts_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/markets", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}

func TestParseListOpts_ClampsAndIgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest("GET", "/markets?limit=9999&offset=abc", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}

func TestParseListOpts_HonorsQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/markets?limit=10&offset=30", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, 30, opts.Offset)
}

// --- domainStatus ---

func TestDomainStatus_MapsErrorFamilies(t *testing.T) {
	assert.Equal(t, 404, domainStatus(domain.ErrNotFound))
	assert.Equal(t, 400, domainStatus(domain.ErrInvalidAmount))
	assert.Equal(t, 403, domainStatus(domain.ErrInvalidKeeper))
	assert.Equal(t, 409, domainStatus(domain.ErrBettingClosed))
	assert.Equal(t, 409, domainStatus(domain.ErrAlreadyClaimed))
	assert.Equal(t, 502, domainStatus(domain.ErrStaleOracleReading))
	assert.Equal(t, 422, domainStatus(domain.ErrOverflow))
	assert.Equal(t, 500, domainStatus(assert.AnError))
}
