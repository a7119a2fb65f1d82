package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version)"),
	)

	// Request(string action,bytes32 market,uint256 amount,string side,uint256 timestamp)
	requestTypeHash = ethcrypto.Keccak256(
		[]byte("Request(string action,bytes32 market,uint256 amount,string side,uint256 timestamp)"),
	)
)

// RequestPayload is the typed payload a caller signs to authorize a market
// operation. Amount is a decimal string to preserve precision across JSON
// boundaries; it is zero for actions that move no stake (claim, refund).
type RequestPayload struct {
	Action    string `json:"action"`
	Market    string `json:"market"` // 0x-prefixed 32-byte market ID
	Amount    string `json:"amount"`
	Side      string `json:"side"`
	Timestamp int64  `json:"timestamp"`
}

// Signer produces EIP-712 style signatures over operation requests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte // cached domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  buildDomainSeparator("FlashPred", "1"),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs an operation request. The returned string is a
// hex-encoded signature with recovery byte (65 bytes total).
func (s *Signer) SignRequest(req RequestPayload) (string, error) {
	structHash, err := requestStructHash(req)
	if err != nil {
		return "", err
	}

	digest := typedDataHash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// RecoverSigner recovers the address that signed req. It is used by the
// server to establish the caller identity without sessions or passwords.
func RecoverSigner(req RequestPayload, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d bytes", len(sig))
	}

	// go-ethereum expects v in {0,1}.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}

	structHash, err := requestStructHash(req)
	if err != nil {
		return common.Address{}, err
	}
	digest := typedDataHash(buildDomainSeparator("FlashPred", "1"), structHash)

	pub, err := ethcrypto.SigToPub(digest, recovery)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash)).
func buildDomainSeparator(name, version string) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
		),
	)
}

// typedDataHash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func typedDataHash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// requestStructHash encodes and hashes a RequestPayload according to EIP-712.
func requestStructHash(r RequestPayload) ([]byte, error) {
	amount := big.NewInt(0)
	if r.Amount != "" {
		var ok bool
		amount, ok = new(big.Int).SetString(r.Amount, 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("crypto/signer: invalid amount %q", r.Amount)
		}
	}

	market := common.HexToHash(r.Market)

	return ethcrypto.Keccak256(
		concatBytes(
			requestTypeHash,
			ethcrypto.Keccak256([]byte(r.Action)),
			market.Bytes(),
			bigIntTo32Bytes(amount),
			ethcrypto.Keccak256([]byte(r.Side)),
			bigIntTo32Bytes(big.NewInt(r.Timestamp)),
		),
	), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
