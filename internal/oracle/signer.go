package oracle

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// quoteMessage is the canonical preimage of a quote signature.
// Format: "depegshield|{asset}|{price 18dp integer}|{unix ts}|{heartbeat s}".
func quoteMessage(q Quote) string {
	return fmt.Sprintf("depegshield|%s|%s|%d|%d",
		q.Asset,
		q.Price.Shift(18).Truncate(0).String(),
		q.Timestamp.Unix(),
		int64(q.Heartbeat/time.Second),
	)
}

// hashMessage applies the EIP-191 personal-message prefix before hashing.
func hashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// Signer signs outgoing quotes with an ECDSA key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewSigner parses a hex-encoded private key.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &Signer{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

// Address returns the signer's lowercase hex address.
func (s *Signer) Address() string { return s.address }

// Sign produces the hex signature over the quote's canonical message.
func (s *Signer) Sign(q Quote) (string, error) {
	sig, err := crypto.Sign(hashMessage(quoteMessage(q)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign quote: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// VerifyQuote recovers the signer from the quote's signature and checks it
// against the expected address. Consumers call this independently of any
// validation the aggregator performed.
func VerifyQuote(q Quote, expectedAddress string) error {
	sigHex := strings.TrimPrefix(q.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	// Normalize v from 27/28 to the 0/1 Ecrecover expects.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(hashMessage(quoteMessage(q)), sig)
	if err != nil {
		return fmt.Errorf("recover public key: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("unmarshal public key: %w", err)
	}

	recovered := strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex())
	if !strings.EqualFold(recovered, expectedAddress) {
		return fmt.Errorf("signature mismatch: expected %s, got %s", strings.ToLower(expectedAddress), recovered)
	}
	return nil
}
