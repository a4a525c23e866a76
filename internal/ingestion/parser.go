package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ed25519"

	"YokoFund/internal/address"
	"YokoFund/internal/event"
)

var (
	ErrMalformed = errors.New("malformed transaction")
	ErrSignature = errors.New("invalid transaction signature")
)

// ParseTransaction decodes one wire transaction. Keys are base58 strings,
// instruction data is base64 and the timestamp is RFC 3339.
func ParseTransaction(data []byte) (*event.Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var tx event.Transaction
	if err := dec.Decode(&tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after transaction", ErrMalformed)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// VerifySignatures checks that every declared signer produced a valid ed25519
// signature over tx.Message() and that nobody else signed.
func VerifySignatures(tx *event.Transaction) error {
	msg := tx.Message()
	signed := make(map[address.Pubkey]bool, len(tx.Signatures))

	for _, sig := range tx.Signatures {
		if !tx.HasSigner(sig.Signer) {
			return fmt.Errorf("%w: %s is not a declared signer", ErrSignature, sig.Signer)
		}
		if signed[sig.Signer] {
			return fmt.Errorf("%w: %s signed twice", ErrSignature, sig.Signer)
		}
		if len(sig.Signature) != ed25519.SignatureSize {
			return fmt.Errorf("%w: %s signature is %d bytes", ErrSignature, sig.Signer, len(sig.Signature))
		}
		if !ed25519.Verify(ed25519.PublicKey(sig.Signer[:]), msg, sig.Signature) {
			return fmt.Errorf("%w: %s", ErrSignature, sig.Signer)
		}
		signed[sig.Signer] = true
	}

	for _, s := range tx.Signers {
		if !signed[s] {
			return fmt.Errorf("%w: missing signature for %s", ErrSignature, s)
		}
	}
	return nil
}

// Sign appends a signature for each key. Every key's public half must already
// be listed in tx.Signers, and the transaction must not change afterwards.
func Sign(tx *event.Transaction, keys ...ed25519.PrivateKey) error {
	msg := tx.Message()
	for _, key := range keys {
		signer, err := address.FromBytes(key.Public().(ed25519.PublicKey))
		if err != nil {
			return err
		}
		if !tx.HasSigner(signer) {
			return fmt.Errorf("%s is not a declared signer", signer)
		}
		tx.Signatures = append(tx.Signatures, event.Signature{
			Signer:    signer,
			Signature: ed25519.Sign(key, msg),
		})
	}
	return nil
}

// KeyAddress returns the account address controlled by key.
func KeyAddress(key ed25519.PrivateKey) address.Pubkey {
	var pk address.Pubkey
	copy(pk[:], key.Public().(ed25519.PublicKey))
	return pk
}
