package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/hyperledger/fabric-lib-go/bccsp/utils"
)

// Signer holds an ECDSA P-256 private key and produces the low-S DER
// signatures the network requires.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner parses a PKCS#8 PEM private key. The key is usually found in the
// MSP keystore (priv_sk).
func NewSigner(keyPEM []byte) (*Signer, error) {
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// Sign hashes the message with SHA-256 and signs it. The s scalar is
// normalized to the lower half of the curve order before DER encoding;
// the network rejects high-S signatures.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}

	sv, err = utils.ToLowS(&s.key.PublicKey, sv)
	if err != nil {
		return nil, err
	}

	return utils.MarshalECDSASignature(r, sv)
}

// VerifySignature checks a signature over a message against the public key in
// a PEM certificate. It rejects signatures that are not in low-S form.
func VerifySignature(certPEM, signature, message []byte) error {
	pubKey, err := certPublicKey(certPEM)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(message)
	ok, err := verifyECDSA(pubKey, signature, digest[:])
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if !ok {
		return errors.New("invalid signature")
	}
	return nil
}

func verifyECDSA(k *ecdsa.PublicKey, signature, digest []byte) (bool, error) {
	r, s, err := utils.UnmarshalECDSASignature(signature)
	if err != nil {
		return false, fmt.Errorf("unmarshal signature: %w", err)
	}

	lowS, err := utils.IsLowS(k, s)
	if err != nil {
		return false, err
	}
	if !lowS {
		return false, fmt.Errorf("invalid S, must be smaller than half the order [%s][%s]", s, utils.GetCurveHalfOrdersAt(k.Curve))
	}

	return ecdsa.Verify(k, digest, r, s), nil
}

func parsePrivateKey(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
	}
	pk, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an ECDSA private key")
	}
	return pk, nil
}
