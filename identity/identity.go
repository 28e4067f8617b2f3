package identity

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperledger/fabric-protos-go-apiv2/msp"
	"google.golang.org/protobuf/proto"
)

// SigningIdentity pairs an identity with the signer holding its private key.
type SigningIdentity struct {
	Identity Identity
	Signer   *Signer
}

// Identity is an (MSP id, certificate) pair that acts as the creator of
// transactions. It is immutable after construction.
type Identity struct {
	mspID string
	cert  []byte
}

func New(mspID string, certPEM []byte) (Identity, error) {
	if mspID == "" {
		return Identity{}, errors.New("msp id cannot be empty")
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return Identity{}, errors.New("failed to decode PEM certificate")
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return Identity{}, fmt.Errorf("parse certificate: %w", err)
	}
	return Identity{mspID: mspID, cert: certPEM}, nil
}

func (i Identity) MSPID() string {
	return i.mspID
}

// Certificate returns the PEM bytes the identity was created from.
func (i Identity) Certificate() []byte {
	return i.cert
}

// Serialize returns the canonical creator bytes: the encoded msp.SerializedIdentity.
func (i Identity) Serialize() ([]byte, error) {
	return proto.Marshal(&msp.SerializedIdentity{Mspid: i.mspID, IdBytes: i.cert})
}

// CertHash is the SHA-256 of the certificate bytes, used as the TLS cert hash
// in channel headers.
func (i Identity) CertHash() []byte {
	sum := sha256.Sum256(i.cert)
	return sum[:]
}

// FromMSPDir loads an identity and its signer from a Fabric MSP directory
// (keystore/*_sk and signcerts/*.pem).
func FromMSPDir(dir, mspID string) (Identity, *Signer, error) {
	keyFiles, err := filepath.Glob(filepath.Join(dir, "keystore", "*_sk"))
	if err != nil || len(keyFiles) == 0 {
		return Identity{}, nil, fmt.Errorf("no private key found in %s: %w", dir, err)
	}
	keyPEM, err := os.ReadFile(keyFiles[0])
	if err != nil {
		return Identity{}, nil, err
	}
	signer, err := NewSigner(keyPEM)
	if err != nil {
		return Identity{}, nil, err
	}

	certFiles, err := filepath.Glob(filepath.Join(dir, "signcerts", "*.pem"))
	if err != nil || len(certFiles) == 0 {
		return Identity{}, nil, fmt.Errorf("no signcert found in %s: %w", dir, err)
	}
	certPEM, err := os.ReadFile(certFiles[0])
	if err != nil {
		return Identity{}, nil, err
	}
	id, err := New(mspID, certPEM)
	if err != nil {
		return Identity{}, nil, err
	}
	return id, signer, nil
}

// Deserialize decodes creator bytes back into an Identity.
func Deserialize(creator []byte) (Identity, error) {
	sid := &msp.SerializedIdentity{}
	if err := proto.Unmarshal(creator, sid); err != nil {
		return Identity{}, fmt.Errorf("serialized identity: %w", err)
	}
	return New(sid.Mspid, sid.IdBytes)
}

func certPublicKey(certPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("failed to decode PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	pubKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate is not ECDSA")
	}
	return pubKey, nil
}
