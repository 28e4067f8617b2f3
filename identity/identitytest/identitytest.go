// Package identitytest generates throwaway credentials for tests that need a
// real key/certificate pair without fixtures on disk.
package identitytest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/arner/fabric-sdk/identity"
)

// New returns a self-signed identity and its signer for the given MSP id.
func New(t *testing.T, mspID string) (identity.Identity, *identity.Signer) {
	t.Helper()
	certPEM, keyPEM := Credentials(t, mspID)

	signer, err := identity.NewSigner(keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	id, err := identity.New(mspID, certPEM)
	if err != nil {
		t.Fatal(err)
	}
	return id, signer
}

// Credentials returns a self-signed ECDSA P-256 certificate and its PKCS#8
// private key, both PEM encoded.
func Credentials(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM
}
