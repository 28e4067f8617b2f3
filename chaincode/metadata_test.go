package chaincode_test

import (
	"os"
	"path"
	"testing"

	"github.com/arner/fabric-sdk/chaincode"
	"github.com/arner/fabric-sdk/identity/identitytest"
)

func TestMetadataFromEnv(t *testing.T) {
	t.Setenv("CORE_CHAINCODE_ID_NAME", "basic:1.0")
	t.Setenv("CORE_PEER_ADDRESS", "peer0.org1.example.com:7052")
	t.Setenv("CORE_PEER_LOCALMSPID", "Org1MSP")
	t.Setenv("CORE_PEER_TLS_ENABLED", "false")

	md, err := chaincode.MetadataFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if md.ChaincodeID.Name != "basic" || md.ChaincodeID.Version != "1.0" {
		t.Errorf("chaincode id %s:%s", md.ChaincodeID.Name, md.ChaincodeID.Version)
	}
	if md.PeerAddress != "peer0.org1.example.com:7052" {
		t.Errorf("peer address %s", md.PeerAddress)
	}
	if md.MSPID != "Org1MSP" {
		t.Errorf("msp id %s", md.MSPID)
	}
	if md.RootCertPEM != nil {
		t.Error("no TLS material expected with TLS disabled")
	}
}

func TestMetadataFromEnvWithTLS(t *testing.T) {
	dir := t.TempDir()
	caPEM, _ := identitytest.Credentials(t, "peer-ca")
	certPEM, keyPEM := identitytest.Credentials(t, "chaincode")

	rootPath := path.Join(dir, "root.crt")
	certPath := path.Join(dir, "client.crt")
	keyPath := path.Join(dir, "client.key")
	for p, b := range map[string][]byte{rootPath: caPEM, certPath: certPEM, keyPath: keyPEM} {
		if err := os.WriteFile(p, b, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	t.Setenv("CORE_CHAINCODE_ID_NAME", "basic:1.0")
	t.Setenv("CORE_PEER_ADDRESS", "peer0.org1.example.com:7052")
	t.Setenv("CORE_PEER_LOCALMSPID", "Org1MSP")
	t.Setenv("CORE_PEER_TLS_ENABLED", "true")
	t.Setenv("CORE_PEER_TLS_ROOTCERT_FILE", rootPath)
	t.Setenv("CORE_TLS_CLIENT_CERT_PATH", certPath)
	t.Setenv("CORE_TLS_CLIENT_KEY_PATH", keyPath)

	md, err := chaincode.MetadataFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if len(md.RootCertPEM) == 0 || len(md.ClientCertPEM) == 0 || len(md.ClientKeyPEM) == 0 {
		t.Error("TLS material should be loaded")
	}
}

func TestMetadataFromEnvMissing(t *testing.T) {
	t.Setenv("CORE_CHAINCODE_ID_NAME", "")
	t.Setenv("CORE_PEER_ADDRESS", "")

	if _, err := chaincode.MetadataFromEnv(); err == nil {
		t.Error("expected an error without CORE_CHAINCODE_ID_NAME")
	}
}
