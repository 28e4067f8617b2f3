package chaincode

import (
	"fmt"
	"os"
	"strings"

	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
)

// Metadata is the process-wide configuration the peer hands to an external
// chaincode. It is read once at startup and not mutated afterwards.
type Metadata struct {
	MSPID         string
	PeerAddress   string
	RootCertPEM   []byte
	ClientCertPEM []byte
	ClientKeyPEM  []byte
	ChaincodeID   *peer.ChaincodeID
}

// MetadataFromEnv reads the environment variables the peer sets when it
// launches a chaincode process. TLS material is only loaded when
// CORE_PEER_TLS_ENABLED is true.
func MetadataFromEnv() (*Metadata, error) {
	name := os.Getenv("CORE_CHAINCODE_ID_NAME")
	if name == "" {
		return nil, fmt.Errorf("CORE_CHAINCODE_ID_NAME not set")
	}
	addr := os.Getenv("CORE_PEER_ADDRESS")
	if addr == "" {
		return nil, fmt.Errorf("CORE_PEER_ADDRESS not set")
	}

	ccID := &peer.ChaincodeID{Name: name}
	if n, version, ok := strings.Cut(name, ":"); ok {
		ccID.Name = n
		ccID.Version = version
	}

	md := &Metadata{
		MSPID:       os.Getenv("CORE_PEER_LOCALMSPID"),
		PeerAddress: addr,
		ChaincodeID: ccID,
	}

	if os.Getenv("CORE_PEER_TLS_ENABLED") == "true" {
		var err error
		if md.RootCertPEM, err = os.ReadFile(os.Getenv("CORE_PEER_TLS_ROOTCERT_FILE")); err != nil {
			return nil, fmt.Errorf("read root cert: %w", err)
		}
		if md.ClientCertPEM, err = os.ReadFile(os.Getenv("CORE_TLS_CLIENT_CERT_PATH")); err != nil {
			return nil, fmt.Errorf("read client cert: %w", err)
		}
		if md.ClientKeyPEM, err = os.ReadFile(os.Getenv("CORE_TLS_CLIENT_KEY_PATH")); err != nil {
			return nil, fmt.Errorf("read client key: %w", err)
		}
	}
	return md, nil
}
