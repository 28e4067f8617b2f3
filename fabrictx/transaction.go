package fabrictx

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// NonceLength is the number of random bytes bound into every transaction id
// and signature header.
const NonceLength = 24

// NewNonce samples a fresh proposal nonce. Nonces are never reused or
// persisted.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// ComputeTxID derives the transaction id as the lowercase hex of
// SHA-256(nonce || creator).
func ComputeTxID(nonce, creator []byte) string {
	hasher := sha256.New()
	hasher.Write(nonce)
	hasher.Write(creator)
	return hex.EncodeToString(hasher.Sum(nil))
}

// newHeader assembles the channel and signature headers for an endorser
// transaction. extension carries the encoded ChaincodeHeaderExtension and
// certHash the SHA-256 of the creator's certificate.
func newHeader(channel, txID string, creator, nonce, certHash, extension []byte) *common.Header {
	tm := timestamppb.Now()
	tm.Nanos = 0

	cHdr := &common.ChannelHeader{
		Type:        int32(common.HeaderType_ENDORSER_TRANSACTION),
		Version:     1,
		Timestamp:   tm,
		ChannelId:   channel,
		TxId:        txID,
		Epoch:       0,
		Extension:   extension,
		TlsCertHash: certHash,
	}

	return &common.Header{
		ChannelHeader:   mustMarshal(cHdr),
		SignatureHeader: mustMarshal(&common.SignatureHeader{Creator: creator, Nonce: nonce}),
	}
}

// mustMarshal panics on marshal errors; encoding an in-memory message only
// fails on programming errors.
func mustMarshal(msg proto.Message) []byte {
	b, err := proto.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return b
}
