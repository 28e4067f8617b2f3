package chaincode

import (
	"fmt"
	"sync"

	"github.com/arner/fabric-sdk/fabrictx"
	"github.com/arner/fabric-sdk/identity"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

// sendStream is the outbound half of the peer stream.
type sendStream interface {
	Send(*peer.ChaincodeMessage) error
}

// MessageBuilder frames protocol messages and writes them to the peer
// stream. It is shared by all in-flight invocations and guarded by a mutex;
// the critical section is encode plus send.
type MessageBuilder struct {
	mu      sync.Mutex
	stream  sendStream
	builder *fabrictx.Builder
}

// NewMessageBuilder derives the runtime's identity from the chaincode's
// client certificate in the metadata.
func NewMessageBuilder(md *Metadata, stream sendStream) (*MessageBuilder, error) {
	id, err := identity.New(md.MSPID, md.ClientCertPEM)
	if err != nil {
		return nil, fmt.Errorf("chaincode identity: %w", err)
	}
	var signer *identity.Signer
	if len(md.ClientKeyPEM) > 0 {
		if signer, err = identity.NewSigner(md.ClientKeyPEM); err != nil {
			return nil, fmt.Errorf("chaincode signer: %w", err)
		}
	}

	return &MessageBuilder{
		stream:  stream,
		builder: fabrictx.NewBuilder(id, signer),
	}, nil
}

// Send frames a payload in a new message with a fresh transaction id and
// writes it to the stream.
func (m *MessageBuilder) Send(typ peer.ChaincodeMessage_Type, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, err := m.builder.ChaincodeMessage(typ, payload)
	if err != nil {
		return fmt.Errorf("build chaincode message: %w", err)
	}
	return m.stream.Send(msg)
}

// Respond replies in the context of an inbound message: timestamp,
// transaction id, proposal, event and channel id are preserved, only the
// type and payload are substituted. Any cached transaction id or proposal is
// cleared so the next Send generates fresh ones.
func (m *MessageBuilder) Respond(typ peer.ChaincodeMessage_Type, payload []byte, original *peer.ChaincodeMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.stream.Send(&peer.ChaincodeMessage{
		Type:           typ,
		Timestamp:      original.Timestamp,
		Payload:        payload,
		Txid:           original.Txid,
		Proposal:       original.Proposal,
		ChaincodeEvent: original.ChaincodeEvent,
		ChannelId:      original.ChannelId,
	})
	if err != nil {
		return err
	}
	m.builder.WithTransactionID("").WithProposal(nil)
	return nil
}

func mustMarshal(msg proto.Message) []byte {
	b, err := proto.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return b
}
