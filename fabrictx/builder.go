package fabrictx

import (
	"fmt"
	"strings"

	"github.com/arner/fabric-sdk/identity"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	gwproto "github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Builder assembles a signed proposal and wraps it into an endorse request.
// Setters are fluent; validation errors are collected and surfaced at Build.
// The nonce, transaction id, header and proposal can be overridden for test
// determinism and for message-builder reuse by the chaincode runtime.
type Builder struct {
	identity identity.Identity
	signer   *identity.Signer

	channel   string
	chaincode string
	contract  string
	function  string
	args      [][]byte

	nonce    []byte
	txID     string
	header   *common.Header
	proposal *peer.SignedProposal

	err error
}

func NewBuilder(id identity.Identity, signer *identity.Signer) *Builder {
	return &Builder{identity: id, signer: signer}
}

func (b *Builder) WithChannel(name string) *Builder {
	name = strings.TrimSpace(name)
	if name == "" {
		b.setErr(&InvalidParameterError{Reason: "channel name cannot be empty"})
		return b
	}
	b.channel = name
	return b
}

func (b *Builder) WithChaincode(id string) *Builder {
	id = strings.TrimSpace(id)
	if id == "" {
		b.setErr(&InvalidParameterError{Reason: "chaincode id cannot be empty"})
		return b
	}
	b.chaincode = id
	return b
}

// WithContract sets the contract the function belongs to. Without it, the
// bare function name is used.
func (b *Builder) WithContract(name string) *Builder {
	name = strings.TrimSpace(name)
	if name == "" {
		b.setErr(&InvalidParameterError{Reason: "contract id cannot be empty"})
		return b
	}
	b.contract = name
	return b
}

func (b *Builder) WithFunction(name string) *Builder {
	name = strings.TrimSpace(name)
	if name == "" {
		b.setErr(&InvalidParameterError{Reason: "function name cannot be empty"})
		return b
	}
	b.function = name
	return b
}

func (b *Builder) WithArgs(args ...string) *Builder {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	b.args = raw
	return b
}

// WithRawArgs passes argument bytes unmodified.
func (b *Builder) WithRawArgs(args [][]byte) *Builder {
	b.args = args
	return b
}

// WithNonce overrides the random nonce. Pass nil to go back to fresh nonces.
func (b *Builder) WithNonce(nonce []byte) *Builder {
	if nonce != nil && len(nonce) != NonceLength {
		b.setErr(&InvalidParameterError{Reason: fmt.Sprintf("nonce must be %d bytes", NonceLength)})
		return b
	}
	b.nonce = nonce
	return b
}

// WithTransactionID overrides the derived transaction id. Pass "" to clear.
func (b *Builder) WithTransactionID(txID string) *Builder {
	b.txID = txID
	return b
}

// WithHeader overrides the constructed header. Pass nil to clear.
func (b *Builder) WithHeader(header *common.Header) *Builder {
	b.header = header
	return b
}

// WithProposal caches a signed proposal to attach to generated chaincode
// messages. Pass nil to clear.
func (b *Builder) WithProposal(proposal *peer.SignedProposal) *Builder {
	b.proposal = proposal
	return b
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build is pure: it assembles and signs the proposal without any network I/O.
func (b *Builder) Build() (*PreparedTransaction, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.channel == "" {
		return nil, &MissingParameterError{Name: "channel_name"}
	}
	if b.chaincode == "" {
		return nil, &MissingParameterError{Name: "chaincode_id"}
	}
	if b.function == "" {
		return nil, &MissingParameterError{Name: "function_name"}
	}

	creator, err := b.identity.Serialize()
	if err != nil {
		return nil, err
	}

	nonce := b.nonce
	if nonce == nil {
		if nonce, err = NewNonce(); err != nil {
			return nil, err
		}
	}
	txID := b.txID
	if txID == "" {
		txID = ComputeTxID(nonce, creator)
	}

	ccID := &peer.ChaincodeID{Name: b.chaincode, Version: "1.0"}
	extension := mustMarshal(&peer.ChaincodeHeaderExtension{ChaincodeId: ccID})

	qualifiedName := b.function
	if b.contract != "" {
		qualifiedName = b.contract + ":" + b.function
	}
	args := make([][]byte, 0, len(b.args)+1)
	args = append(args, []byte(qualifiedName))
	args = append(args, b.args...)

	payload := mustMarshal(&peer.ChaincodeProposalPayload{
		Input: mustMarshal(&peer.ChaincodeInvocationSpec{
			ChaincodeSpec: &peer.ChaincodeSpec{
				Type:        peer.ChaincodeSpec_GOLANG,
				ChaincodeId: ccID,
				Input:       &peer.ChaincodeInput{Args: args},
				Timeout:     10,
			},
		}),
	})

	hdr := b.header
	if hdr == nil {
		hdr = newHeader(b.channel, txID, creator, nonce, b.identity.CertHash(), extension)
	}

	proposalBytes := mustMarshal(&peer.Proposal{
		Header:    mustMarshal(hdr),
		Payload:   payload,
		Extension: extension,
	})
	signature, err := b.signer.Sign(proposalBytes)
	if err != nil {
		return nil, fmt.Errorf("sign proposal: %w", err)
	}

	return &PreparedTransaction{
		transactionID: txID,
		channelID:     b.channel,
		request: &gwproto.EndorseRequest{
			TransactionId: txID,
			ChannelId:     b.channel,
			ProposedTransaction: &peer.SignedProposal{
				ProposalBytes: proposalBytes,
				Signature:     signature,
			},
		},
	}, nil
}

// ChaincodeMessage frames a payload for the peer stream. The transaction id
// and proposal come from the builder's cached overrides when present,
// otherwise a fresh nonce and id are generated.
func (b *Builder) ChaincodeMessage(typ peer.ChaincodeMessage_Type, payload []byte) (*peer.ChaincodeMessage, error) {
	if b.err != nil {
		return nil, b.err
	}
	txID := b.txID
	if txID == "" {
		creator, err := b.identity.Serialize()
		if err != nil {
			return nil, err
		}
		nonce, err := NewNonce()
		if err != nil {
			return nil, err
		}
		txID = ComputeTxID(nonce, creator)
	}

	return &peer.ChaincodeMessage{
		Type:      typ,
		Timestamp: timestamppb.Now(),
		Payload:   payload,
		Txid:      txID,
		Proposal:  b.proposal,
		ChannelId: b.channel,
	}, nil
}

// PreparedTransaction is an immutable, signed endorse request ready for
// submission.
type PreparedTransaction struct {
	transactionID string
	channelID     string
	request       *gwproto.EndorseRequest
}

func (p *PreparedTransaction) TransactionID() string {
	return p.transactionID
}

func (p *PreparedTransaction) ChannelID() string {
	return p.channelID
}

func (p *PreparedTransaction) EndorseRequest() *gwproto.EndorseRequest {
	return p.request
}
