package fabrictx

import (
	"crypto/sha256"
	"fmt"

	"github.com/arner/fabric-sdk/identity"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

// NewEndorsedEnvelope simulates the endorsement of a signed proposal: it
// builds the transaction envelope a gateway would return, carrying a
// chaincode action with the given response payload and one endorsement per
// endorser. The envelope signature is left empty; the submitter signs the
// payload before submission.
func NewEndorsedEnvelope(proposal *peer.SignedProposal, responsePayload []byte, endorsers []identity.SigningIdentity) (*common.Envelope, error) {
	prop := &peer.Proposal{}
	if err := proto.Unmarshal(proposal.ProposalBytes, prop); err != nil {
		return nil, fmt.Errorf("proposal: %w", err)
	}
	hdr := &common.Header{}
	if err := proto.Unmarshal(prop.Header, hdr); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	cHdr := &common.ChannelHeader{}
	if err := proto.Unmarshal(hdr.ChannelHeader, cHdr); err != nil {
		return nil, fmt.Errorf("channel header: %w", err)
	}
	ext := &peer.ChaincodeHeaderExtension{}
	if err := proto.Unmarshal(cHdr.Extension, ext); err != nil {
		return nil, fmt.Errorf("header extension: %w", err)
	}

	proposalResponsePayload := mustMarshal(&peer.ProposalResponsePayload{
		ProposalHash: proposalHash(hdr, prop.Payload),
		Extension: mustMarshal(&peer.ChaincodeAction{
			ChaincodeId: ext.ChaincodeId,
			Events:      []byte{},
			Response:    &peer.Response{Status: 200, Message: "OK", Payload: responsePayload},
		}),
	})

	endorsements := make([]*peer.Endorsement, len(endorsers))
	for i, e := range endorsers {
		end, err := endorse(proposalResponsePayload, e)
		if err != nil {
			return nil, err
		}
		endorsements[i] = end
	}

	payload := mustMarshal(&common.Payload{
		Header: hdr,
		Data: mustMarshal(&peer.Transaction{
			Actions: []*peer.TransactionAction{
				{
					Header: hdr.SignatureHeader,
					Payload: mustMarshal(&peer.ChaincodeActionPayload{
						ChaincodeProposalPayload: prop.Payload,
						Action: &peer.ChaincodeEndorsedAction{
							ProposalResponsePayload: proposalResponsePayload,
							Endorsements:            endorsements,
						},
					}),
				},
			},
		}),
	})

	return &common.Envelope{Payload: payload}, nil
}

func proposalHash(header *common.Header, ccPropPayload []byte) []byte {
	hash := sha256.New()
	hash.Write(header.ChannelHeader)
	hash.Write(header.SignatureHeader)
	hash.Write(ccPropPayload)
	return hash.Sum(nil)
}

func endorse(payload []byte, endorser identity.SigningIdentity) (*peer.Endorsement, error) {
	ser, err := endorser.Identity.Serialize()
	if err != nil {
		return nil, err
	}
	sig, err := endorser.Signer.Sign(append(payload, ser...))
	if err != nil {
		return nil, err
	}

	return &peer.Endorsement{
		Endorser:  ser,
		Signature: sig,
	}, nil
}
