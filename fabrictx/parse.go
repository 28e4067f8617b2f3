package fabrictx

import (
	"fmt"

	"github.com/arner/fabric-sdk/identity"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/msp"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

// ExtractResult returns the chaincode response payload from an endorsed
// envelope. When the envelope carries multiple actions, the last non-empty
// response payload wins.
func ExtractResult(env *common.Envelope) ([]byte, error) {
	actions, err := transactionActions(env)
	if err != nil {
		return nil, err
	}

	var result []byte
	for _, act := range actions {
		ccAct, _, err := chaincodeAction(act)
		if err != nil {
			return nil, err
		}
		if ccAct.Response != nil && len(ccAct.Response.Payload) > 0 {
			result = ccAct.Response.Payload
		}
	}
	return result, nil
}

// VerifyEndorsements checks every endorsement signature in the envelope
// against the certificate of its endorser. It does not know whether the
// endorsers satisfy the channel's policy.
func VerifyEndorsements(env *common.Envelope) error {
	actions, err := transactionActions(env)
	if err != nil {
		return err
	}

	for _, act := range actions {
		_, cap, err := chaincodeAction(act)
		if err != nil {
			return err
		}
		for _, end := range cap.Action.Endorsements {
			id := &msp.SerializedIdentity{}
			if err := proto.Unmarshal(end.Endorser, id); err != nil {
				return fmt.Errorf("endorser identity: %w", err)
			}
			// the signed message is the proposal response payload concatenated
			// with the serialized endorser identity
			msg := append(cap.Action.ProposalResponsePayload, end.Endorser...)
			if err := identity.VerifySignature(id.IdBytes, end.Signature, msg); err != nil {
				return fmt.Errorf("endorsement of %s invalid: %w", id.Mspid, err)
			}
		}
	}
	return nil
}

func transactionActions(env *common.Envelope) ([]*peer.TransactionAction, error) {
	pl := &common.Payload{}
	if err := proto.Unmarshal(env.Payload, pl); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	tx := &peer.Transaction{}
	if err := proto.Unmarshal(pl.Data, tx); err != nil {
		return nil, fmt.Errorf("transaction: %w", err)
	}
	return tx.Actions, nil
}

func chaincodeAction(act *peer.TransactionAction) (*peer.ChaincodeAction, *peer.ChaincodeActionPayload, error) {
	cap := &peer.ChaincodeActionPayload{}
	if err := proto.Unmarshal(act.Payload, cap); err != nil {
		return nil, nil, fmt.Errorf("chaincode action payload: %w", err)
	}
	if cap.Action == nil {
		return nil, nil, fmt.Errorf("chaincode action payload has no endorsed action")
	}

	prp := &peer.ProposalResponsePayload{}
	if err := proto.Unmarshal(cap.Action.ProposalResponsePayload, prp); err != nil {
		return nil, nil, fmt.Errorf("proposal response payload: %w", err)
	}

	ccAct := &peer.ChaincodeAction{}
	if err := proto.Unmarshal(prp.Extension, ccAct); err != nil {
		return nil, nil, fmt.Errorf("chaincode action: %w", err)
	}
	return ccAct, cap, nil
}
