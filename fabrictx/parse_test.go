package fabrictx_test

import (
	"bytes"
	"testing"

	"github.com/arner/fabric-sdk/fabrictx"
	"github.com/arner/fabric-sdk/identity"
	"github.com/arner/fabric-sdk/identity/identitytest"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

func endorsedEnvelope(t *testing.T, responsePayload []byte, endorsers ...identity.SigningIdentity) *common.Envelope {
	t.Helper()
	id, signer := identitytest.New(t, "Org1MSP")

	prepared, err := fabrictx.NewBuilder(id, signer).
		WithChannel("mychannel").
		WithChaincode("basic").
		WithFunction("CreateAsset").
		WithArgs("assetCustom", "orange", "10", "Frank", "600").
		Build()
	if err != nil {
		t.Fatal(err)
	}

	env, err := fabrictx.NewEndorsedEnvelope(prepared.EndorseRequest().ProposedTransaction, responsePayload, endorsers)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestExtractResult(t *testing.T) {
	env := endorsedEnvelope(t, []byte("ok"))

	result, err := fabrictx.ExtractResult(env)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(result, []byte("ok")) {
		t.Errorf("result %q, want %q", result, "ok")
	}
}

func TestExtractResultEmptyPayload(t *testing.T) {
	env := endorsedEnvelope(t, nil)

	result, err := fabrictx.ExtractResult(env)
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 0 {
		t.Errorf("expected empty result, got %q", result)
	}
}

func TestExtractResultGarbage(t *testing.T) {
	env := &common.Envelope{Payload: []byte("garbage")}
	if _, err := fabrictx.ExtractResult(env); err == nil {
		t.Error("expected decode error")
	}
}

func TestVerifyEndorsements(t *testing.T) {
	e1id, e1signer := identitytest.New(t, "Org1MSP")
	e2id, e2signer := identitytest.New(t, "Org2MSP")
	env := endorsedEnvelope(t, []byte("ok"),
		identity.SigningIdentity{Identity: e1id, Signer: e1signer},
		identity.SigningIdentity{Identity: e2id, Signer: e2signer},
	)

	if err := fabrictx.VerifyEndorsements(env); err != nil {
		t.Errorf("endorsements should verify: %s", err)
	}
}

func TestVerifyEndorsementsTampered(t *testing.T) {
	eid, esigner := identitytest.New(t, "Org1MSP")
	env := endorsedEnvelope(t, []byte("ok"), identity.SigningIdentity{Identity: eid, Signer: esigner})

	// flip a byte of the proposal hash inside the proposal response payload,
	// so the message the endorsers signed no longer matches
	prp := proposalResponsePayload(t, env)
	i := bytes.Index(env.Payload, prp)
	if i < 0 {
		t.Fatal("proposal response payload not found in envelope")
	}
	env.Payload[i+2] ^= 0xff // skip the field tag and length of the hash
	if err := fabrictx.VerifyEndorsements(env); err == nil {
		t.Error("tampered envelope should not verify")
	}
}

func proposalResponsePayload(t *testing.T, env *common.Envelope) []byte {
	t.Helper()
	pl := &common.Payload{}
	if err := proto.Unmarshal(env.Payload, pl); err != nil {
		t.Fatal(err)
	}
	tx := &peer.Transaction{}
	if err := proto.Unmarshal(pl.Data, tx); err != nil {
		t.Fatal(err)
	}
	ccap := &peer.ChaincodeActionPayload{}
	if err := proto.Unmarshal(tx.Actions[0].Payload, ccap); err != nil {
		t.Fatal(err)
	}
	return ccap.Action.ProposalResponsePayload
}
