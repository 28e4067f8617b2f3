// Package integration wires the SDK against an in-process Fabric stand-in: a
// gateway that endorses by echoing proposals and a peer that serves the
// chaincode stream from a sqlite world state.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/arner/fabric-sdk/fabrictx"
	"github.com/arner/fabric-sdk/identity"
	"github.com/arner/fabric-sdk/storage"
	gwproto "github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

// MockGateway endorses proposals against nothing and records submissions.
type MockGateway struct {
	gwproto.UnimplementedGatewayServer

	endorsers []identity.SigningIdentity
	result    []byte

	mu      sync.Mutex
	submits []*gwproto.SubmitRequest
}

func NewMockGateway(result []byte, endorsers ...identity.SigningIdentity) *MockGateway {
	return &MockGateway{result: result, endorsers: endorsers}
}

func (g *MockGateway) Endorse(_ context.Context, req *gwproto.EndorseRequest) (*gwproto.EndorseResponse, error) {
	env, err := fabrictx.NewEndorsedEnvelope(req.ProposedTransaction, g.result, g.endorsers)
	if err != nil {
		return nil, err
	}
	return &gwproto.EndorseResponse{PreparedTransaction: env}, nil
}

func (g *MockGateway) Submit(_ context.Context, req *gwproto.SubmitRequest) (*gwproto.SubmitResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, req)
	return &gwproto.SubmitResponse{}, nil
}

func (g *MockGateway) Submitted() []*gwproto.SubmitRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*gwproto.SubmitRequest{}, g.submits...)
}

// MockPeer plays the peer side of the chaincode stream: it completes the
// registration handshake, answers state operations from a world state and
// records transaction completions.
type MockPeer struct {
	peer.UnimplementedChaincodeSupportServer

	store     *storage.WorldState
	namespace string

	registered  chan *peer.ChaincodeID
	completions chan *peer.ChaincodeMessage

	mu     sync.Mutex
	stream peer.ChaincodeSupport_RegisterServer
}

func NewMockPeer(store *storage.WorldState, namespace string) *MockPeer {
	return &MockPeer{
		store:       store,
		namespace:   namespace,
		registered:  make(chan *peer.ChaincodeID, 1),
		completions: make(chan *peer.ChaincodeMessage, 16),
	}
}

func (p *MockPeer) Register(stream peer.ChaincodeSupport_RegisterServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Type != peer.ChaincodeMessage_REGISTER {
		return fmt.Errorf("expected REGISTER as first message, got %s", first.Type)
	}
	ccID := &peer.ChaincodeID{}
	if err := proto.Unmarshal(first.Payload, ccID); err != nil {
		return fmt.Errorf("chaincode id: %w", err)
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()

	if err := p.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_REGISTERED}); err != nil {
		return err
	}
	if err := p.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_READY}); err != nil {
		return err
	}
	p.registered <- ccID

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.handle(msg); err != nil {
			return err
		}
	}
}

func (p *MockPeer) handle(msg *peer.ChaincodeMessage) error {
	switch msg.Type {
	case peer.ChaincodeMessage_GET_STATE:
		req := &peer.GetState{}
		if err := proto.Unmarshal(msg.Payload, req); err != nil {
			return err
		}
		value, err := p.store.Get(p.namespace, req.Key)
		if err != nil {
			return p.respondError(msg, err)
		}
		return p.respond(msg, value)

	case peer.ChaincodeMessage_PUT_STATE:
		req := &peer.PutState{}
		if err := proto.Unmarshal(msg.Payload, req); err != nil {
			return err
		}
		if err := p.store.Put(p.namespace, req.Key, req.Value); err != nil {
			return p.respondError(msg, err)
		}
		return p.respond(msg, nil)

	case peer.ChaincodeMessage_DEL_STATE:
		req := &peer.DelState{}
		if err := proto.Unmarshal(msg.Payload, req); err != nil {
			return err
		}
		if err := p.store.Delete(p.namespace, req.Key); err != nil {
			return p.respondError(msg, err)
		}
		return p.respond(msg, nil)

	case peer.ChaincodeMessage_GET_STATE_BY_RANGE:
		req := &peer.GetStateByRange{}
		if err := proto.Unmarshal(msg.Payload, req); err != nil {
			return err
		}
		startKey := req.StartKey
		if startKey == "\u0001" { // unspecified start key
			startKey = ""
		}
		kvs, err := p.store.GetRange(p.namespace, startKey, req.EndKey)
		if err != nil {
			return p.respondError(msg, err)
		}
		results := make([]*peer.QueryResultBytes, len(kvs))
		for i, kv := range kvs {
			b, err := proto.Marshal(&queryresult.KV{Namespace: kv.Namespace, Key: kv.Key, Value: kv.Value})
			if err != nil {
				return err
			}
			results[i] = &peer.QueryResultBytes{ResultBytes: b}
		}
		payload, err := proto.Marshal(&peer.QueryResponse{Results: results})
		if err != nil {
			return err
		}
		return p.respond(msg, payload)

	case peer.ChaincodeMessage_COMPLETED, peer.ChaincodeMessage_ERROR, peer.ChaincodeMessage_RESPONSE:
		p.completions <- msg
		return nil

	default:
		return fmt.Errorf("unexpected message type %s from chaincode", msg.Type)
	}
}

func (p *MockPeer) respond(original *peer.ChaincodeMessage, payload []byte) error {
	return p.send(&peer.ChaincodeMessage{
		Type:      peer.ChaincodeMessage_RESPONSE,
		Txid:      original.Txid,
		ChannelId: original.ChannelId,
		Payload:   payload,
	})
}

func (p *MockPeer) respondError(original *peer.ChaincodeMessage, err error) error {
	return p.send(&peer.ChaincodeMessage{
		Type:      peer.ChaincodeMessage_ERROR,
		Txid:      original.Txid,
		ChannelId: original.ChannelId,
		Payload:   []byte(err.Error()),
	})
}

func (p *MockPeer) send(msg *peer.ChaincodeMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream.Send(msg)
}

// Invoke sends a transaction down the stream to the chaincode.
func (p *MockPeer) Invoke(msg *peer.ChaincodeMessage) error {
	return p.send(msg)
}

// Registered returns the chaincode id from the registration handshake.
func (p *MockPeer) Registered() <-chan *peer.ChaincodeID {
	return p.registered
}

// Completions returns the transaction completions the peer observed.
func (p *MockPeer) Completions() <-chan *peer.ChaincodeMessage {
	return p.completions
}
