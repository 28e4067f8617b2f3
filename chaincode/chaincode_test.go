package chaincode_test

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/arner/fabric-sdk/chaincode"
	"github.com/arner/fabric-sdk/identity/identitytest"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

// fakeStream stands in for the bidirectional peer stream.
type fakeStream struct {
	in  chan *peer.ChaincodeMessage
	out chan *peer.ChaincodeMessage
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:  make(chan *peer.ChaincodeMessage, 16),
		out: make(chan *peer.ChaincodeMessage, 16),
	}
}

func (f *fakeStream) Send(msg *peer.ChaincodeMessage) error {
	f.out <- msg
	return nil
}

func (f *fakeStream) Recv() (*peer.ChaincodeMessage, error) {
	msg, ok := <-f.in
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

// handlerFunc adapts a function to the Handler interface, the way generated
// descriptors do.
type handlerFunc struct {
	name string
	fn   func(ctx *chaincode.Context, args []string) (string, error)
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Call(ctx *chaincode.Context, args []string) (string, error) {
	return h.fn(ctx, args)
}

type runtime struct {
	stream *fakeStream
	done   chan struct{}
}

// startRuntime wires a router, message builder and dispatcher around a fake
// stream, like Serve does around a real one.
func startRuntime(t *testing.T, registry chaincode.Registry) *runtime {
	t.Helper()
	certPEM, keyPEM := identitytest.Credentials(t, "chaincode")
	md := &chaincode.Metadata{
		MSPID:         "Org1MSP",
		PeerAddress:   "peer0.org1.example.com:7052",
		ClientCertPEM: certPEM,
		ClientKeyPEM:  keyPEM,
		ChaincodeID:   &peer.ChaincodeID{Name: "basic", Version: "1.0"},
	}

	stream := newFakeStream()
	router := chaincode.NewRouter(nil)
	mb, err := chaincode.NewMessageBuilder(md, stream)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go router.Run(stream)
	go func() {
		chaincode.NewDispatcher(registry, "basic", mb, router).Run()
		close(done)
	}()

	rt := &runtime{stream: stream, done: done}
	t.Cleanup(func() {
		close(stream.in)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return rt
}

func (r *runtime) send(msg *peer.ChaincodeMessage) {
	r.stream.in <- msg
}

func (r *runtime) recv(t *testing.T) *peer.ChaincodeMessage {
	t.Helper()
	select {
	case msg := <-r.stream.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func transaction(txID, channel string, args ...string) *peer.ChaincodeMessage {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	payload, err := proto.Marshal(&peer.ChaincodeInput{Args: raw})
	if err != nil {
		panic(err)
	}
	return &peer.ChaincodeMessage{
		Type:      peer.ChaincodeMessage_TRANSACTION,
		Txid:      txID,
		ChannelId: channel,
		Payload:   payload,
	}
}

func decodeResponse(t *testing.T, msg *peer.ChaincodeMessage) *peer.Response {
	t.Helper()
	resp := &peer.Response{}
	if err := proto.Unmarshal(msg.Payload, resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func readAssetHandler() chaincode.Handler {
	return handlerFunc{name: "ReadAsset", fn: func(ctx *chaincode.Context, args []string) (string, error) {
		value, err := ctx.GetState(args[0])
		if err != nil {
			return "", err
		}
		result, err := json.Marshal(string(value))
		if err != nil {
			return "", err
		}
		return string(result), nil
	}}
}

// The runtime registers, receives a transaction, issues a state query and
// completes with the peer's value.
func TestInvokeWithGetState(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", readAssetHandler())
	rt := startRuntime(t, registry)

	rt.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_REGISTERED})
	rt.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_READY})
	rt.send(transaction("tx1", "mychannel", "Assets:ReadAsset", "k1"))

	// the handler's state query goes out in the transaction's context
	query := rt.recv(t)
	if query.Type != peer.ChaincodeMessage_GET_STATE {
		t.Fatalf("expected GET_STATE, got %s", query.Type)
	}
	if query.Txid != "tx1" || query.ChannelId != "mychannel" {
		t.Errorf("query context %s/%s", query.Txid, query.ChannelId)
	}
	getState := &peer.GetState{}
	if err := proto.Unmarshal(query.Payload, getState); err != nil {
		t.Fatal(err)
	}
	if getState.Key != "k1" {
		t.Errorf("key %s, want k1", getState.Key)
	}

	rt.send(&peer.ChaincodeMessage{
		Type:    peer.ChaincodeMessage_RESPONSE,
		Txid:    "tx1",
		Payload: []byte("value"),
	})

	completed := rt.recv(t)
	if completed.Type != peer.ChaincodeMessage_COMPLETED {
		t.Fatalf("expected COMPLETED, got %s", completed.Type)
	}
	if completed.Txid != "tx1" || completed.ChannelId != "mychannel" {
		t.Errorf("completion context %s/%s", completed.Txid, completed.ChannelId)
	}
	resp := decodeResponse(t, completed)
	if resp.Status != int32(common.Status_SUCCESS) {
		t.Errorf("status %d: %s", resp.Status, resp.Message)
	}
	if resp.Message != `"value"` {
		t.Errorf("message %q, want %q", resp.Message, `"value"`)
	}
}

// An unknown contract completes with NOT_FOUND naming the function and the
// chaincode.
func TestInvokeUnknownContract(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", readAssetHandler())
	rt := startRuntime(t, registry)

	rt.send(transaction("tx2", "mychannel", "Ghost:Any"))

	completed := rt.recv(t)
	if completed.Type != peer.ChaincodeMessage_COMPLETED {
		t.Fatalf("expected COMPLETED, got %s", completed.Type)
	}
	if completed.Txid != "tx2" {
		t.Errorf("txid %s", completed.Txid)
	}
	resp := decodeResponse(t, completed)
	if resp.Status != int32(common.Status_NOT_FOUND) {
		t.Errorf("status %d, want %d", resp.Status, common.Status_NOT_FOUND)
	}
	for _, want := range []string{"Any", "basic"} {
		if !strings.Contains(resp.Message, want) {
			t.Errorf("message %q should name %q", resp.Message, want)
		}
	}
}

func TestInvokeUnknownFunction(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", readAssetHandler())
	rt := startRuntime(t, registry)

	rt.send(transaction("tx3", "mychannel", "Assets:Missing"))

	resp := decodeResponse(t, rt.recv(t))
	if resp.Status != int32(common.Status_NOT_FOUND) {
		t.Errorf("status %d, want %d", resp.Status, common.Status_NOT_FOUND)
	}
}

// A bare function name resolves against the empty contract.
func TestInvokeBareFunctionName(t *testing.T) {
	registry := chaincode.NewRegistry().Add("", handlerFunc{name: "Ping", fn: func(*chaincode.Context, []string) (string, error) {
		return `"pong"`, nil
	}})
	rt := startRuntime(t, registry)

	rt.send(transaction("tx4", "mychannel", "Ping"))

	resp := decodeResponse(t, rt.recv(t))
	if resp.Status != int32(common.Status_SUCCESS) {
		t.Fatalf("status %d: %s", resp.Status, resp.Message)
	}
	if resp.Message != `"pong"` {
		t.Errorf("message %q", resp.Message)
	}
}

func TestHandlerError(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", handlerFunc{name: "Fail", fn: func(*chaincode.Context, []string) (string, error) {
		return "", fmt.Errorf("asset not found")
	}})
	rt := startRuntime(t, registry)

	rt.send(transaction("tx5", "mychannel", "Assets:Fail"))

	resp := decodeResponse(t, rt.recv(t))
	if resp.Status != int32(common.Status_INTERNAL_SERVER_ERROR) {
		t.Errorf("status %d, want %d", resp.Status, common.Status_INTERNAL_SERVER_ERROR)
	}
	if !strings.Contains(resp.Message, "asset not found") {
		t.Errorf("message %q should carry the handler error", resp.Message)
	}
}

// A payload that carries no chaincode arguments produces ERROR followed by
// RESPONSE, both carrying the error text.
func TestInvalidChaincodeInput(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", readAssetHandler())
	rt := startRuntime(t, registry)

	rt.send(&peer.ChaincodeMessage{
		Type: peer.ChaincodeMessage_TRANSACTION,
		Txid: "tx6",
	})

	first := rt.recv(t)
	if first.Type != peer.ChaincodeMessage_ERROR {
		t.Fatalf("expected ERROR, got %s", first.Type)
	}
	second := rt.recv(t)
	if second.Type != peer.ChaincodeMessage_RESPONSE {
		t.Fatalf("expected RESPONSE, got %s", second.Type)
	}
	if string(first.Payload) != string(second.Payload) {
		t.Error("both messages should carry the error text")
	}
}

// Replies are routed by transaction id even when invocations interleave.
func TestConcurrentInvocations(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", readAssetHandler())
	rt := startRuntime(t, registry)

	rt.send(transaction("txA", "mychannel", "Assets:ReadAsset", "a"))
	rt.send(transaction("txB", "mychannel", "Assets:ReadAsset", "b"))

	queries := map[string]*peer.ChaincodeMessage{}
	for range 2 {
		q := rt.recv(t)
		if q.Type != peer.ChaincodeMessage_GET_STATE {
			t.Fatalf("expected GET_STATE, got %s", q.Type)
		}
		queries[q.Txid] = q
	}
	if len(queries) != 2 {
		t.Fatalf("expected queries for two transactions, got %v", queries)
	}

	// answer in reverse order of arrival
	rt.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_RESPONSE, Txid: "txB", Payload: []byte("valB")})
	rt.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_RESPONSE, Txid: "txA", Payload: []byte("valA")})

	results := map[string]string{}
	for range 2 {
		completed := rt.recv(t)
		if completed.Type != peer.ChaincodeMessage_COMPLETED {
			t.Fatalf("expected COMPLETED, got %s", completed.Type)
		}
		results[completed.Txid] = decodeResponse(t, completed).Message
	}
	if results["txA"] != `"valA"` {
		t.Errorf("txA got %q", results["txA"])
	}
	if results["txB"] != `"valB"` {
		t.Errorf("txB got %q", results["txB"])
	}
}

// An ERROR reply to a state operation surfaces as a handler failure.
func TestStateOperationError(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", readAssetHandler())
	rt := startRuntime(t, registry)

	rt.send(transaction("tx7", "mychannel", "Assets:ReadAsset", "k1"))
	rt.recv(t) // GET_STATE

	rt.send(&peer.ChaincodeMessage{
		Type:    peer.ChaincodeMessage_ERROR,
		Txid:    "tx7",
		Payload: []byte("state db unavailable"),
	})

	resp := decodeResponse(t, rt.recv(t))
	if resp.Status != int32(common.Status_INTERNAL_SERVER_ERROR) {
		t.Errorf("status %d", resp.Status)
	}
	if !strings.Contains(resp.Message, "state db unavailable") {
		t.Errorf("message %q should carry the peer error", resp.Message)
	}
}

// An empty start key goes out as the single code point U+0001.
func TestRangeQueryUnspecifiedStartKey(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", handlerFunc{name: "ListAssets", fn: func(ctx *chaincode.Context, _ []string) (string, error) {
		values, err := ctx.GetStateByRange("", "z")
		if err != nil {
			return "", err
		}
		flat := make([]string, len(values))
		for i, v := range values {
			flat[i] = string(v)
		}
		result, _ := json.Marshal(flat)
		return string(result), nil
	}})
	rt := startRuntime(t, registry)

	rt.send(transaction("tx8", "mychannel", "Assets:ListAssets"))

	query := rt.recv(t)
	if query.Type != peer.ChaincodeMessage_GET_STATE_BY_RANGE {
		t.Fatalf("expected GET_STATE_BY_RANGE, got %s", query.Type)
	}
	rangeQuery := &peer.GetStateByRange{}
	if err := proto.Unmarshal(query.Payload, rangeQuery); err != nil {
		t.Fatal(err)
	}
	if rangeQuery.StartKey != "\u0001" {
		t.Errorf("start key %q, want %q", rangeQuery.StartKey, "\u0001")
	}
	if rangeQuery.EndKey != "z" {
		t.Errorf("end key %q", rangeQuery.EndKey)
	}

	// reply with two results; values are kv-decoded
	results := []*peer.QueryResultBytes{
		{ResultBytes: mustMarshal(t, &queryresult.KV{Key: "a1", Value: []byte("v1")})},
		{ResultBytes: mustMarshal(t, &queryresult.KV{Key: "a2", Value: []byte("v2")})},
	}
	rt.send(&peer.ChaincodeMessage{
		Type:    peer.ChaincodeMessage_RESPONSE,
		Txid:    "tx8",
		Payload: mustMarshal(t, &peer.QueryResponse{Results: results}),
	})

	resp := decodeResponse(t, rt.recv(t))
	if resp.Status != int32(common.Status_SUCCESS) {
		t.Fatalf("status %d: %s", resp.Status, resp.Message)
	}
	if resp.Message != `["v1","v2"]` {
		t.Errorf("message %q, want the KV values", resp.Message)
	}
}

func TestPutAndDelState(t *testing.T) {
	registry := chaincode.NewRegistry().Add("Assets", handlerFunc{name: "ReplaceAsset", fn: func(ctx *chaincode.Context, args []string) (string, error) {
		if err := ctx.PutState(args[0], []byte(args[1])); err != nil {
			return "", err
		}
		if err := ctx.DelState(args[2]); err != nil {
			return "", err
		}
		return `"done"`, nil
	}})
	rt := startRuntime(t, registry)

	rt.send(transaction("tx9", "mychannel", "Assets:ReplaceAsset", "k1", "v1", "old"))

	put := rt.recv(t)
	if put.Type != peer.ChaincodeMessage_PUT_STATE {
		t.Fatalf("expected PUT_STATE, got %s", put.Type)
	}
	putState := &peer.PutState{}
	if err := proto.Unmarshal(put.Payload, putState); err != nil {
		t.Fatal(err)
	}
	if putState.Key != "k1" || string(putState.Value) != "v1" {
		t.Errorf("put %s=%s", putState.Key, putState.Value)
	}
	rt.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_RESPONSE, Txid: "tx9"})

	del := rt.recv(t)
	if del.Type != peer.ChaincodeMessage_DEL_STATE {
		t.Fatalf("expected DEL_STATE, got %s", del.Type)
	}
	delState := &peer.DelState{}
	if err := proto.Unmarshal(del.Payload, delState); err != nil {
		t.Fatal(err)
	}
	if delState.Key != "old" {
		t.Errorf("del %s", delState.Key)
	}
	rt.send(&peer.ChaincodeMessage{Type: peer.ChaincodeMessage_RESPONSE, Txid: "tx9"})

	resp := decodeResponse(t, rt.recv(t))
	if resp.Status != int32(common.Status_SUCCESS) {
		t.Errorf("status %d: %s", resp.Status, resp.Message)
	}
}

func mustMarshal(t *testing.T, msg proto.Message) []byte {
	t.Helper()
	b, err := proto.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return b
}


