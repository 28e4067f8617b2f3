package chaincode

import (
	"errors"
	"fmt"

	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

// unspecifiedStartKey denotes an unbounded range start on the wire.
const unspecifiedStartKey = "\u0001"

// Context is handed to a handler for the duration of a single transaction.
// State operations are request/response exchanges over the shared stream; a
// context issues at most one at a time and every request is answered by
// exactly one reply on its own mailbox.
type Context struct {
	mb        *MessageBuilder
	msg       *peer.ChaincodeMessage
	responses <-chan *peer.ChaincodeMessage
}

func newContext(mb *MessageBuilder, msg *peer.ChaincodeMessage, responses <-chan *peer.ChaincodeMessage) *Context {
	return &Context{mb: mb, msg: msg, responses: responses}
}

// GetState returns the value stored under key, verbatim from the peer's
// reply.
func (c *Context) GetState(key string) ([]byte, error) {
	reply, err := c.exchange(peer.ChaincodeMessage_GET_STATE, mustMarshal(&peer.GetState{Key: key}))
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// GetStateByRange returns the values of all keys in [startKey, endKey). An
// empty startKey queries from the beginning of the namespace.
func (c *Context) GetStateByRange(startKey, endKey string) ([][]byte, error) {
	results, err := c.rangeQuery(startKey, endKey)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(results))
	for i, kv := range results {
		values[i] = kv.Value
	}
	return values, nil
}

func (c *Context) rangeQuery(startKey, endKey string) ([]*queryresult.KV, error) {
	if startKey == "" {
		startKey = unspecifiedStartKey
	}
	payload := mustMarshal(&peer.GetStateByRange{
		StartKey: startKey,
		EndKey:   endKey,
	})

	reply, err := c.exchange(peer.ChaincodeMessage_GET_STATE_BY_RANGE, payload)
	if err != nil {
		return nil, err
	}
	queryResponse := &peer.QueryResponse{}
	if err := proto.Unmarshal(reply.Payload, queryResponse); err != nil {
		return nil, fmt.Errorf("query response: %w", err)
	}

	results := make([]*queryresult.KV, len(queryResponse.Results))
	for i, res := range queryResponse.Results {
		kv := &queryresult.KV{}
		if err := proto.Unmarshal(res.ResultBytes, kv); err != nil {
			return nil, fmt.Errorf("query result %d: %w", i, err)
		}
		results[i] = kv
	}
	return results, nil
}

// PutState writes key to the transaction's write set. The peer's
// acknowledgement is awaited and discarded.
func (c *Context) PutState(key string, value []byte) error {
	_, err := c.exchange(peer.ChaincodeMessage_PUT_STATE, mustMarshal(&peer.PutState{Key: key, Value: value}))
	return err
}

// DelState marks key as deleted in the transaction's write set.
func (c *Context) DelState(key string) error {
	_, err := c.exchange(peer.ChaincodeMessage_DEL_STATE, mustMarshal(&peer.DelState{Key: key}))
	return err
}

// exchange sends a state operation in the context of the current transaction
// and blocks until its reply arrives on the mailbox.
func (c *Context) exchange(typ peer.ChaincodeMessage_Type, payload []byte) (*peer.ChaincodeMessage, error) {
	if err := c.mb.Respond(typ, payload, c.msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", typ, err)
	}
	reply, ok := <-c.responses
	if !ok {
		return nil, errors.New("stream closed while waiting for peer response")
	}
	if reply.Type == peer.ChaincodeMessage_ERROR {
		return nil, fmt.Errorf("peer returned error: %s", reply.Payload)
	}
	return reply, nil
}

// GetTxID returns the transaction id of the current invocation.
func (c *Context) GetTxID() string {
	return c.msg.Txid
}

// GetChannelID returns the channel the invocation runs on.
func (c *Context) GetChannelID() string {
	return c.msg.ChannelId
}

// GetSignedProposal returns the signed proposal carried by the invocation,
// or nil when the peer did not attach one.
func (c *Context) GetSignedProposal() *peer.SignedProposal {
	return c.msg.Proposal
}

// GetEvent returns the chaincode event attached to the invocation, if any.
func (c *Context) GetEvent() *peer.ChaincodeEvent {
	return c.msg.ChaincodeEvent
}

// GetTxTimestamp returns the proposal timestamp in seconds.
func (c *Context) GetTxTimestamp() (int64, error) {
	cHdr, err := c.channelHeader()
	if err != nil {
		return 0, err
	}
	if cHdr.Timestamp == nil {
		return 0, errors.New("channel header has no timestamp")
	}
	return cHdr.Timestamp.Seconds, nil
}

func (c *Context) channelHeader() (*common.ChannelHeader, error) {
	if c.msg.Proposal == nil {
		return nil, errors.New("no signed proposal on message")
	}
	prop := &peer.Proposal{}
	if err := proto.Unmarshal(c.msg.Proposal.ProposalBytes, prop); err != nil {
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
	return cHdr, nil
}

func (c *Context) proposalPayload() (*peer.ChaincodeProposalPayload, error) {
	if c.msg.Proposal == nil {
		return nil, errors.New("no signed proposal on message")
	}
	prop := &peer.Proposal{}
	if err := proto.Unmarshal(c.msg.Proposal.ProposalBytes, prop); err != nil {
		return nil, fmt.Errorf("proposal: %w", err)
	}
	ccpp := &peer.ChaincodeProposalPayload{}
	if err := proto.Unmarshal(prop.Payload, ccpp); err != nil {
		return nil, fmt.Errorf("chaincode proposal payload: %w", err)
	}
	return ccpp, nil
}
