package chaincode

import (
	"errors"
	"fmt"

	"github.com/hyperledger/fabric-chaincode-go/v2/shim"
	"github.com/hyperledger/fabric-protos-go-apiv2/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Stub exposes an invocation context as a shim.ChaincodeStubInterface so
// contracts written against fabric-chaincode-go can run on this runtime.
// The state and transaction metadata surface and the composite key helpers
// are implemented; the rest panics.
type Stub struct {
	ctx *Context
	UnimplementedStub
}

var _ shim.ChaincodeStubInterface = (*Stub)(nil)

func NewStub(ctx *Context) *Stub {
	return &Stub{ctx: ctx}
}

// --------- State ----------

// GetState implements shim.ChaincodeStubInterface.
func (s *Stub) GetState(key string) ([]byte, error) {
	return s.ctx.GetState(key)
}

// PutState implements shim.ChaincodeStubInterface.
func (s *Stub) PutState(key string, value []byte) error {
	return s.ctx.PutState(key, value)
}

// DelState implements shim.ChaincodeStubInterface.
func (s *Stub) DelState(key string) error {
	return s.ctx.DelState(key)
}

// GetStateByRange implements shim.ChaincodeStubInterface.
func (s *Stub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	results, err := s.ctx.rangeQuery(startKey, endKey)
	if err != nil {
		return nil, err
	}
	return &kvIterator{results: results}, nil
}

// --------- Transaction metadata ----------

// GetTxID implements shim.ChaincodeStubInterface.
func (s *Stub) GetTxID() string {
	return s.ctx.GetTxID()
}

// GetChannelID implements shim.ChaincodeStubInterface.
func (s *Stub) GetChannelID() string {
	return s.ctx.GetChannelID()
}

// GetSignedProposal implements shim.ChaincodeStubInterface.
func (s *Stub) GetSignedProposal() (*peer.SignedProposal, error) {
	if s.ctx.GetSignedProposal() == nil {
		return nil, errors.New("no signed proposal on message")
	}
	return s.ctx.GetSignedProposal(), nil
}

// GetTxTimestamp implements shim.ChaincodeStubInterface.
func (s *Stub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	cHdr, err := s.ctx.channelHeader()
	if err != nil {
		return nil, err
	}
	if cHdr.Timestamp == nil {
		return nil, errors.New("channel header has no timestamp")
	}
	return cHdr.Timestamp, nil
}

// GetTransient implements shim.ChaincodeStubInterface.
func (s *Stub) GetTransient() (map[string][]byte, error) {
	ccpp, err := s.ctx.proposalPayload()
	if err != nil {
		return nil, err
	}
	return ccpp.TransientMap, nil
}

// GetArgs implements shim.ChaincodeStubInterface.
func (s *Stub) GetArgs() [][]byte {
	input := &peer.ChaincodeInput{}
	if err := proto.Unmarshal(s.ctx.msg.Payload, input); err != nil {
		return nil
	}
	return input.Args
}

// GetStringArgs implements shim.ChaincodeStubInterface.
func (s *Stub) GetStringArgs() []string {
	raw := s.GetArgs()
	args := make([]string, len(raw))
	for i, a := range raw {
		args[i] = string(a)
	}
	return args
}

// GetFunctionAndParameters implements shim.ChaincodeStubInterface.
func (s *Stub) GetFunctionAndParameters() (string, []string) {
	args := s.GetStringArgs()
	if len(args) == 0 {
		return "", nil
	}
	return args[0], args[1:]
}

// kvIterator iterates over the results of a range query.
type kvIterator struct {
	results []*queryresult.KV
	next    int
}

// HasNext implements shim.StateQueryIteratorInterface.
func (it *kvIterator) HasNext() bool {
	return it.next < len(it.results)
}

// Next implements shim.StateQueryIteratorInterface.
func (it *kvIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("no more results")
	}
	kv := it.results[it.next]
	it.next++
	return kv, nil
}

// Close implements shim.StateQueryIteratorInterface.
func (it *kvIterator) Close() error {
	return nil
}

// UnimplementedStub fills the rest of shim.ChaincodeStubInterface.
// See: github.com/hyperledger/fabric-chaincode-go/shim/stub.go
type UnimplementedStub struct{}

// InvokeChaincode implements shim.ChaincodeStubInterface.
func (UnimplementedStub) InvokeChaincode(chaincodeName string, args [][]byte, channel string) *peer.Response {
	panic("unimplemented")
}

// GetArgsSlice implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetArgsSlice() ([]byte, error) {
	panic("unimplemented")
}

// GetBinding implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetBinding() ([]byte, error) {
	panic("unimplemented")
}

// GetCreator implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetCreator() ([]byte, error) {
	panic("unimplemented")
}

// GetDecorations implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetDecorations() map[string][]byte {
	panic("unimplemented")
}

// GetHistoryForKey implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	panic("unimplemented")
}

// GetMultipleStates implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetMultipleStates(keys ...string) ([][]byte, error) {
	panic("unimplemented")
}

// GetStateByRangeWithPagination implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetStateByRangeWithPagination(startKey, endKey string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	panic("unimplemented")
}

// SetEvent implements shim.ChaincodeStubInterface.
func (UnimplementedStub) SetEvent(name string, payload []byte) error {
	panic("unimplemented")
}

// GetQueryResult implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetQueryResult(query string) (shim.StateQueryIteratorInterface, error) {
	panic("unimplemented")
}

// GetQueryResultWithPagination implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetQueryResultWithPagination(query string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	panic("unimplemented")
}

// CreateCompositeKey implements shim.ChaincodeStubInterface.
func (UnimplementedStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return shim.CreateCompositeKey(objectType, attributes)
}

// SplitCompositeKey implements shim.ChaincodeStubInterface.
func (UnimplementedStub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	componentIndex := 1
	components := []string{}
	for i := 1; i < len(compositeKey); i++ {
		if compositeKey[i] == 0 { // U+0000
			components = append(components, compositeKey[componentIndex:i])
			componentIndex = i + 1
		}
	}
	return components[0], components[1:], nil
}

// GetStateByPartialCompositeKey implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	panic("unimplemented")
}

// GetStateByPartialCompositeKeyWithPagination implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetStateByPartialCompositeKeyWithPagination(objectType string, keys []string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	panic("unimplemented")
}

// GetAllStatesCompositeKeyWithPagination implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetAllStatesCompositeKeyWithPagination(pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	panic("unimplemented")
}

// SetStateValidationParameter implements shim.ChaincodeStubInterface.
func (UnimplementedStub) SetStateValidationParameter(key string, ep []byte) error {
	panic("unimplemented")
}

// GetStateValidationParameter implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetStateValidationParameter(key string) ([]byte, error) {
	panic("unimplemented")
}

// StartWriteBatch implements shim.ChaincodeStubInterface.
func (UnimplementedStub) StartWriteBatch() {
	panic("unimplemented")
}

// FinishWriteBatch implements shim.ChaincodeStubInterface.
func (UnimplementedStub) FinishWriteBatch() error {
	panic("unimplemented")
}

// GetPrivateData implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetPrivateData(collection, key string) ([]byte, error) {
	panic("unimplemented")
}

// PutPrivateData implements shim.ChaincodeStubInterface.
func (UnimplementedStub) PutPrivateData(collection, key string, value []byte) error {
	panic("unimplemented")
}

// DelPrivateData implements shim.ChaincodeStubInterface.
func (UnimplementedStub) DelPrivateData(collection, key string) error {
	panic("unimplemented")
}

// PurgePrivateData implements shim.ChaincodeStubInterface.
func (UnimplementedStub) PurgePrivateData(collection, key string) error {
	panic("unimplemented")
}

// GetMultiplePrivateData implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetMultiplePrivateData(collection string, keys ...string) ([][]byte, error) {
	panic("unimplemented")
}

// GetPrivateDataByRange implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetPrivateDataByRange(collection, startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	panic("unimplemented")
}

// GetPrivateDataByPartialCompositeKey implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetPrivateDataByPartialCompositeKey(collection, objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	panic("unimplemented")
}

// GetPrivateDataQueryResult implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetPrivateDataQueryResult(collection, query string) (shim.StateQueryIteratorInterface, error) {
	panic("unimplemented")
}

// GetPrivateDataHash implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetPrivateDataHash(collection, key string) ([]byte, error) {
	panic("unimplemented")
}

// GetPrivateDataValidationParameter implements shim.ChaincodeStubInterface.
func (UnimplementedStub) GetPrivateDataValidationParameter(collection, key string) ([]byte, error) {
	panic("unimplemented")
}

// SetPrivateDataValidationParameter implements shim.ChaincodeStubInterface.
func (UnimplementedStub) SetPrivateDataValidationParameter(collection, key string, ep []byte) error {
	panic("unimplemented")
}
