package chaincode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/protobuf/proto"
)

var dispatchLogger = flogging.MustGetLogger("chaincode.dispatch")

// Handler executes a single chaincode function. Implementations parse their
// own arguments (see DecodeArg) and return the JSON-encoded result.
// Handlers are usually generated from user functions by the code generation
// layer; this is the contract they must fulfil.
type Handler interface {
	Name() string
	Call(ctx *Context, args []string) (string, error)
}

// Registry maps contract and function names to handlers. Functions outside
// any contract are registered under the empty contract name.
type Registry map[string]map[string]Handler

func NewRegistry() Registry {
	return Registry{}
}

func (r Registry) Add(contract string, handlers ...Handler) Registry {
	functions, ok := r[contract]
	if !ok {
		functions = make(map[string]Handler)
		r[contract] = functions
	}
	for _, h := range handlers {
		functions[h.Name()] = h
	}
	return r
}

// DecodeArg decodes a chaincode argument the way generated handlers do:
// JSON first, falling back to treating the raw token as a string literal.
func DecodeArg[T any](raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}
	if err := json.Unmarshal([]byte(strconv.Quote(raw)), &v); err != nil {
		return v, fmt.Errorf("unable to deserialize argument: %w", err)
	}
	return v, nil
}

// Dispatcher pulls invocations off the transaction queue and runs them
// concurrently, each on its own goroutine.
type Dispatcher struct {
	registry  Registry
	chaincode string
	mb        *MessageBuilder
	router    *Router
	wg        sync.WaitGroup
}

func NewDispatcher(registry Registry, chaincodeName string, mb *MessageBuilder, router *Router) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		chaincode: chaincodeName,
		mb:        mb,
		router:    router,
	}
}

// Run consumes the transaction queue until it closes and waits for in-flight
// invocations to finish.
func (d *Dispatcher) Run() {
	for msg := range d.router.Transactions() {
		dispatchLogger.Debugf("executing transaction %s", msg.Txid)
		d.wg.Add(1)
		go func(msg *peer.ChaincodeMessage) {
			defer d.wg.Done()
			d.execute(msg)
		}(msg)
	}
	d.wg.Wait()
	dispatchLogger.Info("transaction queue closed")
}

func (d *Dispatcher) execute(msg *peer.ChaincodeMessage) {
	input := &peer.ChaincodeInput{}
	if err := proto.Unmarshal(msg.Payload, input); err != nil || len(input.Args) == 0 {
		text := "invalid chaincode input: no arguments"
		if err != nil {
			text = fmt.Sprintf("invalid chaincode input: %s", err)
		}
		dispatchLogger.Errorf("tx %s: %s", msg.Txid, text)
		if err := d.mb.Send(peer.ChaincodeMessage_ERROR, []byte(text)); err != nil {
			dispatchLogger.Errorf("tx %s: send error reply: %s", msg.Txid, err)
		}
		if err := d.mb.Send(peer.ChaincodeMessage_RESPONSE, []byte(text)); err != nil {
			dispatchLogger.Errorf("tx %s: send error response: %s", msg.Txid, err)
		}
		return
	}

	args := make([]string, len(input.Args))
	for i, a := range input.Args {
		args[i] = string(a)
	}
	contract, function := splitQualifiedName(args[0])

	response := d.invoke(msg, contract, function, args[1:])
	if err := d.mb.Respond(peer.ChaincodeMessage_COMPLETED, mustMarshal(response), msg); err != nil {
		dispatchLogger.Errorf("tx %s: send completion: %s", msg.Txid, err)
	}
}

func (d *Dispatcher) invoke(msg *peer.ChaincodeMessage, contract, function string, args []string) *peer.Response {
	functions, ok := d.registry[contract]
	if !ok {
		return &peer.Response{
			Status:  int32(common.Status_NOT_FOUND),
			Message: fmt.Sprintf("contract %s with function %s not found in chaincode %s", contract, function, d.chaincode),
		}
	}
	handler, ok := functions[function]
	if !ok {
		return &peer.Response{
			Status:  int32(common.Status_NOT_FOUND),
			Message: fmt.Sprintf("function %s not found in contract %s from chaincode %s", function, contract, d.chaincode),
		}
	}

	mailbox := d.router.OpenMailbox(msg.Txid)
	defer d.router.CloseMailbox(msg.Txid)

	result, err := handler.Call(newContext(d.mb, msg, mailbox), args)
	if err != nil {
		return &peer.Response{
			Status:  int32(common.Status_INTERNAL_SERVER_ERROR),
			Message: fmt.Sprintf("an error occurred during the execution of the chaincode function: %s", err),
		}
	}
	return &peer.Response{
		Status:  int32(common.Status_SUCCESS),
		Message: result,
	}
}

// splitQualifiedName splits "contract:function" into its parts; a bare
// function name belongs to the empty contract.
func splitQualifiedName(qualified string) (contract, function string) {
	if c, f, ok := strings.Cut(qualified, ":"); ok {
		return c, f
	}
	return "", qualified
}
