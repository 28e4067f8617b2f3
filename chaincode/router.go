package chaincode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/grpc"
)

var routerLogger = flogging.MustGetLogger("chaincode.router")

// queueCapacity bounds the internal fan-out queues. Overflow is logged and
// dropped rather than blocking the stream.
const queueCapacity = 100

// recvStream is the inbound half of the peer stream.
type recvStream interface {
	Recv() (*peer.ChaincodeMessage, error)
}

// Router owns the bidirectional stream to the peer and demultiplexes inbound
// messages: new invocations go to the transaction queue, replies to state
// operations go to the mailbox of the invocation that issued them.
type Router struct {
	client       peer.ChaincodeSupportClient
	transactions chan *peer.ChaincodeMessage

	mu        sync.Mutex
	mailboxes map[string]chan *peer.ChaincodeMessage
}

func NewRouter(conn grpc.ClientConnInterface) *Router {
	return &Router{
		client:       peer.NewChaincodeSupportClient(conn),
		transactions: make(chan *peer.ChaincodeMessage, queueCapacity),
		mailboxes:    make(map[string]chan *peer.ChaincodeMessage),
	}
}

// Open starts the bidirectional stream. The caller must send REGISTER as the
// first outbound message.
func (r *Router) Open(ctx context.Context) (peer.ChaincodeSupport_RegisterClient, error) {
	stream, err := r.client.Register(ctx)
	if err != nil {
		return nil, fmt.Errorf("open register stream: %w", err)
	}
	return stream, nil
}

// Transactions is the queue of inbound invocations, closed when the stream
// ends.
func (r *Router) Transactions() <-chan *peer.ChaincodeMessage {
	return r.transactions
}

// OpenMailbox installs the reply queue for an in-flight invocation. Exactly
// one mailbox exists per transaction id; the dispatcher closes it when the
// invocation completes.
func (r *Router) OpenMailbox(txID string) <-chan *peer.ChaincodeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb := make(chan *peer.ChaincodeMessage, 1)
	r.mailboxes[txID] = mb
	return mb
}

func (r *Router) CloseMailbox(txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mb, ok := r.mailboxes[txID]; ok {
		delete(r.mailboxes, txID)
		close(mb)
	}
}

// Run receives messages until the stream ends. The router is single-shot:
// a transport error is logged and Run returns it, there is no reconnect.
func (r *Router) Run(stream recvStream) error {
	defer r.shutdown()

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			routerLogger.Info("stream closed by peer")
			return nil
		}
		if err != nil {
			routerLogger.Errorf("error receiving from stream: %s", err)
			return err
		}
		r.route(msg)
	}
}

func (r *Router) route(msg *peer.ChaincodeMessage) {
	switch msg.Type {
	case peer.ChaincodeMessage_REGISTERED:
		routerLogger.Info("received REGISTERED, state CREATED -> ESTABLISHED")
	case peer.ChaincodeMessage_READY:
		routerLogger.Info("received READY, state ESTABLISHED -> READY, accepting invocations")
	case peer.ChaincodeMessage_INIT, peer.ChaincodeMessage_TRANSACTION:
		routerLogger.Debugf("received invocation %s", msg.Txid)
		select {
		case r.transactions <- msg:
		default:
			routerLogger.Warnf("transaction queue full, dropping invocation %s", msg.Txid)
		}
	case peer.ChaincodeMessage_RESPONSE:
		routerLogger.Debugf("received response for %s", msg.Txid)
		r.deliver(msg)
	case peer.ChaincodeMessage_ERROR:
		routerLogger.Errorf("received ERROR for %s: %s", msg.Txid, msg.Payload)
		r.deliver(msg)
	default:
		routerLogger.Warnf("tx %s: dropping message of unexpected type %s", msg.Txid, msg.Type)
	}
}

func (r *Router) deliver(msg *peer.ChaincodeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb, ok := r.mailboxes[msg.Txid]
	if !ok {
		routerLogger.Warnf("no pending invocation for reply %s, dropping", msg.Txid)
		return
	}
	select {
	case mb <- msg:
	default:
		routerLogger.Warnf("mailbox for %s full, dropping reply", msg.Txid)
	}
}

func (r *Router) shutdown() {
	close(r.transactions)

	r.mu.Lock()
	defer r.mu.Unlock()
	for txID, mb := range r.mailboxes {
		delete(r.mailboxes, txID)
		close(mb)
	}
}
