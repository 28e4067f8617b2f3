// Package gateway submits transactions through the Fabric gateway's
// endorse/submit protocol.
package gateway

import (
	"context"
	"fmt"

	"github.com/arner/fabric-sdk/comm"
	"github.com/arner/fabric-sdk/fabrictx"
	"github.com/arner/fabric-sdk/identity"
	gwproto "github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"google.golang.org/grpc"
)

// Client drives the two-phase gateway protocol: endorse the proposal, then
// submit the endorsed envelope for ordering.
type Client struct {
	identity identity.Identity
	signer   *identity.Signer
	caPEM    []byte
	addr     string

	conn *grpc.ClientConn
	gw   gwproto.GatewayClient
}

// Connect dials the gateway. Building a client does not open a connection.
func (c *Client) Connect() error {
	if c.gw != nil {
		return nil
	}
	conn, err := comm.NewGatewayConn(c.addr, c.caPEM)
	if err != nil {
		return err
	}
	c.conn = conn
	c.gw = gwproto.NewGatewayClient(conn)
	return nil
}

// ConnectWith uses an existing connection instead of dialing, for in-process
// gateways in tests.
func (c *Client) ConnectWith(conn grpc.ClientConnInterface) {
	c.gw = gwproto.NewGatewayClient(conn)
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// NewTransaction returns a transaction builder bound to the client's identity
// and signer. Build prepares the transaction without any network I/O.
func (c *Client) NewTransaction() *fabrictx.Builder {
	return fabrictx.NewBuilder(c.identity, c.signer)
}

// SubmitTransaction endorses and submits a prepared transaction and returns
// the chaincode's response payload.
func (c *Client) SubmitTransaction(ctx context.Context, prepared *fabrictx.PreparedTransaction) ([]byte, error) {
	if c.gw == nil {
		return nil, ErrNotConnected
	}

	resp, err := c.gw.Endorse(ctx, prepared.EndorseRequest())
	if err != nil {
		return nil, &NodeError{Op: "endorse", Err: err}
	}
	envelope := resp.GetPreparedTransaction()
	if envelope == nil {
		return nil, ErrEmptyResponse
	}

	if err := fabrictx.VerifyEndorsements(envelope); err != nil {
		return nil, fmt.Errorf("verify endorsements: %w", err)
	}
	result, err := fabrictx.ExtractResult(envelope)
	if err != nil {
		return nil, fmt.Errorf("extract result: %w", err)
	}

	// the submitter signs the endorsed payload; the submit call gets its own
	// transaction id as an idempotency token
	envelope.Signature, err = c.signer.Sign(envelope.Payload)
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}
	creator, err := c.identity.Serialize()
	if err != nil {
		return nil, err
	}
	nonce, err := fabrictx.NewNonce()
	if err != nil {
		return nil, err
	}

	_, err = c.gw.Submit(ctx, &gwproto.SubmitRequest{
		TransactionId:       fabrictx.ComputeTxID(nonce, creator),
		ChannelId:           prepared.ChannelID(),
		PreparedTransaction: envelope,
	})
	if err != nil {
		return nil, &NodeError{Op: "submit", Err: err}
	}
	return result, nil
}

// ClientBuilder configures and builds a Client.
type ClientBuilder struct {
	identity *identity.Identity
	signer   *identity.Signer
	caPEM    []byte
	addr     string
}

func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{}
}

func (b *ClientBuilder) WithIdentity(id identity.Identity) *ClientBuilder {
	b.identity = &id
	return b
}

func (b *ClientBuilder) WithSigner(signer *identity.Signer) *ClientBuilder {
	b.signer = signer
	return b
}

// WithTLS sets the CA certificate for the gateway connection as PEM bytes.
func (b *ClientBuilder) WithTLS(caPEM []byte) *ClientBuilder {
	b.caPEM = caPEM
	return b
}

// WithAddress sets the gateway address, host:port. Defaults to the test
// network's localhost:7051.
func (b *ClientBuilder) WithAddress(addr string) *ClientBuilder {
	b.addr = addr
	return b
}

func (b *ClientBuilder) Build() (*Client, error) {
	if b.identity == nil {
		return nil, &fabrictx.MissingParameterError{Name: "identity"}
	}
	if b.signer == nil {
		return nil, &fabrictx.MissingParameterError{Name: "signer"}
	}
	if b.caPEM == nil {
		return nil, &fabrictx.MissingParameterError{Name: "tls"}
	}
	addr := b.addr
	if addr == "" {
		addr = "localhost:7051"
	}
	return &Client{
		identity: *b.identity,
		signer:   b.signer,
		caPEM:    b.caPEM,
		addr:     addr,
	}, nil
}
