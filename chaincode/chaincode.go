// Package chaincode runs user contracts as an external process serving
// invocations from a peer over a single bidirectional stream.
package chaincode

import (
	"context"
	"fmt"

	"github.com/arner/fabric-sdk/comm"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/grpc"
)

var logger = flogging.MustGetLogger("chaincode")

// Start connects to the peer from the metadata and serves invocations until
// the stream closes.
func Start(ctx context.Context, md *Metadata, registry Registry) error {
	var (
		conn *grpc.ClientConn
		err  error
	)
	if len(md.RootCertPEM) > 0 {
		conn, err = comm.NewChaincodeConn(md.PeerAddress, md.RootCertPEM, md.ClientCertPEM, md.ClientKeyPEM)
	} else {
		conn, err = comm.NewInsecureConn(md.PeerAddress)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	return Serve(ctx, md, registry, conn)
}

// Serve runs the runtime over an existing connection. It registers the
// chaincode, routes inbound messages and dispatches invocations until the
// stream ends.
func Serve(ctx context.Context, md *Metadata, registry Registry, conn grpc.ClientConnInterface) error {
	router := NewRouter(conn)
	stream, err := router.Open(ctx)
	if err != nil {
		return err
	}

	mb, err := NewMessageBuilder(md, stream)
	if err != nil {
		return err
	}

	logger.Infof("chaincode %s starting, state CREATED", md.ChaincodeID.Name)
	// registration must be the very first outbound message
	if err := mb.Send(peer.ChaincodeMessage_REGISTER, mustMarshal(md.ChaincodeID)); err != nil {
		return fmt.Errorf("register chaincode: %w", err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- router.Run(stream)
	}()

	NewDispatcher(registry, md.ChaincodeID.Name, mb, router).Run()
	return <-errs
}
