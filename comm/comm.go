// Package comm dials the two gRPC endpoints the SDK talks to: the gateway
// (server-auth TLS) and the chaincode support service on a peer (mutual TLS).
package comm

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// NewGatewayConn opens a TLS-authenticated connection to a gateway. The CA
// certificate is supplied as PEM bytes.
func NewGatewayConn(addr string, caPEM []byte) (*grpc.ClientConn, error) {
	creds, err := serverTLS(addr, caPEM)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return conn, nil
}

// NewChaincodeConn opens a mutually-authenticated connection to a peer's
// chaincode support endpoint. All certificates are supplied as PEM bytes.
func NewChaincodeConn(addr string, caPEM, clientCertPEM, clientKeyPEM []byte) (*grpc.ClientConn, error) {
	roots := x509.NewCertPool()
	if ok := roots.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("failed to append peer TLS cert")
	}

	clientCert, err := tls.X509KeyPair(clientCertPEM, clientKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("load client key pair: %w", err)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("peer address [%s] must contain port: %w", addr, err)
	}
	creds := credentials.NewTLS(&tls.Config{
		RootCAs:      roots,
		Certificates: []tls.Certificate{clientCert},
		ServerName:   host,
	})

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial peer: %w", err)
	}
	return conn, nil
}

// NewInsecureConn opens a plaintext connection, for peers running without
// TLS and for in-process tests.
func NewInsecureConn(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func serverTLS(addr string, caPEM []byte) (credentials.TransportCredentials, error) {
	roots := x509.NewCertPool()
	if ok := roots.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("failed to append gateway TLS cert")
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("gateway address [%s] must contain port: %w", addr, err)
	}
	return credentials.NewTLS(&tls.Config{
		RootCAs:    roots,
		ServerName: host,
	}), nil
}
