// Package tlsutil builds client TLS configurations for broker connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// minVersion is the minimum TLS version for broker connections.
const minVersion = tls.VersionTLS12

// ErrIncomplete is returned when only some of the three TLS files are set.
var ErrIncomplete = errors.New("tlsutil: cafile, certfile and keyfile are required together")

// LoadClientConfig builds a mutual-TLS client configuration.
//
// The CA file replaces the system pool: brokers are expected to present a
// certificate issued by the configured CA.
//
// Parameters:
//   - caFile: PEM bundle of trusted CA certificates
//   - certFile: PEM client certificate
//   - keyFile: PEM private key for certFile
//
// Returns:
//   - *tls.Config: ready for a broker dialer
//   - error: ErrIncomplete if any path is empty, or the load/parse failure
func LoadClientConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	if caFile == "" || certFile == "" || keyFile == "" {
		return nil, ErrIncomplete
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}

	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in CA file %s", caFile)
	}

	return &tls.Config{
		MinVersion:   minVersion,
		RootCAs:      rootCAs,
		Certificates: []tls.Certificate{cert},
	}, nil
}
