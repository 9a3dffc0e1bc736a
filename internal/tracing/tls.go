package tracing

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// transportCredentials picks the gRPC credentials for the exporter. The
// second return value reports whether the exporter must dial without TLS.
func transportCredentials(cfg Config) (grpc.DialOption, bool, error) {
	if cfg.TLSCAPath == "" && !cfg.TLSInsecure {
		return grpc.WithTransportCredentials(insecure.NewCredentials()), true, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSInsecure {
		tlsConfig.InsecureSkipVerify = true
	} else {
		pool, err := loadCertPool(cfg.TLSCAPath)
		if err != nil {
			return nil, false, err
		}
		tlsConfig.RootCAs = pool
	}
	return grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)), false, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
