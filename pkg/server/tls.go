package server

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	atomicfile "github.com/natefinch/atomic"
)

const certValidity = 365 * 24 * time.Hour

// certPaths resolves the certificate and key locations, defaulting to
// server.crt and server.key under the data directory.
func (s *Server) certPaths() (certPath, keyPath string) {
	certPath, keyPath = s.cfg.CertFile, s.cfg.KeyFile
	if certPath == "" {
		certPath = filepath.Join(s.cfg.DataDir, "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(s.cfg.DataDir, "server.key")
	}
	return certPath, keyPath
}

// hubCertificate returns the listener certificate. A missing pair is
// replaced by a self-signed one valid for localhost; a pair that exists but
// does not load is an error.
func (s *Server) hubCertificate() (tls.Certificate, error) {
	certPath, keyPath := s.certPaths()
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	switch {
	case err == nil:
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	case !errors.Is(err, fs.ErrNotExist):
		return tls.Certificate{}, fmt.Errorf("load %s: %w", certPath, err)
	}

	certPEM, keyPEM, err := selfSigned(s.now())
	if err != nil {
		return tls.Certificate{}, err
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0o750); err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return tls.Certificate{}, fmt.Errorf("create key dir: %w", err)
	}
	if err := atomicfile.WriteFile(keyPath, bytes.NewReader(keyPEM)); err != nil {
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	if err := os.Chmod(keyPath, 0o600); err != nil {
		return tls.Certificate{}, fmt.Errorf("chmod key: %w", err)
	}
	if err := atomicfile.WriteFile(certPath, bytes.NewReader(certPEM)); err != nil {
		return tls.Certificate{}, fmt.Errorf("write cert: %w", err)
	}
	slog.Info("generated self-signed TLS certificate", "cert", certPath, "key", keyPath)
	return tls.X509KeyPair(certPEM, keyPEM)
}

// selfSigned builds a P-256 certificate for the loopback names and returns
// the certificate and PKCS#8 key as PEM.
func selfSigned(now time.Time) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("serial number: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"orderhub"}, CommonName: "localhost"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("create cert: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
