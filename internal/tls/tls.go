// Package tls provides TLS certificate loading and self-signed generation
// for the mail listeners.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"time"
)

// GenerateSelfSignedCert generates an in-memory ECDSA P-256 self-signed
// certificate valid for 1 year. The certificate names the given mail
// domain plus localhost and 127.0.0.1 so local clients can connect too.
// No files are written to disk.
func GenerateSelfSignedCert(domain string) (*tls.Certificate, error) {
	if domain == "" {
		domain = "localhost"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	dnsNames := []string{domain}
	if domain != "localhost" {
		dnsNames = append(dnsNames, "localhost")
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: domain,
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,

		DNSNames:    dnsNames,
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509 key pair: %w", err)
	}

	return &cert, nil
}

// LoadOrGenerate loads a TLS key pair from the given file paths, falling
// back to a self-signed certificate when the paths are empty or the files
// are missing. The fallback is logged, not fatal: a dev or first-boot
// deployment still gets working TLS.
func LoadOrGenerate(certFile, keyFile, domain string) (*tls.Config, error) {
	if certFile != "" && keyFile != "" {
		if fileExists(certFile) && fileExists(keyFile) {
			loaded, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			return newConfig(loaded), nil
		}
		slog.Warn("TLS certificate files not found, using self-signed certificate",
			"cert_file", certFile,
			"key_file", keyFile,
		)
	}

	generated, err := GenerateSelfSignedCert(domain)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed cert: %w", err)
	}
	return newConfig(*generated), nil
}

func newConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
