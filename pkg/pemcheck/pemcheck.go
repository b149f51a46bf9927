// Package pemcheck sanity-validates PEM certificate and key material
// before it is written to disk or handed to a TLS listener. It does not
// prove that a key matches a certificate.
package pemcheck

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// Validation errors.
var (
	ErrMissingCertMarkers = errors.New("pemcheck: missing BEGIN/END CERTIFICATE markers")
	ErrUnrecognizedKey    = errors.New("pemcheck: unrecognized private key PEM type")
)

// keyPEMTypes are the accepted private key block types.
var keyPEMTypes = map[string]struct{}{
	"PRIVATE KEY":     {}, // PKCS#8
	"RSA PRIVATE KEY": {}, // PKCS#1
	"EC PRIVATE KEY":  {}, // SEC 1
}

// ValidateCertificate checks that blob is a PEM-encoded X.509 certificate
// whose validity window contains the current time.
func ValidateCertificate(blob []byte) error {
	cert, err := decodeCertificate(blob)
	if err != nil {
		return err
	}

	now := time.Now()
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("pemcheck: certificate not valid before %s", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("pemcheck: certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// ValidatePrivateKey checks that blob carries a recognized private key
// PEM block. The key material itself is treated as opaque.
func ValidatePrivateKey(blob []byte) error {
	block, _ := pem.Decode(blob)
	if block == nil {
		return ErrUnrecognizedKey
	}
	if _, ok := keyPEMTypes[block.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnrecognizedKey, block.Type)
	}
	return nil
}

// ValidateCA checks that blob is a currently-valid PEM certificate and
// reports whether its basic constraints mark it as a CA. A non-CA
// certificate is not an error; callers log a warning.
func ValidateCA(blob []byte) (isCA bool, err error) {
	cert, err := decodeCertificate(blob)
	if err != nil {
		return false, err
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return false, fmt.Errorf("pemcheck: CA certificate outside validity window %s..%s",
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
	}
	return cert.IsCA, nil
}

func decodeCertificate(blob []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(blob)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrMissingCertMarkers
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("pemcheck: parsing certificate: %w", err)
	}
	return cert, nil
}
