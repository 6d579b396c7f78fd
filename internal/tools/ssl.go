package tools

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const certificateLifetime = 365 * 24 * time.Hour

// EnsureCertificate keeps a self-signed certificate for hosts at certPath
// and keyPath, generating a new pair when either file is missing, unreadable
// or outside its validity window.
func EnsureCertificate(certPath, keyPath string, hosts ...string) error {
	if certificateValid(certPath, keyPath, time.Now()) {
		return nil
	}
	log.WithField("cert", certPath).Info("Generating self-signed certificate")
	return generateSelfSignedCertificate(certPath, keyPath, hosts)
}

func certificateValid(certPath, keyPath string, now time.Time) bool {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return false
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return false
	}
	return now.After(x509Cert.NotBefore) && now.Before(x509Cert.NotAfter)
}

func generateSelfSignedCertificate(certPath, keyPath string, hosts []string) error {
	// Generate a private key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	// Create a certificate template
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Color Meter"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(certificateLifetime),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	// Create a self-signed certificate
	certBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return err
	}

	// The key is written owner-only
	if err := writePEM(keyPath, 0600, &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}); err != nil {
		return err
	}
	return writePEM(certPath, 0644, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certBytes,
	})
}

func writePEM(path string, perm os.FileMode, block *pem.Block) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, block); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
