package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/seastack/bosun/pkg/storage"
)

// Authority is the service-scoped certificate authority for transport
// encryption. Tasks that declare a transport-encryption identity get a
// leaf certificate chained to this root, so instances of a service can
// verify each other without any external PKI.
//
// The root key is sealed with AES-256-GCM before it touches the store.
type Authority struct {
	store storage.Store
	seal  []byte

	mu       sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

const (
	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 90 * 24 * time.Hour
	keySize      = 2048
)

// authorityRecord is the persisted form: DER root cert plus sealed key.
type authorityRecord struct {
	RootCertDER   []byte
	SealedRootKey []byte
}

// NewAuthority creates an authority sealing its key material with sealKey,
// which must be 32 bytes.
func NewAuthority(store storage.Store, sealKey []byte) (*Authority, error) {
	if len(sealKey) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(sealKey))
	}
	return &Authority{store: store, seal: sealKey}, nil
}

// DeriveSealKey derives a 32-byte sealing key for the named service.
func DeriveSealKey(service string) []byte {
	sum := sha256.Sum256([]byte("bosun-authority:" + service))
	return sum[:]
}

// Load restores the root from the store, generating and persisting a fresh
// one on first use.
func (a *Authority) Load(service string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := a.store.GetAuthority()
	if errors.Is(err, storage.ErrNotFound) {
		return a.generate(service)
	}
	if err != nil {
		return err
	}

	var rec authorityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decoding authority record: %w", err)
	}
	keyDER, err := open(a.seal, rec.SealedRootKey)
	if err != nil {
		return fmt.Errorf("unsealing root key: %w", err)
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return fmt.Errorf("parsing root key: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rec.RootCertDER)
	if err != nil {
		return fmt.Errorf("parsing root certificate: %w", err)
	}

	a.rootCert = rootCert
	a.rootKey = rootKey
	return nil
}

// generate mints a self-signed root for the service and persists it.
// Callers hold a.mu.
func (a *Authority) generate(service string) error {
	rootKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return fmt.Errorf("generating root key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Bosun"},
			CommonName:   service + " Transport CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("creating root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parsing root certificate: %w", err)
	}

	sealed, err := sealBytes(a.seal, x509.MarshalPKCS1PrivateKey(rootKey))
	if err != nil {
		return fmt.Errorf("sealing root key: %w", err)
	}
	data, err := json.Marshal(authorityRecord{RootCertDER: certDER, SealedRootKey: sealed})
	if err != nil {
		return err
	}
	if err := a.store.PutAuthority(data); err != nil {
		return fmt.Errorf("persisting authority: %w", err)
	}

	a.rootCert = rootCert
	a.rootKey = rootKey
	return nil
}

// Issue mints a leaf certificate for one instance's transport identity.
// The returned PEM material is delivered into the task sandbox; it is
// never persisted by the orchestrator.
func (a *Authority) Issue(identity, instanceID string, dnsNames []string) (certPEM, keyPEM, caPEM []byte, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.rootCert == nil || a.rootKey == nil {
		return nil, nil, nil, errors.New("authority not loaded")
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generating key for %s: %w", instanceID, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Bosun"},
			CommonName:   fmt.Sprintf("%s/%s", instanceID, identity),
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(leafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:    dnsNames,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, a.rootCert, &leafKey.PublicKey, a.rootKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("issuing certificate for %s: %w", instanceID, err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(leafKey)})
	caPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootCert.Raw})
	return certPEM, keyPEM, caPEM, nil
}

// Verify checks a leaf certificate against the root.
func (a *Authority) Verify(cert *x509.Certificate) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.rootCert == nil {
		return errors.New("authority not loaded")
	}
	roots := x509.NewCertPool()
	roots.AddCert(a.rootCert)
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	})
	return err
}

// RootPEM returns the root certificate, PEM-encoded.
func (a *Authority) RootPEM() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.rootCert == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootCert.Raw})
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}
