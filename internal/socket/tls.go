package socket

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ClientTLSOptions mirrors original_source's create_client_tls_context:
// Verify is "verify" (OS defaults, the zero value), "ignore" (skip
// verification), or a path to a CA file/directory.
type ClientTLSOptions struct {
	Verify string
}

// NewClientTLSOptions builds a client tls.Config per spec.md §4.2 "client
// contexts default to OS-default verification; may be set to Ignore... or
// CA(path)". Grounded on original_source/_tls.py's create_client_tls_context
// and the teacher's driver/remote/driver.go loadTLS CA-loading idiom.
func NewClientTLSOptions(opts ClientTLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	switch opts.Verify {
	case "", "verify":
		return cfg, nil
	case "ignore":
		cfg.InsecureSkipVerify = true
		return cfg, nil
	default:
		pool, err := loadCAPool(opts.Verify)
		if err != nil {
			return nil, errors.Wrapf(err, "socket: load CA verify location %q", opts.Verify)
		}
		cfg.RootCAs = pool
		return cfg, nil
	}
}

// ServerTLSOptions mirrors original_source's create_server_tls_context.
type ServerTLSOptions struct {
	CertFile     string
	KeyFile      string
	KeyPassword  string
	ClientCAFile string // non-empty enables mutual auth
}

// NewServerTLSOptions builds a server tls.Config, loading the certificate
// chain (optionally with a password-protected key, §6.5
// ANSIBUG_TLS_KEY_PASS) and, if ClientCAFile is set, requiring and
// verifying a client certificate (mutual auth, spec.md §4.2).
func NewServerTLSOptions(opts ServerTLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.CertFile == "" {
		return cfg, nil
	}

	cert, err := loadKeyPair(opts.CertFile, opts.KeyFile, opts.KeyPassword)
	if err != nil {
		return nil, errors.Wrap(err, "socket: load server certificate")
	}
	cfg.Certificates = []tls.Certificate{cert}

	if opts.ClientCAFile != "" {
		pool, err := loadCAPool(opts.ClientCAFile)
		if err != nil {
			return nil, errors.Wrap(err, "socket: load client CA")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Errorf("verify location path %q does not exist", path)
	}

	addFile := func(p string) error {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !pool.AppendCertsFromPEM(b) {
			return errors.Errorf("no PEM certificates found in %q", p)
		}
		return nil
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := addFile(filepath.Join(path, e.Name())); err != nil {
				return nil, err
			}
		}
		return pool, nil
	}

	if err := addFile(path); err != nil {
		return nil, err
	}
	return pool, nil
}

// loadKeyPair loads a certificate and key, decrypting the key if password
// is non-empty. The crypto/x509 legacy PEM decryption API is used here
// deliberately: no third-party library in the example corpus offers
// password-protected PEM key decryption (SPEC_FULL.md PART C,
// "Stdlib-only concerns").
func loadKeyPair(certFile, keyFile, password string) (tls.Certificate, error) {
	if keyFile == "" {
		keyFile = certFile
	}

	if password == "" {
		return tls.LoadX509KeyPair(certFile, keyFile)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, errors.New("socket: no PEM block found in key file")
	}

	decrypted, decErr := decryptLegacyPEMBlock(block, []byte(password))
	if decErr != nil {
		return tls.Certificate{}, errors.Wrap(decErr, "socket: decrypt private key")
	}

	keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: decrypted})
	return tls.X509KeyPair(certPEM, keyPEM)
}
