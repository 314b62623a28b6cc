package socket

import (
	"crypto/x509" //nolint:staticcheck // IsEncryptedPEMBlock/DecryptPEMBlock: see below
	"encoding/pem"

	"github.com/pkg/errors"
)

// decryptLegacyPEMBlock decrypts a password-protected PEM-encoded private
// key using the deprecated legacy PEM encryption in crypto/x509. No
// library in the example corpus (or its transitive dependency graph)
// implements legacy PEM key-password decryption; everything else in this
// file uses crypto/tls and crypto/x509 at their supported, non-deprecated
// surface. See SPEC_FULL.md PART C, "Stdlib-only concerns".
func decryptLegacyPEMBlock(block *pem.Block, password []byte) ([]byte, error) {
	if !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		return block.Bytes, nil
	}
	decrypted, err := x509.DecryptPEMBlock(block, password) //nolint:staticcheck
	if err != nil {
		return nil, errors.Wrap(err, "incorrect password or corrupt key")
	}
	return decrypted, nil
}
