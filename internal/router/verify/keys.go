package verify

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/dmitrijs2005/blobrouter/internal/common"
)

// KeySource supplies public key material in one of three forms: raw DER
// bytes, a base64-encoded DER string, or a named key file on disk.
type KeySource struct {
	raw    []byte
	base64 string
	file   string
}

// RawKey wraps already-loaded DER key bytes.
func RawKey(der []byte) KeySource {
	return KeySource{raw: der}
}

// Base64Key wraps a base64-encoded DER key string.
func Base64Key(encoded string) KeySource {
	return KeySource{base64: encoded}
}

// KeyFile names a DER key file on disk. Decoding is cached per file name.
func KeyFile(path string) KeySource {
	return KeySource{file: path}
}

// resolveKey decodes the key source into an RSA public key. File-backed
// keys are parsed once and served from the cache afterwards.
func (v *Verifier) resolveKey(key KeySource) (*rsa.PublicKey, error) {
	if key.file != "" {
		return v.loadKeyFile(key.file)
	}

	der := key.raw
	if key.base64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(key.base64)
		if err != nil {
			return nil, fmt.Errorf("%w: base64 decode: %w", common.ErrInvalidPublicKey, err)
		}
		der = decoded
	}

	return parsePublicKey(der)
}

func (v *Verifier) loadKeyFile(path string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if pub, ok := v.fileKeys[path]; ok {
		return pub, nil
	}

	der, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file %q: %w", common.ErrInvalidPublicKey, path, err)
	}

	pub, err := parsePublicKey(der)
	if err != nil {
		return nil, err
	}

	v.fileKeys[path] = pub
	return pub, nil
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidPublicKey, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", common.ErrInvalidPublicKey)
	}
	return pub, nil
}
