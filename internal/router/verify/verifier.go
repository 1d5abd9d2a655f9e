// Package verify validates signed document envelopes: an outer zip with
// exactly two fixed-name entries, the inner payload archive and a
// detached signature over it.
//
// Verification failures are ordinary data, not control flow: Verify
// returns a Result tagged with one of four outcomes that the caller
// switches on.
package verify

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"golang.org/x/crypto/sha3"
)

const (
	// EnvelopeEntryName is the inner payload archive entry of the outer zip.
	EnvelopeEntryName = "envelope.zip"
	// SignatureEntryName is the detached signature entry of the outer zip.
	SignatureEntryName = "signature"
)

// Outcome classifies a verification attempt.
type Outcome int

const (
	// OutcomeVerified means format and signature checks both passed.
	OutcomeVerified Outcome = iota
	// OutcomeFormatInvalid means the outer zip does not hold exactly the
	// two expected entries (or is not a zip at all). Terminal for the
	// envelope; never retried.
	OutcomeFormatInvalid
	// OutcomeSignatureInvalid means the signature is malformed or does
	// not match the payload. Terminal for the envelope; never retried.
	OutcomeSignatureInvalid
	// OutcomeConfigError means the algorithm or key material is broken.
	// This is a deployment bug, not a per-envelope fault.
	OutcomeConfigError
)

// Result is the typed outcome of Verify. Payload is set only for
// OutcomeVerified; Err carries the cause for the failure outcomes.
type Result struct {
	Outcome Outcome
	Payload []byte
	Err     error
}

func verified(payload []byte) Result {
	return Result{Outcome: OutcomeVerified, Payload: payload}
}

func formatInvalid(err error) Result {
	return Result{Outcome: OutcomeFormatInvalid, Err: err}
}

func signatureInvalid(err error) Result {
	return Result{Outcome: OutcomeSignatureInvalid, Err: err}
}

func configError(err error) Result {
	return Result{Outcome: OutcomeConfigError, Err: err}
}

// Algorithm checks a detached signature over payload with the given key.
type Algorithm func(pub *rsa.PublicKey, payload []byte, signature []byte) error

// algorithms is the closed registry of supported verification functions,
// resolved by string identifier from configuration.
var algorithms = map[string]Algorithm{
	"sha256withrsa": func(pub *rsa.PublicKey, payload, signature []byte) error {
		digest := sha256.Sum256(payload)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature)
	},
	"rsa-pss-sha3-256": func(pub *rsa.PublicKey, payload, signature []byte) error {
		digest := sha3.Sum256(payload)
		return rsa.VerifyPSS(pub, crypto.SHA3_256, digest[:], signature, nil)
	},
}

// Verifier checks signed envelopes. Decoded key files are cached per file
// name, since many envelopes in one container share a jurisdiction key.
type Verifier struct {
	mu       sync.Mutex
	fileKeys map[string]*rsa.PublicKey
}

func NewVerifier() *Verifier {
	return &Verifier{fileKeys: make(map[string]*rsa.PublicKey)}
}

// Verify checks the outer zip format and the detached signature.
//
// Any uncertainty resolves to a failure outcome, never to Verified.
func (v *Verifier) Verify(outerZip []byte, key KeySource, algorithmID string) Result {
	reader, err := zip.NewReader(bytes.NewReader(outerZip), int64(len(outerZip)))
	if err != nil {
		return formatInvalid(fmt.Errorf("invalid zip archive: %w", err))
	}

	entries, err := readEntries(reader)
	if err != nil {
		return formatInvalid(err)
	}

	algorithm, ok := algorithms[algorithmID]
	if !ok {
		return configError(fmt.Errorf("%w: %q", common.ErrUnknownSignatureAlgorithm, algorithmID))
	}

	pub, err := v.resolveKey(key)
	if err != nil {
		return configError(err)
	}

	payload := entries[EnvelopeEntryName]
	if err := algorithm(pub, payload, entries[SignatureEntryName]); err != nil {
		return signatureInvalid(fmt.Errorf("zip signature failed verification: %w", err))
	}

	return verified(payload)
}

// readEntries reads both entries of the outer zip, enforcing that exactly
// the two expected names are present regardless of signature validity.
func readEntries(reader *zip.Reader) (map[string][]byte, error) {
	if len(reader.File) != 2 {
		return nil, fmt.Errorf("zip entries do not match expected file names: found %d entries", len(reader.File))
	}

	entries := make(map[string][]byte, 2)
	for _, f := range reader.File {
		if f.Name != EnvelopeEntryName && f.Name != SignatureEntryName {
			return nil, fmt.Errorf("zip entries do not match expected file names: unexpected entry %q", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("cannot open zip entry %q: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("cannot read zip entry %q: %w", f.Name, err)
		}
		entries[f.Name] = data
	}

	if _, ok := entries[EnvelopeEntryName]; !ok {
		return nil, fmt.Errorf("zip entries do not match expected file names: missing %q", EnvelopeEntryName)
	}
	if _, ok := entries[SignatureEntryName]; !ok {
		return nil, fmt.Errorf("zip entries do not match expected file names: missing %q", SignatureEntryName)
	}

	return entries, nil
}
