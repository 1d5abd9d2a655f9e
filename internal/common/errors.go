// Package common defines shared constants and sentinel errors used across
// the router layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// blob storage errors
	ErrBlobAlreadyExists    = errors.New("blob already exists")
	ErrLeaseNotAcquired     = errors.New("lease not acquired")
	ErrUnknownTargetAccount = errors.New("unknown target storage account")

	// verification configuration errors
	ErrUnknownSignatureAlgorithm = errors.New("unknown signature algorithm")
	ErrInvalidPublicKey          = errors.New("invalid public key")

	// credential errors
	ErrInvalidTokenResponse = errors.New("invalid sas token response")
)
