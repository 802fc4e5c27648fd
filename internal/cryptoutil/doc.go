// Package cryptoutil holds the integrity checks for content bundles:
// constant-time digest comparison and detached signature verification
// against an AWS KMS asymmetric key.
package cryptoutil
