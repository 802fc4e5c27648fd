package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

var (
	// ErrBundleSignature is returned when a content bundle's detached
	// signature is missing, malformed or does not match the bundle.
	ErrBundleSignature = errors.New("content bundle signature rejected")

	// ErrSigningKey is returned when the configured KMS key cannot be used
	// to verify content bundles.
	ErrSigningKey = errors.New("content signing key unusable")
)

// algorithms the release pipeline may sign bundles with
var bundleSigningAlgorithms = []kmstypes.SigningAlgorithmSpec{
	kmstypes.SigningAlgorithmSpecEcdsaSha256,
	kmstypes.SigningAlgorithmSpecEcdsaSha384,
	kmstypes.SigningAlgorithmSpecRsassaPssSha256,
	kmstypes.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
}

// KeyFetcher is the subset of the KMS API needed to fetch a public key.
type KeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier checks content bundle signatures locally against the public
// half of the content signing key. The key is fetched from KMS on first use
// so a bundle load never needs a KMS round trip per request.
type KMSVerifier struct {
	client KeyFetcher
	keyARN string

	// AllowPKCS1v15 accepts RSA PKCS#1 v1.5 bundle signatures when PSS fails.
	AllowPKCS1v15 bool

	mu     sync.Mutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client KeyFetcher, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

// PublicKey returns the cached signing key. A failed fetch is retried on
// the next bundle.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pubKey != nil {
		return v.pubKey, nil
	}
	if v.client == nil {
		return nil, xerrors.Newf("%w: no kms client for %s", ErrSigningKey, v.keyARN)
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyARN)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "fetch content signing key %s", v.keyARN)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("%w: %s has KeyUsage=%s, want SIGN_VERIFY", ErrSigningKey, v.keyARN, out.KeyUsage)
	}
	// older keys may not report algorithms; the key type check below still applies
	if len(out.SigningAlgorithms) > 0 && !slices.ContainsFunc(out.SigningAlgorithms, func(a kmstypes.SigningAlgorithmSpec) bool {
		return slices.Contains(bundleSigningAlgorithms, a)
	}) {
		return nil, xerrors.Newf("%w: %s supports %v, none usable for bundles", ErrSigningKey, v.keyARN, out.SigningAlgorithms)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Newf("%w: parse public key of %s: %v", ErrSigningKey, v.keyARN, err)
	}
	v.pubKey = pub
	return pub, nil
}

// VerifySignature checks a detached signature over the raw bundle bytes.
// The digest follows the key: SHA-256 for P-256 and RSA, SHA-384 for P-384.
func (v *KMSVerifier) VerifySignature(ctx context.Context, bundle, signature []byte) error {
	if len(signature) == 0 {
		return xerrors.Newf("%w: empty signature object", ErrBundleSignature)
	}
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, bundle, signature)
	case *rsa.PublicKey:
		return verifyRSA(key, bundle, signature, v.AllowPKCS1v15)
	default:
		return xerrors.Newf("%w: unsupported key type %T", ErrSigningKey, pub)
	}
}

func verifyECDSA(key *ecdsa.PublicKey, bundle, signature []byte) error {
	var digest []byte
	switch key.Curve {
	case elliptic.P256():
		d := sha256.Sum256(bundle)
		digest = d[:]
	case elliptic.P384():
		d := sha512.Sum384(bundle)
		digest = d[:]
	default:
		return xerrors.Newf("%w: unsupported curve %s", ErrSigningKey, key.Curve.Params().Name)
	}
	if !ecdsa.VerifyASN1(key, digest, signature) {
		return xerrors.Newf("%w: ECDSA %s mismatch", ErrBundleSignature, key.Curve.Params().Name)
	}
	return nil
}

func verifyRSA(key *rsa.PublicKey, bundle, signature []byte, allowPKCS1v15 bool) error {
	digest := sha256.Sum256(bundle)
	pssErr := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil)
	if pssErr == nil {
		return nil
	}
	if !allowPKCS1v15 {
		return xerrors.Newf("%w: RSA-PSS: %v", ErrBundleSignature, pssErr)
	}
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return xerrors.Newf("%w: RSA PSS and PKCS1v15: %v", ErrBundleSignature, err)
	}
	return nil
}
