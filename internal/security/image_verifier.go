// Package security verifies container image signatures with Cosign before
// the engine pulls them. Verification is opt-in: it runs only when the
// manifest declares a public key, and a failure fails the owning project's
// rollout closed before any pull or start.
package security

import (
	"context"
	"crypto"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	ggcrremote "github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sigstore/cosign/v2/pkg/cosign"
	ociremote "github.com/sigstore/cosign/v2/pkg/oci/remote"
	"github.com/sigstore/cosign/v2/pkg/signature"

	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
)

// ImageVerifier verifies container image signatures using Cosign.
// It implements a simple in-memory cache to avoid re-verifying
// the same image digest on every reconciliation cycle.
type ImageVerifier struct {
	logger   logr.Logger
	cache    *verificationCache
	registry *manifest.RegistryConfig
}

// NewImageVerifier creates an ImageVerifier. The registry config, when set,
// supplies basic-auth credentials for private registries; otherwise the
// default keychain applies.
func NewImageVerifier(logger logr.Logger, registry *manifest.RegistryConfig) *ImageVerifier {
	return &ImageVerifier{
		logger:   logger,
		cache:    newVerificationCache(),
		registry: registry,
	}
}

// Verify verifies the signature of the given image reference against the
// provided public key. It caches by resolved digest and public key to avoid
// redundant network calls across cycles. Returns the resolved digest
// (e.g., "example.com/web/api@sha256:abc...").
func (v *ImageVerifier) Verify(ctx context.Context, imageRef, publicKey string, ignoreTlog bool) (string, error) {
	if publicKey == "" {
		return "", fmt.Errorf("public key is required for image verification")
	}

	v.logger.Info("Verifying image signature", "image", imageRef, "ignoreTlog", ignoreTlog)
	digest, err := v.verifyImage(ctx, imageRef, publicKey, ignoreTlog)
	if err != nil {
		return "", fmt.Errorf("image verification failed for %q: %w", imageRef, err)
	}

	if v.cache.isVerified(digest, publicKey) {
		v.logger.V(1).Info("Image verification cache hit", "digest", digest)
		return digest, nil
	}

	v.cache.markVerified(digest, publicKey)
	v.logger.Info("Image verification succeeded", "image", imageRef, "digest", digest)

	return digest, nil
}

// verifyImage performs the actual Cosign verification and returns the resolved digest.
func (v *ImageVerifier) verifyImage(ctx context.Context, imageRef, publicKey string, ignoreTlog bool) (string, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return "", fmt.Errorf("failed to parse image reference: %w", err)
	}

	// Verifier from the public key PEM; in-memory, no file I/O required.
	verifier, err := signature.LoadPublicKeyRaw([]byte(publicKey), crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier from public key: %w", err)
	}

	keychain := v.keychain()
	co := &cosign.CheckOpts{
		SigVerifier: verifier,
		IgnoreTlog:  ignoreTlog,
		RegistryClientOpts: []ociremote.Option{
			ociremote.WithRemoteOptions(ggcrremote.WithAuthFromKeychain(keychain)),
		},
	}

	sigs, bundleVerified, err := cosign.VerifyImageSignatures(ctx, ref, co)
	if err != nil {
		return "", fmt.Errorf("image signature verification failed: %w", err)
	}
	if len(sigs) == 0 {
		return "", fmt.Errorf("no signatures found for image %q", imageRef)
	}

	// Resolve the reference to a digest unless it already is one.
	var digestRef name.Digest
	if d, ok := ref.(name.Digest); ok {
		digestRef = d
	} else {
		desc, err := ggcrremote.Head(ref, ggcrremote.WithAuthFromKeychain(keychain))
		if err != nil {
			return "", fmt.Errorf("failed to resolve image digest: %w", err)
		}
		digestRef, err = name.NewDigest(fmt.Sprintf("%s@%s", ref.Context().Name(), desc.Digest.String()))
		if err != nil {
			return "", fmt.Errorf("failed to create digest reference: %w", err)
		}
	}

	v.logger.V(1).Info("Image verification completed",
		"image", imageRef,
		"digest", digestRef.String(),
		"signatures", len(sigs),
		"bundleVerified", bundleVerified,
		"rekorVerified", !ignoreTlog)

	return digestRef.String(), nil
}

// keychain resolves registry auth: manifest credentials for the declared
// registry host, the default keychain for everything else.
func (v *ImageVerifier) keychain() authn.Keychain {
	if v.registry == nil || v.registry.Host == "" {
		return authn.DefaultKeychain
	}
	return &registryKeychain{registry: v.registry}
}

// registryKeychain implements authn.Keychain from manifest registry
// credentials.
type registryKeychain struct {
	registry *manifest.RegistryConfig
}

func (k *registryKeychain) Resolve(resource authn.Resource) (authn.Authenticator, error) {
	if resource.RegistryStr() == k.registry.Host {
		return &authn.Basic{
			Username: k.registry.Username,
			Password: k.registry.Password,
		}, nil
	}
	return authn.Anonymous, nil
}

// verificationCache is a simple in-memory cache for verified images.
type verificationCache struct {
	mu    sync.RWMutex
	cache map[string]bool
}

func newVerificationCache() *verificationCache {
	return &verificationCache{
		cache: make(map[string]bool),
	}
}

// isVerified checks if an image with the given digest and public key has been verified.
func (c *verificationCache) isVerified(digest, publicKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache[cacheKey(digest, publicKey)]
}

// markVerified marks an image digest as verified.
func (c *verificationCache) markVerified(digest, publicKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cacheKey(digest, publicKey)] = true
}

// cacheKey generates a cache key from image digest and public key.
// Uses digest (not tag) so a re-tagged image never hits a stale entry.
func cacheKey(digest, publicKey string) string {
	keyHash := []byte(publicKey)
	if len(keyHash) > 16 {
		keyHash = keyHash[:16]
	}
	return fmt.Sprintf("%s@%x", digest, keyHash)
}
