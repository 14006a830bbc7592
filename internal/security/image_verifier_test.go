package security

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
)

func TestVerifyRequiresPublicKey(t *testing.T) {
	verifier := NewImageVerifier(logr.Discard(), nil)

	_, err := verifier.Verify(context.Background(), "registry.example.com/web/api:2.0.0", "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public key is required")
}

func TestVerifyRejectsInvalidReference(t *testing.T) {
	verifier := NewImageVerifier(logr.Discard(), nil)

	_, err := verifier.Verify(context.Background(), "not a reference", "not-a-key", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image verification failed")
}

func TestRegistryKeychain(t *testing.T) {
	keychain := &registryKeychain{registry: &manifest.RegistryConfig{
		Host:     "registry.example.com",
		Username: "ci",
		Password: "hunter2",
	}}

	t.Run("declared registry resolves basic auth", func(t *testing.T) {
		ref, err := name.ParseReference("registry.example.com/web/api:2.0.0")
		require.NoError(t, err)

		auth, err := keychain.Resolve(ref.Context())
		require.NoError(t, err)
		basic, ok := auth.(*authn.Basic)
		require.True(t, ok)
		assert.Equal(t, "ci", basic.Username)
		assert.Equal(t, "hunter2", basic.Password)
	})

	t.Run("other registry resolves anonymous", func(t *testing.T) {
		ref, err := name.ParseReference("ghcr.io/other/image:latest")
		require.NoError(t, err)

		auth, err := keychain.Resolve(ref.Context())
		require.NoError(t, err)
		assert.Equal(t, authn.Anonymous, auth)
	})
}

func TestDefaultKeychainWithoutRegistry(t *testing.T) {
	verifier := NewImageVerifier(logr.Discard(), nil)
	assert.Equal(t, authn.DefaultKeychain, verifier.keychain())
}

func TestVerificationCache(t *testing.T) {
	cache := newVerificationCache()
	digest := "registry.example.com/web/api@sha256:abcdef"

	assert.False(t, cache.isVerified(digest, "key-a"))

	cache.markVerified(digest, "key-a")
	assert.True(t, cache.isVerified(digest, "key-a"))
	// A different key never hits another key's entry.
	assert.False(t, cache.isVerified(digest, "key-b"))
}
