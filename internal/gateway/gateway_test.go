package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSignatureAcceptsCorrectHMAC(t *testing.T) {
	key := []byte("shared-secret")
	body := []byte(`{"kind":"product","op":"upsert","id":"42"}`)

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	g := &Gateway{webhookKey: key}
	assert.True(t, g.validSignature(body, sig))
	assert.False(t, g.validSignature(body, "deadbeef"))
}

func TestDeriveIdentityDefaultsToWebPlatform(t *testing.T) {
	_, platform := deriveIdentity("client-1", "")
	assert.Equal(t, "web", string(platform))
}
