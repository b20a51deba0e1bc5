// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package webhookauth

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigForCarrierA(authToken, url string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(url)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(fields[k])
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyCarrierA_ValidSignature(t *testing.T) {
	fields := map[string]string{"CallSid": "CA123", "CallStatus": "ringing"}
	url := "https://example.test/twiml"
	sig := sigForCarrierA("secret", url, fields)

	assert.True(t, VerifyCarrierA("secret", sig, url, fields))
	assert.False(t, VerifyCarrierA("wrong-secret", sig, url, fields))
}

func TestVerifyCarrierA_TamperedField(t *testing.T) {
	fields := map[string]string{"CallSid": "CA123"}
	url := "https://example.test/twiml"
	sig := sigForCarrierA("secret", url, fields)

	tampered := map[string]string{"CallSid": "CA999"}
	assert.False(t, VerifyCarrierA("secret", sig, url, tampered))
}

func TestVerifyCarrierB_ValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	body := []byte(`{"data":{"event_type":"call.answered"}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signed := append([]byte(ts+"|"), body...)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, signed))

	assert.True(t, VerifyCarrierB(pub, sig, ts, body))
}

func TestVerifyCarrierB_StaleTimestampRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	body := []byte(`{}`)
	staleTs := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	signed := append([]byte(staleTs+"|"), body...)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, signed))

	assert.False(t, VerifyCarrierB(pub, sig, staleTs, body))
}

func TestNewWsToken_Unique(t *testing.T) {
	a, err := NewWsToken()
	require.NoError(t, err)
	b, err := NewWsToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=") // unpadded
}

func TestVerifyWsToken_LengthMismatchIsFalse(t *testing.T) {
	assert.False(t, VerifyWsToken("abc", "abcd"))
}

func TestVerifyWsToken_ConstantTime(t *testing.T) {
	token, err := NewWsToken()
	require.NoError(t, err)

	// Statistical sanity check: comparison time should not depend on the
	// position of the first mismatching byte. We don't assert on timing
	// directly (flaky in CI); we assert correctness for both an early and
	// a late mismatch, which is what the constant-time primitive covers.
	early := "Z" + token[1:]
	late := token[:len(token)-1] + "Z"
	assert.False(t, VerifyWsToken(token, early))
	assert.False(t, VerifyWsToken(token, late))
	assert.True(t, VerifyWsToken(token, token))
}
