// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package webhookauth implements C2: carrier webhook signature
// verification and the per-call WebSocket token lifecycle.
package webhookauth

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rapidaai/callbridge/internal/logging"
)

// VerifyCarrierA validates carrier A's form-field HMAC-SHA1 signature:
// the URL concatenated with sorted "k||v" fields, HMAC-SHA1 under the
// auth token, constant-time compared to the base64-decoded header.
func VerifyCarrierA(authToken, signatureHeader, url string, formFields map[string]string) bool {
	keys := make([]string, 0, len(formFields))
	for k := range formFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(url)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(formFields[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	expected := mac.Sum(nil)

	provided, err := base64.StdEncoding.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

// VerifyCarrierB validates carrier B's Ed25519-signed JSON webhook:
// signs timestamp || "|" || rawBody, rejects if the timestamp has skewed
// by more than 5 minutes.
func VerifyCarrierB(publicKey ed25519.PublicKey, signatureHeader, timestampHeader string, rawBody []byte) bool {
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > 5*time.Minute {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signatureHeader)
	if err != nil {
		return false
	}

	signed := append([]byte(timestampHeader+"|"), rawBody...)
	return ed25519.Verify(publicKey, signed, sig)
}

// NewWsToken mints a 256-bit random, URL-safe, unpadded base64 token
// suitable for a single WebSocket upgrade.
func NewWsToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate ws token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyWsToken performs a constant-time comparison; differing lengths
// are always false. The early length check reveals only the length, never
// the position of the first mismatching byte.
func VerifyWsToken(expected, provided string) bool {
	if len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// BypassLogger records every occasion verification was bypassed because
// the operator marked the deployment as tunneled — the bypass must never
// be a silent default.
type BypassLogger struct {
	logger logging.Logger
}

func NewBypassLogger(logger logging.Logger) *BypassLogger {
	return &BypassLogger{logger: logger}
}

func (b *BypassLogger) LogBypass(requestPath string) {
	b.logger.Warnw("webhook/upgrade signature verification bypassed (tunneled deployment)",
		"path", requestPath)
}

// requestFingerprint returns a CRC-32 (IEEE) of raw as a stable, loggable
// fingerprint — not a security control. Nothing in the package calls it.
func requestFingerprint(raw []byte) uint32 {
	return crc32.ChecksumIEEE(raw)
}
