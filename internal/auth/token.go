// Package auth mints and verifies the HMAC credentials the browser client
// presents when opening its session event socket. Credentials are scoped to
// one session id and carry their own expiry, so the socket handler needs no
// store lookup to authenticate.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrCredentialFormat  = errors.New("malformed client credential")
	ErrCredentialSig     = errors.New("client credential signature mismatch")
	ErrCredentialExpired = errors.New("client credential expired")
	ErrCredentialScope   = errors.New("client credential bound to another session")
)

// MintClientCredential builds a session-scoped credential valid until exp.
// Format: base64url(session_id + "." + exp_unix + "." + hex(hmac_sha256(secret, session_id+"."+exp))).
func MintClientCredential(secret, sessionID string, exp time.Time) string {
	msg := sessionID + "." + strconv.FormatInt(exp.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(msg + "." + sig))
}

// VerifyClientCredential checks signature, scope, and expiry (with skew) and
// returns the embedded session id.
func VerifyClientCredential(secret, credential, expectSessionID string, now time.Time, skew time.Duration) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		return "", ErrCredentialFormat
	}
	parts := strings.Split(string(raw), ".")
	if len(parts) != 3 {
		return "", ErrCredentialFormat
	}
	sid, expStr, sigHex := parts[0], parts[1], parts[2]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrCredentialFormat
	}
	if expectSessionID != "" && sid != expectSessionID {
		return "", ErrCredentialScope
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sid + "." + expStr))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrCredentialFormat
	}
	if !hmac.Equal(want, got) {
		return "", ErrCredentialSig
	}
	if now.Unix() > exp+int64(skew/time.Second) {
		return "", ErrCredentialExpired
	}
	return sid, nil
}
