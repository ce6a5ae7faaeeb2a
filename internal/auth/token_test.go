package auth

import (
	"testing"
	"time"
)

func TestMintAndVerify(t *testing.T) {
	now := time.Now()
	cred := MintClientCredential("secret123", "sess-1", now.Add(5*time.Minute))

	sid, err := VerifyClientCredential("secret123", cred, "sess-1", now, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sid != "sess-1" {
		t.Fatalf("session id = %q", sid)
	}
}

func TestTamperedCredentialRejected(t *testing.T) {
	now := time.Now()
	cred := MintClientCredential("secret123", "sess-1", now.Add(5*time.Minute))
	if cred[0] == 'A' {
		cred = "B" + cred[1:]
	} else {
		cred = "A" + cred[1:]
	}
	if _, err := VerifyClientCredential("secret123", cred, "sess-1", now, time.Minute); err == nil {
		t.Fatal("tampered credential accepted")
	}
}

func TestWrongSessionRejected(t *testing.T) {
	now := time.Now()
	cred := MintClientCredential("secret123", "sess-1", now.Add(5*time.Minute))
	if _, err := VerifyClientCredential("secret123", cred, "sess-2", now, time.Minute); err != ErrCredentialScope {
		t.Fatalf("err = %v, want ErrCredentialScope", err)
	}
}

func TestExpiredCredentialRejectedPastSkew(t *testing.T) {
	now := time.Now()
	cred := MintClientCredential("secret123", "sess-1", now.Add(-2*time.Minute))

	// Within skew: still accepted.
	if _, err := VerifyClientCredential("secret123", cred, "sess-1", now, 3*time.Minute); err != nil {
		t.Fatalf("within skew: %v", err)
	}
	// Past skew: rejected.
	if _, err := VerifyClientCredential("secret123", cred, "sess-1", now, time.Minute); err != ErrCredentialExpired {
		t.Fatalf("err = %v, want ErrCredentialExpired", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	now := time.Now()
	cred := MintClientCredential("secret123", "sess-1", now.Add(5*time.Minute))
	if _, err := VerifyClientCredential("other", cred, "sess-1", now, time.Minute); err != ErrCredentialSig {
		t.Fatalf("err = %v, want ErrCredentialSig", err)
	}
}
