package pool

import "testing"

func TestDeriveFingerprintPrecedence(t *testing.T) {
	machineID := "11111111-2222-4333-8444-555555555555"

	t.Run("machine_id wins when valid", func(t *testing.T) {
		c := Credential{MachineID: machineID, ProfileARN: "arn:aws:sts::1:profile/p", RefreshToken: longToken(120)}
		fp, ok := DeriveFingerprint(c)
		if !ok || fp != machineID {
			t.Fatalf("expected machine_id to win, got %q ok=%v", fp, ok)
		}
	})

	t.Run("invalid machine_id falls through to profile_arn", func(t *testing.T) {
		c := Credential{MachineID: "not-a-uuid", ProfileARN: "arn:aws:sts::1:profile/p", RefreshToken: longToken(120)}
		fp, ok := DeriveFingerprint(c)
		if !ok {
			t.Fatal("expected a fingerprint")
		}
		fp2, _ := DeriveFingerprint(Credential{ProfileARN: "arn:aws:sts::1:profile/p"})
		if fp != fp2 {
			t.Fatalf("expected fallback to profile_arn derivation, got %q vs %q", fp, fp2)
		}
	})

	t.Run("profile_arn must be AWS-shaped", func(t *testing.T) {
		c := Credential{ProfileARN: "not-an-arn", RefreshToken: longToken(120)}
		fp, ok := DeriveFingerprint(c)
		if !ok {
			t.Fatal("expected fallback to refresh_token")
		}
		fp2, _ := DeriveFingerprint(Credential{RefreshToken: longToken(120)})
		if fp != fp2 {
			t.Fatalf("expected derivation from refresh_token, got %q vs %q", fp, fp2)
		}
	})

	t.Run("absent everything", func(t *testing.T) {
		_, ok := DeriveFingerprint(Credential{})
		if ok {
			t.Fatal("expected no fingerprint when all sources are absent")
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		c := Credential{RefreshToken: longToken(120)}
		fp1, _ := DeriveFingerprint(c)
		fp2, _ := DeriveFingerprint(c)
		if fp1 != fp2 {
			t.Fatal("derivation from the same seed must be deterministic")
		}
	})
}

func TestIsValidMachineID(t *testing.T) {
	if !isValidMachineID("11111111-2222-4333-8444-555555555555") {
		t.Fatal("expected well-formed UUID shape to validate")
	}
	if isValidMachineID("too-short") {
		t.Fatal("expected malformed id to be rejected")
	}
}
