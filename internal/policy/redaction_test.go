package policy

import (
	"strings"
	"testing"

	"github.com/Synapse-Labs-X/synapse-protocol-sub000/internal/xrpl"
)

func TestRedactSecretsMasksSeedAndKeys(t *testing.T) {
	kp, err := xrpl.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	input := "wallet " + kp.Address + " seed " + kp.Seed + " pub " + kp.PublicKey

	out, changed := RedactSecrets(input)
	if !changed {
		t.Fatalf("RedactSecrets() changed = false, want true")
	}
	if strings.Contains(out, kp.Seed) {
		t.Fatalf("seed leaked: %s", out)
	}
	if strings.Contains(out, kp.PublicKey) {
		t.Fatalf("key leaked: %s", out)
	}
	if !strings.Contains(out, kp.Address) {
		t.Fatalf("address should survive redaction: %s", out)
	}
}

func TestRedactSecretsLeavesPlainTextAlone(t *testing.T) {
	out, changed := RedactSecrets("run completed with 3 payments")
	if changed || out != "run completed with 3 payments" {
		t.Fatalf("RedactSecrets() = (%q, %v), want unchanged", out, changed)
	}
}
