package policy

import "regexp"

var (
	seedPattern = regexp.MustCompile(`\bsEd[rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz]{20,40}\b`)
	keyPattern  = regexp.MustCompile(`\bED[0-9A-F]{64}\b`)
)

// RedactSecrets masks wallet secret material (family seeds and ed25519
// key hex) in text bound for logs or API responses.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	next := seedPattern.ReplaceAllString(out, "[REDACTED_SEED]")
	changed = changed || next != out
	out = next

	next = keyPattern.ReplaceAllString(out, "[REDACTED_KEY]")
	changed = changed || next != out
	out = next

	return out, changed
}
