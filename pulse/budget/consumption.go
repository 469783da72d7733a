package budget

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// Consumption is the credit spend of one credential over one batch run.
// Start and End are nil when the balance query for that side failed; the
// consumption is then reported as unavailable rather than guessed.
type Consumption struct {
	CredentialID string   `json:"credential_id"`
	Fingerprint  string   `json:"fingerprint"`
	Start        *float64 `json:"start,omitempty"`
	End          *float64 `json:"end,omitempty"`
	Consumed     float64  `json:"consumed"`
	Available    bool     `json:"available"`
}

// NewConsumption computes max(0, start - end). A balance that went up during
// the run (top-up) counts as zero spend.
func NewConsumption(credentialID, fingerprint string, start, end *float64) Consumption {
	c := Consumption{
		CredentialID: credentialID,
		Fingerprint:  fingerprint,
		Start:        start,
		End:          end,
	}
	if start == nil || end == nil {
		return c
	}
	c.Available = true
	if spent := *start - *end; spent > 0 {
		c.Consumed = spent
	}
	return c
}

// Fingerprint identifies an API key in logs and the ledger without revealing it:
// base58 of the first 8 bytes of its SHA-256.
func Fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return base58.Encode(sum[:8])
}
