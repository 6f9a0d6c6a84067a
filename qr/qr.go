/*
Package qr decodes the customer QR payload used by staff terminals.

PURPOSE:
  Customer dashboards render a QR code whose content is a small JSON
  document identifying the customer. Staff scanners hand the raw string
  to the resolver, which needs the embedded account id extracted with
  high confidence before it ever considers substring search.

FORMAT:
  {"userId":"<uuid>","email":"...","name":"...","timestamp":...}

  Only userId matters for resolution; email and name are display hints
  baked into the code. A payload decodes successfully only when it is
  valid JSON AND carries a syntactically valid UUID in userId. Anything
  else is treated as a freeform search token, never an id.
*/
package qr

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/lumina-health/loyalty-ledger/loyalty"
)

// Payload is the document embedded in a customer's QR code.
type Payload struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Decode extracts the account id from a raw QR string. Returns ok=false
// for anything that is not a well-formed payload with a valid UUID id.
// Pure function; satisfies loyalty.PayloadDecoder.
func Decode(raw string) (loyalty.AccountID, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return "", false
	}

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", false
	}
	if _, err := uuid.Parse(p.UserID); err != nil {
		return "", false
	}
	return loyalty.AccountID(p.UserID), true
}

// Encode builds the QR payload for an account, for dashboards that
// render the code server-side.
func Encode(a loyalty.Account, now int64) (string, error) {
	data, err := json.Marshal(Payload{
		UserID:    string(a.ID),
		Email:     a.Email,
		Name:      a.Name,
		Timestamp: now,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
