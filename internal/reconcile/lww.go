// Package reconcile holds the last-write-wins rules shared by the server
// (push side) and the client (pull side). updated_at is the only ordering
// key; record contents are never compared.
package reconcile

import "github.com/dmitrijs2005/finkeeper/internal/models"

// Outcome is the push-side decision for one incoming record.
type Outcome int

const (
	// Insert: no stored copy exists.
	Insert Outcome = iota
	// Accept: the incoming copy is newer or equally new and replaces the stored one.
	Accept
	// Reject: the stored copy is strictly newer and is kept.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Insert:
		return "insert"
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// ReasonServerNewer is reported for rejected pushes.
const ReasonServerNewer = "server_newer"

// Decide applies the push-side rule. existing is nil when the server has no
// copy. Equal timestamps favor the incoming record.
func Decide(existing *models.Record, incoming models.Record) Outcome {
	if existing == nil {
		return Insert
	}
	if existing.UpdatedAt > incoming.UpdatedAt {
		return Reject
	}
	return Accept
}

// ShouldApply applies the pull-side rule: a pulled record replaces the local
// copy only when strictly newer, so an unpushed local edit with an equal or
// later stamp survives.
func ShouldApply(local *models.Record, pulled models.Record) bool {
	return local == nil || pulled.UpdatedAt > local.UpdatedAt
}
