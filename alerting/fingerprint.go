// Package alerting owns the alert lifecycle: creating alerts from trigger
// records, deduplicating them by fingerprint, and driving status transitions
// with a full audit trail.
package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"argus/core"
)

// Fingerprint derives the dedup identity of a trigger: rule, severity, and
// the sorted set of contributing event IDs. Two triggers with the same
// fingerprint describe the same underlying condition.
func Fingerprint(trigger core.TriggerRecord) string {
	ids := make([]string, len(trigger.EventIDs))
	copy(ids, trigger.EventIDs)
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(trigger.RuleID))
	h.Write([]byte{'|'})
	h.Write([]byte(trigger.Severity))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
