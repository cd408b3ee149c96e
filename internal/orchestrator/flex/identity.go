package flex

import (
	"encoding/json"
	"strings"

	"github.com/flexops/flexops/internal/twilio"
)

// identityHints carries the task-level facts used to classify conversation
// participants when the worker sid alone does not settle the question.
type identityHints struct {
	workerName      string
	customerAddress string
	customerFrom    string
}

// resolveWorkerIdentity finds the conversation participant that belongs to
// the assigned worker and returns its chat identity. Rules are tried in
// order; the first match wins:
//
//  1. identity equals the worker sid
//  2. identity equals the worker display name
//  3. a sid-ish field inside the participant attributes equals the worker sid
//  4. the raw attributes document mentions the worker sid anywhere
//  5. exactly one participant is not the customer, so it must be the worker
//
// An unresolved lookup returns ok=false; greeting the conversation without a
// worker author would put words in nobody's mouth.
func resolveWorkerIdentity(participants []twilio.Participant, workerSid string, hints identityHints) (string, bool) {
	for _, p := range participants {
		if equalFoldTrimmed(p.Identity, workerSid) {
			return p.Identity, true
		}
	}
	for _, p := range participants {
		if p.Identity != "" && equalFoldTrimmed(p.Identity, hints.workerName) {
			return p.Identity, true
		}
	}
	for _, p := range participants {
		if p.Identity != "" && attributesNameWorker(p.Attributes, workerSid) {
			return p.Identity, true
		}
	}
	for _, p := range participants {
		if p.Identity != "" && workerSid != "" && strings.Contains(p.Attributes, workerSid) {
			return p.Identity, true
		}
	}

	var candidate string
	var count int
	for _, p := range participants {
		if p.Identity == "" || isCustomerParticipant(p, hints) {
			continue
		}
		candidate = p.Identity
		count++
	}
	if count == 1 {
		return candidate, true
	}
	return "", false
}

// attributesNameWorker reports whether the participant attributes document
// carries an explicit worker sid field matching workerSid.
func attributesNameWorker(rawAttributes, workerSid string) bool {
	if rawAttributes == "" || workerSid == "" {
		return false
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal([]byte(rawAttributes), &attrs); err != nil {
		return false
	}
	for _, key := range []string{"workerSid", "worker_sid", "worker_id", "workerId"} {
		if value, ok := attrs[key].(string); ok && equalFoldTrimmed(value, workerSid) {
			return true
		}
	}
	return false
}

// isCustomerParticipant classifies a participant as the customer when its
// identity or messaging-binding address matches a known customer address.
func isCustomerParticipant(p twilio.Participant, hints identityHints) bool {
	addresses := []string{p.Identity}
	if p.MessagingBinding != nil {
		addresses = append(addresses, p.MessagingBinding.Address)
	}
	for _, address := range addresses {
		if address == "" {
			continue
		}
		if equalFoldTrimmed(address, hints.customerAddress) || equalFoldTrimmed(address, hints.customerFrom) {
			return true
		}
	}
	return false
}

func equalFoldTrimmed(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}
