// Package audit records Process Decision Records for start and kill
// decisions of the editem server.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/store"
)

// Decision is the input of one server decision.
type Decision struct {
	Action  string `json:"action"`
	Task    string `json:"task"`
	Project string `json:"pid,omitempty"`
	Remote  string `json:"remote,omitempty"`
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a decision. outcome is the status label
// returned to the caller.
func (w *PDRWriter) Record(d Decision, outcome, details string) (*models.PDREntry, error) {
	return w.store.WritePDR("task."+d.Action, hashInputs(d), outcome, d.Task, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
