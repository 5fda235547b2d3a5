package govtxd

import (
	"encoding/json"
	"net/http"
	"time"

	"nounsgov/txflow"
)

type receiptView struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

type trackerView struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	State     string            `json:"state"`
	Hash      string            `json:"hash,omitempty"`
	Error     *txflow.ErrorView `json:"error,omitempty"`
	Receipt   *receiptView      `json:"receipt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func viewSnapshot(s txflow.Snapshot) trackerView {
	v := trackerView{
		ID:        s.ID,
		Action:    string(s.Action),
		State:     string(s.State),
		Error:     txflow.ViewError(s.Err),
		UpdatedAt: s.UpdatedAt.UTC(),
	}
	if s.Hash != ([32]byte{}) {
		v.Hash = s.Hash.Hex()
	}
	if r := s.Receipt; r != nil {
		v.Receipt = &receiptView{Status: r.Status, GasUsed: r.GasUsed}
		if r.BlockNumber != nil {
			v.Receipt.BlockNumber = r.BlockNumber.Uint64()
		}
	}
	return v
}

type validationView struct {
	Action string            `json:"action"`
	Valid  bool              `json:"valid"`
	Error  *txflow.ErrorView `json:"error,omitempty"`
}

type problem struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, problem{Status: status, Message: message})
}
