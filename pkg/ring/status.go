package ring

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/gorilla/mux"
)

// json is jsoniter configured for encoding/json-compatible output,
// matching the teacher's own json-iterator/go usage.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// nodeView is the JSON-facing projection of a RouterNode for the admin
// status page.
type nodeView struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	HashID     uint64 `json:"hash_id"`
	HashStart  uint64 `json:"hash_start"`
	HashEnd    uint64 `json:"hash_end"`
	Priority   int    `json:"priority"`
	LastSeenNs int64  `json:"last_seen_ns"`
	IsActive   bool   `json:"is_active"`
}

// RegisterStatusRoutes mounts a read-only ring-status surface on an
// existing gorilla/mux router, mirroring the teacher's own ring status
// page: a small net/http admin surface kept separate from the hand-rolled
// request dispatcher in pkg/dispatcher.
func RegisterStatusRoutes(r *mux.Router, m *Manager) {
	r.HandleFunc("/ring", func(w http.ResponseWriter, req *http.Request) {
		snap := m.Snapshot()
		views := make([]nodeView, 0, snap.Len())
		for _, n := range snap.Nodes() {
			views = append(views, nodeView{
				ID:         n.ID.String(),
				Address:    n.Address,
				HashID:     n.HashID,
				HashStart:  n.HashStart,
				HashEnd:    n.HashEnd,
				Priority:   n.Priority,
				LastSeenNs: n.LastSeenNs,
				IsActive:   n.IsActive,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
}
