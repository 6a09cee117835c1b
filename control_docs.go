package main

import (
	"encoding/json"
	"net/http"
	"sort"
)

// CommandDoc describes one message a gunnery client may send over the websocket.
type CommandDoc struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Fields      []string `json:"fields,omitempty"`
	Gated       bool     `json:"gated"`
}

var commandDocs = []CommandDoc{
	{
		Type:        "track",
		Description: "Update the tracked target and, optionally, the shooter's motion without solving.",
		Fields:      []string{"target", "shooter", "model", "seq", "sent_at_ms"},
		Gated:       true,
	},
	{
		Type:        "solve",
		Description: "Solve a lead against the tracked target and broadcast the solution without firing.",
		Fields:      []string{"target", "shooter", "model", "seq", "sent_at_ms"},
		Gated:       true,
	},
	{
		Type:        "fire",
		Description: "Solve and, when a solution exists, power the trigger. A failed solve holds fire.",
		Fields:      []string{"target", "shooter", "model", "seq", "sent_at_ms"},
		Gated:       true,
	},
	{
		Type:        "hold",
		Description: "Release the trigger. Never dropped by the command gate.",
		Fields:      []string{"seq"},
	},
}

// registerCommandDocEndpoint serves the websocket command reference at /api/commands.
func registerCommandDocEndpoint(mux *http.ServeMux) {
	mux.HandleFunc("/api/commands", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		docs := append([]CommandDoc(nil), commandDocs...)
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Type < docs[j].Type })

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
