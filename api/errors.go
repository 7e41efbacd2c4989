package api

import (
	"encoding/json"
	"net/http"

	"banyanswarm/internal/apierr"
)

func writeError(w http.ResponseWriter, err *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.Status())
	_ = json.NewEncoder(w).Encode(err.Envelope())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
