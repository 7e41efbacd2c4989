package api

import (
	"encoding/json"
	"net/http"
)

// ndjsonWriter streams one JSON value per line as application/x-ndjson,
// flushing after each write so a client sees events as they arrive rather
// than buffered until the handler returns.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

func newNdjsonWriter(w http.ResponseWriter) *ndjsonWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return &ndjsonWriter{w: w, flusher: flusher, enc: json.NewEncoder(w)}
}

func (n *ndjsonWriter) write(v interface{}) error {
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}
