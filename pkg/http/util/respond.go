package util

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mpapenbr/racesim/log"
)

// MaxBodySize limits the size of request bodies
const MaxBodySize = 1_000_000

var ErrInvalidJSON = errors.New("invalid JSON")

type ErrorBody struct {
	Error string `json:"error"`
}

type OKBody struct {
	OK bool `json:"ok"`
}

// WriteJSON sends v with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("could not write response", log.ErrorField(err))
	}
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// DecodeBody reads a JSON object from the request body into dst.
// An empty body leaves dst untouched. Oversized or malformed bodies yield
// ErrInvalidJSON.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodySize)
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(ErrInvalidJSON, err)
	}
	return nil
}
