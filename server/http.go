package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/hubs"
)

// Largest request body accepted by any operation
const maxBodySize int64 = 1 << 20

// Prefix of the authorization header value
const tokenPrefix string = "Token "

/* ROUTER */

// Returns the handler serving every operation
// on its legacy HTTP method and path.
func newRouter(hub *hubs.Hub) http.Handler {
	mux := http.NewServeMux()

	for _, op := range spec.Actions() {
		method, path := spec.Route(op)
		mux.Handle(method+" "+path+"{$}", operation(hub, op))
	}

	return mux
}

// Runs an operation with the body or query string of the request
func operation(hub *hubs.Hub, op spec.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := requestBody(w, r)
		if err != nil {
			log.Read("request body", r.RemoteAddr, err)
			writeError(w, spec.ErrorArguments)
			return
		}

		reply := hubs.Process(r.Context(), hub, hubs.Request{
			Op:    op,
			Token: authToken(r),
			Body:  body,
			Addr:  r.RemoteAddr,
		})
		log.Request(r.RemoteAddr, op, reply.Status)

		if reply.Err != nil {
			writeError(w, reply.Err)
			return
		}

		writeJSON(w, reply.Status, reply.Body)
	}
}

/* AUXILIARY FUNCTIONS */

// Returns the token of the authorization header, if any
func authToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, tokenPrefix) {
		return ""
	}

	return strings.TrimSpace(header[len(tokenPrefix):])
}

// Returns the JSON body of an operation. Requests without
// a body have their query string turned into one, where
// "true" and "false" are read as booleans.
func requestBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		query := r.URL.Query()
		if len(query) == 0 {
			return nil, nil
		}

		fields := make(map[string]any, len(query))
		for k := range query {
			switch v := query.Get(k); v {
			case "true", "false":
				fields[k] = v == "true"
			default:
				fields[k] = v
			}
		}

		return json.Marshal(fields)
	}

	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
}

// Writes the body as JSON with the given status
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("reply encoding", err)
	}
}

// Writes the error with the status it is reported with
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, spec.ErrorStatus(err), spec.ErrorReply{
		Code:  spec.ErrorCode(err),
		Error: err.Error(),
	})
}
