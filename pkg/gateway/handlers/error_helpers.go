package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/apierror"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/mw"
)

const maxBodyBytes = 16 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

func writeCoreError(w http.ResponseWriter, r *http.Request, coreErr *core.Error, status int) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeCoreError(w, r, &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	}, http.StatusMethodNotAllowed)
}

func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return core.NewInvalidRequestError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
