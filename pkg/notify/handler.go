package notify

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zoobzio/beacon/pkg/guard"
)

// maxBody bounds request bodies.
const maxBody = 64 << 10

// Registration is the body of a token registration request.
type Registration struct {
	StoreID string `json:"storeId" validate:"required,max=128"`
	Token   string `json:"token" validate:"required,max=4096"`
}

// Handler serves the notification endpoints:
//
//	POST   /notify          send a Message
//	POST   /tokens          register a device token
//	DELETE /tokens/{token}  forget a device token
//
// Every request must be authenticated by provider. A provider that is still
// loading yields 503; an unauthenticated request yields 401.
func Handler(svc *Service, provider guard.Provider) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /notify", func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		if !decode(w, r, &msg) {
			return
		}
		if err := msg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		report, err := svc.Notify(r.Context(), msg)
		switch {
		case errors.Is(err, ErrNoTokens):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil && report.Batches == 0:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		case err != nil:
			writeJSON(w, http.StatusBadGateway, report)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
	mux.HandleFunc("POST /tokens", func(w http.ResponseWriter, r *http.Request) {
		var reg Registration
		if !decode(w, r, &reg) {
			return
		}
		if err := validate.Struct(reg); err != nil {
			http.Error(w, "invalid registration: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.Tokens().Register(r.Context(), reg.StoreID, reg.Token); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /tokens/{token}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Tokens().Remove(r.Context(), r.PathValue("token")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch provider.AuthState(r).Status() {
		case guard.StatusLoading:
			w.Header().Set("Retry-After", guard.DefaultRetryAfter)
			http.Error(w, "authentication pending", http.StatusServiceUnavailable)
		case guard.StatusUnauthenticated:
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		default:
			mux.ServeHTTP(w, r)
		}
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
