package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"vaultd/syncd/internal/engine"
)

type HTTPServer struct {
	service    *Service
	apiToken   string
	corsOrigin string
}

func NewHTTPServer(service *Service, apiToken, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, apiToken: apiToken, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"metadata": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["metadata"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sync/report" {
		scope, err := scopeFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(), nil)
			return
		}
		report, err := s.service.Report(r.Context(), scope)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sync/orphans" {
		scope, err := scopeFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(), nil)
			return
		}
		orphans, err := s.service.Orphans(r.Context(), scope)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scope": scope.Key(), "orphans": orphans})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync/analyze" {
		var body scopeBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		scope, err := body.scope()
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(), nil)
			return
		}
		report, err := s.service.Analyze(r.Context(), scope)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync/repair" {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Valid API token required", nil)
			return
		}
		var body struct {
			scopeBody
			// Repair defaults to dry-run; mutating execution is opt-in.
			Apply bool `json:"apply"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		scope, err := body.scope()
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(), nil)
			return
		}
		result, err := s.service.Repair(r.Context(), scope, !body.Apply)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync/repair-file" {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Valid API token required", nil)
			return
		}
		var body struct {
			OwnerID string `json:"ownerId"`
			FileKey string `json:"fileKey"`
			Apply   bool   `json:"apply"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		identity := engine.FileIdentity{OwnerID: body.OwnerID, Key: body.FileKey}
		result, err := s.service.RepairOne(r.Context(), identity, !body.Apply)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync/orphans/purge" {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Valid API token required", nil)
			return
		}
		var body struct {
			scopeBody
			Keys    []string `json:"keys"`
			Confirm bool     `json:"confirm"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		scope, err := body.scope()
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(), nil)
			return
		}
		result, err := s.service.PurgeOrphans(r.Context(), scope, body.Keys, body.Confirm)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

// scopeBody is the request shape for scope selection. Aggregate requests set
// "all"; per-owner requests set "ownerId". Exactly one must be present so an
// aggregate query can never be mistaken for an oddly-named owner.
type scopeBody struct {
	OwnerID string `json:"ownerId"`
	All     bool   `json:"all"`
}

func (b scopeBody) scope() (engine.Scope, error) {
	hasOwner := strings.TrimSpace(b.OwnerID) != ""
	switch {
	case b.All && hasOwner:
		return engine.Scope{}, fmt.Errorf("set either ownerId or all, not both")
	case b.All:
		return engine.AllScopes(), nil
	case hasOwner:
		return engine.OwnerScope(strings.TrimSpace(b.OwnerID)), nil
	default:
		return engine.Scope{}, fmt.Errorf("scope required: set ownerId or all=true")
	}
}

func scopeFromQuery(r *http.Request) (engine.Scope, error) {
	q := r.URL.Query()
	return scopeBody{
		OwnerID: q.Get("owner"),
		All:     q.Get("all") == "true",
	}.scope()
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	if s.apiToken == "" {
		return true
	}
	token := bearerToken(r)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) == 1
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var domain *DomainError
	if errors.As(err, &domain) {
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
