package edge

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/auth"
	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/log"
)

// adminRouter serves /v1/customers. Every handler passes the presented
// bearer key to the directory, which authorizes it.
func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleListCustomers)
	r.Route("/{username}", func(r chi.Router) {
		r.Get("/", s.handleGetCustomer)
		r.Put("/", s.handlePutCustomer)
		r.Delete("/", s.handleDeleteCustomer)
		r.Put("/password", s.handleSetPassword)
	})
	return r
}

func bearerKey(r *http.Request) string {
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func (s *Server) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrWeakPassword) {
		writeBadRequest(w, err.Error())
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("admin request failed",
			log.Method(r.Method), log.Path(r.URL.Path),
			log.RequestID(requestIDFrom(r.Context())), zap.Error(err))
	}
	writeError(w, status, err)
}

func writeMapping(w http.ResponseWriter, status int, m domain.CustomerMapping) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(m.Version, 10)))
	writeJSON(w, status, m)
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := s.dir.List(r.Context(), bearerKey(r))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CustomerListResponse{Customers: list})
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	m, err := s.dir.Get(r.Context(), bearerKey(r), chi.URLParam(r, "username"))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeMapping(w, http.StatusOK, m)
}

func (s *Server) handlePutCustomer(w http.ResponseWriter, r *http.Request) {
	expected, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		writeBadRequest(w, "If-Match must be a customer version")
		return
	}
	var req domain.UpsertCustomerRequest
	if err := decodeJSONBody(w, r, maxAdminBodyBytes, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	m, err := s.dir.Upsert(r.Context(), bearerKey(r), domain.CustomerMapping{
		Username:    chi.URLParam(r, "username"),
		BackendURL:  req.BackendURL,
		DisplayName: req.DisplayName,
	}, expected)
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeMapping(w, http.StatusOK, m)
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := s.dir.Remove(r.Context(), bearerKey(r), chi.URLParam(r, "username")); err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.SetPasswordRequest
	if err := decodeJSONBody(w, r, maxAdminBodyBytes, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	err := s.dir.SetPassword(r.Context(), bearerKey(r), chi.URLParam(r, "username"), req.Password, req.Replace)
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseIfMatch accepts a bare or quoted (optionally weak) version. An
// absent header means no fencing.
func parseIfMatch(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("invalid If-Match")
	}
	return v, nil
}
