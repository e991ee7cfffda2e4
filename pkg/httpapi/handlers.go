package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eventfold/userd/pkg/app"
	"github.com/eventfold/userd/pkg/auth"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "request body is not valid JSON")
		return false
	}
	return true
}

func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeEnvelope(w, http.StatusNotFound, categoryNotFound,
			"user not found", nil, "UserNotFound")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if problems := req.validate(); len(problems) > 0 {
		writeRequestValidation(w, problems)
		return
	}

	token, row, err := s.authenticator.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         userFromRow(row),
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if problems := req.validate(); len(problems) > 0 {
		writeRequestValidation(w, problems)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	id, err := s.commands.HandleCreateUser(r.Context(), app.CreateUser{
		Username:      req.Username,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		PasswordHash:  hash,
		HashingMethod: auth.HashingMethod,
		Role:          req.role(),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "user created successfully",
		"user_id": id.String(),
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))

	result := s.queries.ListUsers(r.Context(), app.ListUsers{
		Page:     page,
		PageSize: pageSize,
		Username: query.Get("username"),
		Email:    query.Get("email"),
	})

	results := make([]userResponse, 0, len(result.Results))
	for i := range result.Results {
		results = append(results, userFromRow(&result.Results[i]))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Results:  results,
		Count:    result.Count,
		Page:     result.Page,
		PageSize: result.PageSize,
		Next:     result.Next,
		Previous: result.Previous,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}

	row, err := s.queries.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userFromRow(row)})
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("timestamp")
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		writeRequestValidation(w, map[string]string{
			"timestamp": "timestamp must be an ISO 8601 instant",
		})
		return
	}

	user, err := s.queries.GetUserAtTime(r.Context(), id, at)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userFromAggregate(user))
}

// requireSelfOrAdmin enforces the write-ownership rule: non-admin callers
// may only touch their own user.
func requireSelfOrAdmin(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	principal, ok := principalFrom(r.Context())
	if !ok {
		writeUnauthorized(w, "missing bearer token")
		return false
	}
	if !principal.IsAdmin() && principal.UserID != id {
		writeForbidden(w, "you can only update your own user data")
		return false
	}
	return true
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if !requireSelfOrAdmin(w, r, id) {
		return
	}

	var req updateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if problems := req.validate(); len(problems) > 0 {
		writeRequestValidation(w, problems)
		return
	}

	err := s.commands.HandleUpdateUser(r.Context(), app.UpdateUser{
		UserID:    id,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "user updated successfully"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if !requireSelfOrAdmin(w, r, id) {
		return
	}

	var req changePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if problems := req.validate(); len(problems) > 0 {
		writeRequestValidation(w, problems)
		return
	}

	// The current password is verified against the read model before the
	// command runs.
	row, err := s.queries.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := auth.ComparePassword(row.PasswordHash, req.CurrentPassword); err != nil {
		writeError(w, s.logger, auth.ErrInvalidCredentials)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	err = s.commands.HandleChangePassword(r.Context(), app.ChangePassword{
		UserID:        id,
		NewHash:       hash,
		HashingMethod: auth.HashingMethod,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password changed successfully"})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}

	if err := s.commands.HandleDeleteUser(r.Context(), app.DeleteUser{UserID: id}); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "user deleted successfully"})
}
