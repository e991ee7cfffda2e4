package httpapi

import (
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/eventfold/userd/pkg/auth"
	"github.com/eventfold/userd/pkg/domain"
	"github.com/eventfold/userd/pkg/storage/sqlite"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r loginRequest) validate() map[string]string {
	problems := map[string]string{}
	if r.Username == "" {
		problems["username"] = "username is required"
	}
	if r.Password == "" {
		problems["password"] = "password is required"
	}
	return problems
}

type createUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	Role      string `json:"role,omitempty"`
}

func (r createUserRequest) validate() map[string]string {
	problems := map[string]string{}
	if len(r.Username) < domain.MinUsernameLength {
		problems["username"] = "username must be at least 3 characters"
	}
	if !govalidator.IsEmail(r.Email) {
		problems["email"] = "email is not a valid address"
	}
	if r.Password == "" {
		problems["password"] = "password is required"
	} else if err := auth.ValidateStrength(r.Password); err != nil {
		problems["password"] = "password is too weak"
	}
	switch r.Role {
	case "", string(domain.RoleUser), string(domain.RoleAdmin):
	default:
		problems["role"] = "role must be user or admin"
	}
	return problems
}

func (r createUserRequest) role() domain.Role {
	if r.Role == string(domain.RoleAdmin) {
		return domain.RoleAdmin
	}
	return domain.RoleUser
}

type updateUserRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
}

func (r updateUserRequest) validate() map[string]string {
	problems := map[string]string{}
	if r.FirstName == nil && r.LastName == nil && r.Email == nil {
		problems["body"] = "at least one field must be provided"
	}
	if r.Email != nil && !govalidator.IsEmail(*r.Email) {
		problems["email"] = "email is not a valid address"
	}
	return problems
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r changePasswordRequest) validate() map[string]string {
	problems := map[string]string{}
	if r.CurrentPassword == "" {
		problems["current_password"] = "current_password is required"
	}
	if r.NewPassword == "" {
		problems["new_password"] = "new_password is required"
	} else if err := auth.ValidateStrength(r.NewPassword); err != nil {
		problems["new_password"] = "password is too weak"
	}
	return problems
}

// userResponse is the JSON shape of a user in every read endpoint. The
// password hash never leaves the service.
type userResponse struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Role      string     `json:"role"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func userFromRow(row *sqlite.UserRow) userResponse {
	return userResponse{
		ID:        row.AggregateID.String(),
		Username:  row.Username,
		Email:     row.Email,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Role:      string(row.Role),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func userFromAggregate(user *domain.User) userResponse {
	return userResponse{
		ID:        user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

type listResponse struct {
	Results  []userResponse `json:"results"`
	Count    int            `json:"count"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Next     *string        `json:"next"`
	Previous *string        `json:"previous"`
}
