package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/koomind/koomind-backend/internal/apperror"
	"github.com/koomind/koomind-backend/internal/auth"
	"github.com/koomind/koomind-backend/internal/data"
)

type refreshRequest struct {
	Token string `json:"token"`
}

type refreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// handleRefreshToken trades the user's current refresh token for a new
// access token carrying up-to-date role and name.
func (s *Server) handleRefreshToken(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("malformed request body")
	}
	if strings.TrimSpace(req.Token) == "" {
		return apperror.Unauthenticated("refresh token missing")
	}

	userID, jti, err := s.tokens.VerifyRefreshToken(auth.BearerToken(req.Token))
	if err != nil {
		return apperror.Forbidden("invalid refresh token")
	}
	user, err := s.users.GetUserByID(c.Request().Context(), userID)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.Forbidden("invalid refresh token")
	}
	if err != nil {
		return apperror.Internal("failed to load user", err)
	}
	if user.RefreshTokenID == "" || user.RefreshTokenID != jti {
		return apperror.Forbidden("invalid refresh token")
	}

	token, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Role, user.Name)
	if err != nil {
		return apperror.Internal("failed to generate token", err)
	}
	return c.JSON(http.StatusOK, refreshResponse{AccessToken: token, ExpiresAt: expiresAt})
}

func (s *Server) handleGetMe(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	user, err := s.users.GetUserByID(c.Request().Context(), userID)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("user")
	}
	if err != nil {
		return apperror.Internal("failed to load user", err)
	}
	return c.JSON(http.StatusOK, user)
}

type updateMeRequest struct {
	Bio      string `json:"bio" validate:"max=500"`
	Phone    string `json:"phone" validate:"max=32"`
	LinkedIn string `json:"linkedin" validate:"omitempty,url,max=200"`
}

type profileResponse struct {
	Message string     `json:"message"`
	User    *data.User `json:"user"`
}

// handleUpdateMe replaces the caller's profile fields; omitted ones are
// cleared.
func (s *Server) handleUpdateMe(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req updateMeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := s.users.UpdateProfile(c.Request().Context(), userID, data.Profile{
		Bio:      strings.TrimSpace(req.Bio),
		Phone:    strings.TrimSpace(req.Phone),
		LinkedIn: strings.TrimSpace(req.LinkedIn),
	})
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("user")
	}
	if err != nil {
		return apperror.Internal("failed to update profile", err)
	}
	return c.JSON(http.StatusOK, profileResponse{Message: "Profile updated", User: user})
}

func (s *Server) handleListAdmins(c echo.Context) error {
	admins, err := s.users.ListUsersByRole(c.Request().Context(), data.RoleAdmin)
	if err != nil {
		return apperror.Internal("failed to list admins", err)
	}
	return c.JSON(http.StatusOK, admins)
}

func (s *Server) handleGetUser(c echo.Context) error {
	id, err := parseObjectID(c.Param("id"), "user id")
	if err != nil {
		return err
	}
	user, err := s.users.GetUserByID(c.Request().Context(), id)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("user")
	}
	if err != nil {
		return apperror.Internal("failed to load user", err)
	}
	return c.JSON(http.StatusOK, user)
}

type updateUserRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=100"`
	Email *string `json:"email" validate:"omitempty,email"`
}

type userSummary struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type updateUserResponse struct {
	Message string      `json:"message"`
	User    userSummary `json:"user"`
}

func (s *Server) handleUpdateUser(c echo.Context) error {
	id, err := parseObjectID(c.Param("id"), "user id")
	if err != nil {
		return err
	}
	var req updateUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return apperror.Validation("name must not be blank")
		}
		req.Name = &name
	}

	user, err := s.users.UpdateUser(c.Request().Context(), id, data.UserUpdate{Name: req.Name, Email: req.Email})
	switch {
	case errors.Is(err, data.ErrNotFound):
		return apperror.NotFound("user")
	case errors.Is(err, data.ErrDuplicate):
		return apperror.Conflict("email already exists")
	case err != nil:
		return apperror.Internal("failed to update user", err)
	}

	s.logger.Info("user updated", "user", id.Hex())
	return c.JSON(http.StatusOK, updateUserResponse{
		Message: "User updated",
		User:    userSummary{Name: user.Name, Email: user.Email},
	})
}

// handleDeleteUser removes the account. Tokens already issued to it stay
// valid until they expire; refresh is refused from now on.
func (s *Server) handleDeleteUser(c echo.Context) error {
	id, err := parseObjectID(c.Param("id"), "user id")
	if err != nil {
		return err
	}
	err = s.users.DeleteUser(c.Request().Context(), id)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("user")
	}
	if err != nil {
		return apperror.Internal("failed to delete user", err)
	}
	s.logger.Info("user deleted", "user", id.Hex())
	return c.JSON(http.StatusOK, messageResponse{Message: "User deleted successfully"})
}

type resetPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// handleResetPassword sets a new password for the account with the given
// email and revokes its refresh token.
func (s *Server) handleResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return apperror.Internal("failed to hash password", err)
	}
	err = s.users.SetPasswordByEmail(c.Request().Context(), req.Email, hashed)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("user")
	}
	if err != nil {
		return apperror.Internal("failed to reset password", err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Password updated successfully"})
}
