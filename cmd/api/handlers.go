package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/apperror"
	"github.com/koomind/koomind-backend/internal/auth"
	"github.com/koomind/koomind-backend/internal/data"
	"github.com/koomind/koomind-backend/internal/messenger"
)

type messageResponse struct {
	Message string `json:"message"`
}

// bindAndValidate decodes the request body into req and runs the struct
// validator over it.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperror.Validation("malformed request body")
	}
	return c.Validate(req)
}

func parseObjectID(raw, field string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(strings.TrimSpace(raw))
	if err != nil {
		return bson.NilObjectID, apperror.Validation("invalid " + field)
	}
	return id, nil
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Message      string        `json:"message"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	UserID       bson.ObjectID `json:"userId"`
	Name         string        `json:"name"`
	Role         string        `json:"role"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

// handleLogin checks credentials and issues an access token plus a refresh
// token. Only the latest refresh token of a user is accepted.
func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(c.Request().Context(), req.Email)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.Unauthenticated("invalid email or password")
	}
	if err != nil {
		return apperror.Internal("failed to load user", err)
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return apperror.Unauthenticated("invalid email or password")
	}

	token, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Role, user.Name)
	if err != nil {
		return apperror.Internal("failed to generate token", err)
	}
	refresh, jti, _, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return apperror.Internal("failed to generate token", err)
	}
	if err := s.users.SetRefreshTokenID(c.Request().Context(), user.ID, jti); err != nil {
		return apperror.Internal("failed to store refresh token", err)
	}

	return c.JSON(http.StatusOK, loginResponse{
		Message:      "Login successful",
		AccessToken:  token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Name:         user.Name,
		Role:         user.Role,
		ExpiresAt:    expiresAt,
	})
}

type createUserRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

type createUserResponse struct {
	Message string        `json:"message"`
	UserID  bson.ObjectID `json:"userId"`
}

// handleCreateUser registers an account. The role defaults to user.
func (s *Server) handleCreateUser(c echo.Context) error {
	var req createUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	role := data.RoleUser
	if req.Role == data.RoleAdmin {
		role = data.RoleAdmin
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return apperror.Internal("failed to hash password", err)
	}

	user, err := s.users.CreateUser(c.Request().Context(), strings.TrimSpace(req.Name), req.Email, hashed, role)
	if errors.Is(err, data.ErrDuplicate) {
		return apperror.Conflict("email already exists")
	}
	if err != nil {
		return apperror.Internal("failed to create user", err)
	}

	s.logger.Info("user created", "user", user.ID.Hex(), "role", role)
	return c.JSON(http.StatusCreated, createUserResponse{
		Message: role + " account created successfully",
		UserID:  user.ID,
	})
}

// handleListUsers returns the directory used to pick conversation
// participants.
func (s *Server) handleListUsers(c echo.Context) error {
	users, err := s.users.ListUsers(c.Request().Context())
	if err != nil {
		return apperror.Internal("failed to list users", err)
	}
	out := make([]messenger.Participant, 0, len(users))
	for _, u := range users {
		out = append(out, messenger.Participant{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListConversations(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	convs, err := s.messenger.ListConversationsFor(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convs)
}

type createConversationRequest struct {
	Type          string   `json:"type" validate:"required,oneof=channel private"`
	Name          string   `json:"name"`
	Participants  []string `json:"participants"`
	ParticipantID string   `json:"participantId"`
}

// handleCreateConversation answers 201 for a new conversation and 200 when
// an existing private conversation is returned.
func (s *Server) handleCreateConversation(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}

	var req createConversationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	in := messenger.CreateInput{
		Type: data.ConversationType(req.Type),
		Name: req.Name,
	}
	for _, raw := range req.Participants {
		id, err := parseObjectID(raw, "participant id")
		if err != nil {
			return err
		}
		in.Participants = append(in.Participants, id)
	}
	if req.ParticipantID != "" {
		if in.ParticipantID, err = parseObjectID(req.ParticipantID, "participantId"); err != nil {
			return err
		}
	}

	view, created, err := s.messenger.CreateConversation(c.Request().Context(), userID, in)
	if err != nil {
		return err
	}
	if created {
		return c.JSON(http.StatusCreated, view)
	}
	return c.JSON(http.StatusOK, view)
}

type markSeenResponse struct {
	Updated int64 `json:"updated"`
}

func (s *Server) handleMarkSeen(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	convID, err := parseObjectID(c.Param("id"), "conversation id")
	if err != nil {
		return err
	}
	n, err := s.messenger.MarkSeen(c.Request().Context(), convID, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, markSeenResponse{Updated: n})
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	convID, err := parseObjectID(c.Param("id"), "conversation id")
	if err != nil {
		return err
	}
	if err := s.messenger.DeleteConversation(c.Request().Context(), convID, userID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Conversation deleted"})
}

type createTaskRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type updateTaskRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Completed   *bool   `json:"completed"`
}

type taskResponse struct {
	Message string     `json:"message"`
	Task    *data.Task `json:"task"`
}

func (s *Server) handleListTasks(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	tasks, err := s.tasks.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return apperror.Internal("failed to list tasks", err)
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req createTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	task, err := s.tasks.Create(c.Request().Context(), userID, strings.TrimSpace(req.Title), req.Description)
	if err != nil {
		return apperror.Internal("failed to create task", err)
	}
	return c.JSON(http.StatusCreated, taskResponse{Message: "Task created", Task: task})
}

func (s *Server) handleUpdateTask(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	taskID, err := parseObjectID(c.Param("id"), "task id")
	if err != nil {
		return err
	}
	var req updateTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	task, err := s.tasks.Update(c.Request().Context(), taskID, userID, data.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	})
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("task")
	}
	if err != nil {
		return apperror.Internal("failed to update task", err)
	}
	return c.JSON(http.StatusOK, taskResponse{Message: "Task updated", Task: task})
}

func (s *Server) handleDeleteTask(c echo.Context) error {
	_, userID, err := currentUser(c)
	if err != nil {
		return err
	}
	taskID, err := parseObjectID(c.Param("id"), "task id")
	if err != nil {
		return err
	}
	err = s.tasks.Delete(c.Request().Context(), taskID, userID)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("task")
	}
	if err != nil {
		return apperror.Internal("failed to delete task", err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Task deleted"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth reports 503 while the database or the room bus is unreachable.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("health: database unreachable", "err", err)
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
	}
	if err := s.bus.Ping(ctx); err != nil {
		s.logger.Warn("health: room bus unreachable", "err", err)
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}
