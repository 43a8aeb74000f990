package main

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/apperror"
	"github.com/koomind/koomind-backend/internal/auth"
	"github.com/koomind/koomind-backend/internal/data"
)

// authenticate runs the guard over a raw credential and maps its failures:
// no credential is 401, a bad one is 403.
func (s *Server) authenticate(credential string) (*auth.Claims, bson.ObjectID, error) {
	claims, err := s.guard.Authenticate(credential)
	if errors.Is(err, auth.ErrMissingCredential) {
		return nil, bson.NilObjectID, apperror.Unauthenticated("no token provided")
	}
	if err != nil {
		return nil, bson.NilObjectID, apperror.Forbidden("invalid token")
	}
	userID, err := claims.ObjectID()
	if err != nil {
		return nil, bson.NilObjectID, apperror.Forbidden("invalid token")
	}
	return claims, userID, nil
}

// requireAuth enforces a bearer token on every route it wraps and stores the
// verified claims on the request context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, _, err := s.authenticate(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return err
		}
		req := c.Request()
		c.SetRequest(req.WithContext(auth.WithClaims(req.Context(), claims)))
		return next(c)
	}
}

// requireAdmin rejects callers whose token does not carry the admin role.
// It runs behind requireAuth.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, _, err := currentUser(c)
		if err != nil {
			return err
		}
		if claims.Role != data.RoleAdmin {
			return apperror.Forbidden("admin access required")
		}
		return next(c)
	}
}

// currentUser returns the authenticated caller. It must only be used behind
// requireAuth.
func currentUser(c echo.Context) (*auth.Claims, bson.ObjectID, error) {
	claims, ok := auth.ClaimsFromContext(c.Request().Context())
	if !ok {
		return nil, bson.NilObjectID, apperror.Unauthenticated("no token provided")
	}
	id, err := claims.ObjectID()
	if err != nil {
		return nil, bson.NilObjectID, apperror.Forbidden("invalid token")
	}
	return claims, id, nil
}
