package main

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/auth"
	"github.com/koomind/koomind-backend/internal/broker"
	"github.com/koomind/koomind-backend/internal/config"
	"github.com/koomind/koomind-backend/internal/data"
	"github.com/koomind/koomind-backend/internal/messenger"
	"github.com/koomind/koomind-backend/internal/middleware"
)

// userStore is the subset of data.UsersStore used by the handlers.
type userStore interface {
	CreateUser(ctx context.Context, name, email, hashedPassword, role string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	ListUsers(ctx context.Context) ([]*data.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]*data.User, error)
	UpdateProfile(ctx context.Context, id bson.ObjectID, p data.Profile) (*data.User, error)
	UpdateUser(ctx context.Context, id bson.ObjectID, upd data.UserUpdate) (*data.User, error)
	SetPasswordByEmail(ctx context.Context, email, hashedPassword string) error
	SetRefreshTokenID(ctx context.Context, id bson.ObjectID, jti string) error
	DeleteUser(ctx context.Context, id bson.ObjectID) error
}

// taskStore is the subset of data.TasksStore used by the handlers.
type taskStore interface {
	Create(ctx context.Context, userID bson.ObjectID, title, description string) (*data.Task, error)
	ListByUser(ctx context.Context, userID bson.ObjectID) ([]*data.Task, error)
	Update(ctx context.Context, id, userID bson.ObjectID, upd data.TaskUpdate) (*data.Task, error)
	Delete(ctx context.Context, id, userID bson.ObjectID) error
}

type tokenIssuer interface {
	GenerateToken(userID bson.ObjectID, role, name string) (string, time.Time, error)
	GenerateRefreshToken(userID bson.ObjectID) (token, jti string, expiresAt time.Time, err error)
	VerifyRefreshToken(token string) (bson.ObjectID, string, error)
}

// maxBodySize caps every /api request body.
const maxBodySize = "1M"

type pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP and websocket handlers and everything they share.
type Server struct {
	cfg    *config.Config
	logger *log.Logger

	messenger *messenger.Service
	users     userStore
	tasks     taskStore
	tokens    tokenIssuer
	guard     *auth.Guard

	hub         *Hub
	bus         broker.Bus
	upgrader    websocket.Upgrader
	authLimiter *middleware.LimiterStore
	msgLimiter  *middleware.LimiterStore

	// db is pinged by the health endpoint.
	db pinger
}

type serverDeps struct {
	Messenger *messenger.Service
	Users     userStore
	Tasks     taskStore
	Tokens    tokenIssuer
	Guard     *auth.Guard
	Hub       *Hub
	Bus       broker.Bus
	DB        pinger
}

// newServer returns a ready-to-use Server. Call Stop to release the limiters.
func newServer(cfg *config.Config, logger *log.Logger, d serverDeps) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		messenger:   d.Messenger,
		users:       d.Users,
		tasks:       d.Tasks,
		tokens:      d.Tokens,
		guard:       d.Guard,
		hub:         d.Hub,
		bus:         d.Bus,
		db:          d.DB,
		authLimiter: middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute),
		msgLimiter:  middleware.NewLimiterStore(cfg.MessageRPM, max(cfg.MessageRPM/4, 5), time.Minute),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// subscribe relays every room payload seen on the bus to local sockets.
func (s *Server) subscribe(ctx context.Context) error {
	return s.bus.Subscribe(ctx, func(room string, payload []byte) {
		s.hub.Broadcast(room, payload)
	})
}

// Stop releases background resources owned by the server.
func (s *Server) Stop() {
	s.authLimiter.Stop()
	s.msgLimiter.Stop()
}

// routes builds the echo instance serving the REST API, the socket and the
// health check.
func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler
	e.Validator = newRequestValidator()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(s.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.cfg.Origins(),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/health", s.handleHealth)
	e.GET("/ws", s.handleSocket)

	api := e.Group("/api", echomw.BodyLimit(maxBodySize), echomw.ContextTimeout(s.cfg.RequestTimeout))

	limited := middleware.RateLimit(s.authLimiter, middleware.KeyByEmail)
	api.POST("/login", s.handleLogin, limited)
	api.POST("/create-user", s.handleCreateUser, limited)
	api.POST("/refresh-token", s.handleRefreshToken, limited)

	authed := api.Group("", s.requireAuth)
	authed.GET("/me", s.handleGetMe)
	authed.PUT("/me", s.handleUpdateMe)
	authed.GET("/users", s.handleListUsers)

	authed.GET("/conversations", s.handleListConversations)
	authed.POST("/conversations", s.handleCreateConversation)
	authed.PUT("/conversations/:id/seen", s.handleMarkSeen)
	authed.DELETE("/conversations/:id", s.handleDeleteConversation)

	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", s.handleCreateTask)
	authed.PUT("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)

	admin := authed.Group("", s.requireAdmin)
	admin.GET("/admins", s.handleListAdmins)
	admin.PUT("/user/reset-password", s.handleResetPassword)
	admin.GET("/user/:id", s.handleGetUser)
	admin.PUT("/user/:id", s.handleUpdateUser)
	admin.DELETE("/user/:id", s.handleDeleteUser)

	return e
}
