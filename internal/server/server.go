package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/logging"
	"github.com/avlabs/gemini-gateway/internal/protocol/claude"
	"github.com/avlabs/gemini-gateway/internal/protocol/gemini"
	"github.com/avlabs/gemini-gateway/internal/protocol/openai"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
	"github.com/avlabs/gemini-gateway/internal/server/handlers"
)

// Deps is every collaborator Server needs, already constructed by the
// composition root (cmd/server/main.go).
type Deps struct {
	Config       *config.Config
	Accounts     *account.Manager
	Loop         *retryloop.Loop
	ClaudeMapper *claude.Mapper
	OpenAIMapper *openai.Mapper
	GeminiMapper *gemini.Mapper
	Log          *logging.Logger
}

// Server owns the gin engine and every route the proxy exposes, grounded
// on the teacher's server.go but re-targeted onto the new account/
// selector/retryloop stack in place of the teacher's strategy-based
// account manager.
type Server struct {
	engine *gin.Engine
	deps   Deps
}

// New constructs a Server. Gin's mode follows cfg.Debug/DevMode, matching
// the teacher's own gin.SetMode wiring.
func New(deps Deps) *Server {
	if deps.Config.Debug || deps.Config.DevMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	return &Server{engine: engine, deps: deps}
}

// Engine exposes the underlying gin.Engine, e.g. for tests that drive
// routes with httptest without going through Run.
func (s *Server) Engine() *gin.Engine { return s.engine }

// SetupRoutes mounts every HTTP surface: operator endpoints, the
// OpenAI-compatible surface, the Claude-compatible surface, and the
// Gemini-native passthrough.
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(RequestLoggingMiddleware(s.deps.Log))
	s.engine.Use(BodyLimitMiddleware())

	health := handlers.NewHealthHandler(s.deps.Accounts)
	models := handlers.NewModelsHandler()
	accounts := handlers.NewAccountsHandler(s.deps.Accounts)
	claudeH := handlers.NewClaudeHandler(s.deps.Loop, s.deps.ClaudeMapper, s.deps.Config)
	openaiH := handlers.NewOpenAIHandler(s.deps.Loop, s.deps.OpenAIMapper, s.deps.Config)
	geminiH := handlers.NewGeminiHandler(s.deps.Loop, s.deps.GeminiMapper, s.deps.Config)

	s.engine.GET("/health", health.Health)
	s.engine.GET("/account-limits", accounts.AccountLimits)
	s.engine.POST("/refresh-token", accounts.RefreshToken)

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.deps.Config, s.deps.Log))
	{
		v1.GET("/models", models.ListModels)
		v1.POST("/messages/count_tokens", claudeH.CountTokens)
		v1.POST("/messages", claudeH.Messages)
		v1.POST("/chat/completions", openaiH.ChatCompletions)
		v1.POST("/completions", openaiH.Completions)
	}

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(APIKeyAuthMiddleware(s.deps.Config, s.deps.Log))
	{
		v1beta.POST("/models/:action", geminiH.Handle)
		v1beta.GET("/models/:action", geminiH.GetModel)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "not_found_error",
				"message": fmt.Sprintf("%s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// drains in-flight requests with a bounded grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
