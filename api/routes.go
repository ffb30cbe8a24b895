package api

import (
	"github.com/gorilla/mux"

	"github.com/garnizeh/expertfeed/internal/config"
	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository"
)

// Deps are the collaborators the handlers need. cmd/server wires them to
// SQLite, the job outbox and Redis.
type Deps struct {
	Users       repository.UserRepo
	Profiles    repository.ProfileRepo
	Questions   repository.QuestionRepo
	Categories  repository.CategoryRepo
	Broadcaster Broadcaster
	OpenChannel ChannelOpener
}

func SetupRoutes(cfg *config.Config, version, buildTime string, deps Deps) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := &SystemHandler{}
	authHandler := NewAuthHandler(deps.Users, deps.Profiles, cfg.JWTSecret, cfg.TokenDuration)
	categoriesHandler := NewCategoriesHandler(deps.Categories)
	profileHandler := NewProfileHandler(deps.Profiles)
	questionsHandler := NewQuestionsHandler(deps.Questions, deps.Broadcaster)
	feedHandler := NewFeedHandler(deps.Profiles, deps.Questions, deps.OpenChannel, cfg.Stream)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	// Auth endpoints
	authV1 := apiV1.PathPrefix("/auth").Subrouter()
	authV1.HandleFunc("/signout", authHandler.Signout).Methods("POST")

	apiV1.HandleFunc("/categories", categoriesHandler.ListCategories).Methods("GET")

	// Questions: anyone signed in may read, only seekers write
	apiV1.HandleFunc("/questions", questionsHandler.ListQuestions).Methods("GET")
	apiV1.HandleFunc("/questions/{id}", questionsHandler.GetQuestion).Methods("GET")
	seekers := apiV1.NewRoute().Subrouter()
	seekers.Use(RequireRole(models.RoleSeeker))
	seekers.HandleFunc("/questions", questionsHandler.CreateQuestion).Methods("POST")
	seekers.HandleFunc("/questions/{id}", questionsHandler.UpdateQuestion).Methods("PUT")

	// Provider profile and feed
	providers := apiV1.NewRoute().Subrouter()
	providers.Use(RequireRole(models.RoleProvider))
	providers.HandleFunc("/profile", profileHandler.GetProfile).Methods("GET")
	providers.HandleFunc("/profile", profileHandler.PutProfile).Methods("PUT")
	providers.HandleFunc("/feed", feedHandler.GetFeed).Methods("GET")
	providers.HandleFunc("/feed/stream", feedHandler.Stream).Methods("GET")

	return r
}
