package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/catalog"
	"github.com/ppdb-id/ppdb-backend/internal/identity"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/rbac"
	"github.com/ppdb-id/ppdb-backend/internal/registration"
	"github.com/ppdb-id/ppdb-backend/internal/selection"
	"github.com/ppdb-id/ppdb-backend/internal/store"
	"github.com/ppdb-id/ppdb-backend/internal/verification"
)

type Server struct {
	db            *sql.DB
	store         *store.Store
	tokens        *auth.TokenService
	identity      *identity.Service
	catalog       *catalog.Service
	registrations *registration.Service
	verification  *verification.Service
	selection     *selection.Service
	corsOrigins   []string
	log           *slog.Logger
}

func NewServer(db *sql.DB, st *store.Store, tokens *auth.TokenService,
	ident *identity.Service, cat *catalog.Service, regs *registration.Service,
	verif *verification.Service, sel *selection.Service,
	corsOrigins []string, log *slog.Logger) *Server {
	return &Server{
		db: db, store: st, tokens: tokens,
		identity: ident, catalog: cat, registrations: regs,
		verification: verif, selection: sel,
		corsOrigins: corsOrigins, log: log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auditMeta)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		// No token required.
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Post("/auth/verify-email", s.handleVerifyEmail)
			r.Post("/auth/forgot-password", s.handleForgotPassword)
			r.Post("/auth/reset-password", s.handleResetPassword)
			r.Get("/announcements/check-result", s.handleCheckResult)
		})

		// Token required.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.tokens, s.identity))
			r.Use(s.requireActiveSchool)

			r.Post("/auth/logout", s.handleLogout)
			r.With(rbac.Require(rbac.PermProfileManage)).Get("/auth/me", s.handleMe)

			r.Route("/schools", func(r chi.Router) {
				r.Use(rbac.Require(rbac.PermSchoolsManage))
				r.Post("/", s.handleCreateSchool)
				r.Get("/", s.handleListSchools)
				r.Get("/{id}", s.handleGetSchool)
				r.Put("/{id}", s.handleUpdateSchool)
				r.Delete("/{id}", s.handleDeactivateSchool)
				r.Post("/{id}/activate", s.handleActivateSchool)
			})

			r.Route("/users", func(r chi.Router) {
				r.With(rbac.Require(rbac.PermProfileManage)).Get("/me", s.handleMe)
				r.With(rbac.Require(rbac.PermProfileManage)).Put("/me", s.handleUpdateMe)
				r.With(rbac.Require(rbac.PermProfileManage)).Post("/me/change-password", s.handleChangePassword)

				r.With(rbac.Require(rbac.PermUsersManage)).Post("/", s.handleCreateUser)
				r.With(rbac.Require(rbac.PermUsersManage)).Get("/", s.handleListUsers)
				r.With(rbac.Require(rbac.PermUsersManage)).Get("/{id}", s.handleGetUser)
				r.With(rbac.Require(rbac.PermUsersManage)).Put("/{id}", s.handleUpdateUser)
				r.With(rbac.Require(rbac.PermUsersManage)).Delete("/{id}", s.handleDeleteUser)
			})

			r.Route("/periods", func(r chi.Router) {
				r.With(rbac.Require(rbac.PermPeriodsManage)).Post("/", s.handleCreatePeriod)
				r.Get("/", s.handleListPeriods)

				// Static before the id wildcard.
				r.Get("/paths/{id}", s.handleGetPath)
				r.With(rbac.Require(rbac.PermPeriodsManage)).Put("/paths/{id}", s.handleUpdatePath)
				r.With(rbac.Require(rbac.PermPeriodsManage)).Delete("/paths/{id}", s.handleDeletePath)

				r.Get("/{id}", s.handleGetPeriod)
				r.With(rbac.Require(rbac.PermPeriodsManage)).Put("/{id}", s.handleUpdatePeriod)
				r.With(rbac.Require(rbac.PermPeriodsManage)).Post("/{id}/activate", s.handleActivatePeriod)
				r.With(rbac.Require(rbac.PermPeriodsManage)).Post("/{id}/close", s.handleClosePeriod)
				r.With(rbac.Require(rbac.PermPeriodsManage)).Delete("/{id}", s.handleDeletePeriod)

				r.With(rbac.Require(rbac.PermPeriodsManage)).Post("/{id}/paths", s.handleCreatePath)
				r.Get("/{id}/paths", s.handleListPaths)
			})

			r.Route("/registrations", func(r chi.Router) {
				r.With(rbac.Require(rbac.PermRegistrationsCreate)).Post("/", s.handleCreateRegistration)
				r.With(rbac.RequireAny(rbac.PermRegistrationsAll, rbac.PermRegistrationsOwn)).Get("/", s.handleListRegistrations)
				r.With(rbac.RequireAny(rbac.PermRegistrationsAll, rbac.PermRegistrationsOwn)).Get("/{id}", s.handleGetRegistration)
				r.With(rbac.Require(rbac.PermRegistrationsCreate)).Put("/{id}", s.handleUpdateRegistration)
				r.With(rbac.Require(rbac.PermRegistrationsSubmit)).Post("/{id}/submit", s.handleSubmitRegistration)
				r.With(rbac.RequireAny(rbac.PermRegistrationsOwn, rbac.PermRegistrationsAll)).Post("/{id}/enroll", s.handleEnrollRegistration)

				r.With(rbac.RequireAny(rbac.PermRegistrationsAll, rbac.PermRegistrationsOwn)).Get("/{id}/documents", s.handleListDocuments)
				r.With(rbac.Require(rbac.PermRegistrationsCreate)).Post("/{id}/documents", s.handleAttachDocument)
				r.With(rbac.Require(rbac.PermRegistrationsCreate)).Delete("/{id}/documents/{docID}", s.handleDetachDocument)
			})

			r.Route("/verifications", func(r chi.Router) {
				r.Use(rbac.Require(rbac.PermRegistrationsVerify))
				r.Get("/pending", s.handleListPending)
				r.Get("/stats", s.handleVerificationStats)
				r.Post("/{id}/verify", s.handleVerifyRegistration)
				r.Post("/{id}/reject", s.handleRejectRegistration)
				r.Post("/documents/{id}/verify", s.handleVerifyDocument)
			})

			r.Route("/selection/periods/{id}", func(r chi.Router) {
				r.Use(rbac.Require(rbac.PermSelectionRun))
				r.Post("/calculate-scores", s.handleCalculateScores)
				r.Post("/update-rankings", s.handleUpdateRankings)
				r.Get("/rankings", s.handleRankings)
				r.Get("/stats", s.handleSelectionStats)
			})

			r.Route("/announcements/periods/{id}", func(r chi.Router) {
				r.Use(rbac.Require(rbac.PermSelectionRun))
				r.Post("/run-selection", s.handleRunSelection)
				r.Post("/announce", s.handleAnnounce)
				r.Get("/summary", s.handleSelectionSummary)
			})

			r.With(rbac.Require(rbac.PermUsersManage)).Get("/audit", s.handleListAudit)
		})
	})
	return r
}

// auditMeta captures the client address and user agent for audit entries
// recorded during the request.
func auditMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithMeta(r.Context(), audit.Meta{
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireActiveSchool blocks writes for staff of a suspended or inactive
// school. Reads stay available, and principals without a tenant (parents,
// super admins) pass through.
func (s *Server) requireActiveSchool(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok || p.SchoolID == nil || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		school, err := s.store.GetSchool(r.Context(), store.SystemScope(), *p.SchoolID)
		if err != nil {
			writeError(w, err)
			return
		}
		if school.Status != model.SchoolActive {
			writeError(w, apperr.Forbidden("school is not active"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// scopeFrom binds the authenticated principal into a store scope. Handlers
// behind the auth middleware always find one.
func scopeFrom(r *http.Request) store.Scope {
	p, _ := auth.PrincipalFromContext(r.Context())
	return store.Scope{Principal: p}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
