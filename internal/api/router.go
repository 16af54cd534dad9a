package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RouterOptions struct {
	// Redis backs the rate limiter. Nil or RateLimit <= 0 disables limiting.
	Redis     *redis.Client
	RateLimit int
}

func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.observe)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	var limited []func(http.Handler) http.Handler
	if opts.Redis != nil && opts.RateLimit > 0 {
		limited = append(limited, rateLimit(opts.Redis, opts.RateLimit, time.Minute, h.log))
	}
	public := func(fn http.HandlerFunc) http.Handler {
		return chain(fn, limited...)
	}
	user := func(fn http.HandlerFunc) http.Handler {
		return chain(fn, append([]func(http.Handler) http.Handler{h.authenticate}, limited...)...)
	}
	withRole := func(fn http.HandlerFunc, roles ...domain.Role) http.Handler {
		return user(chain(fn, requireRole(roles...)).ServeHTTP)
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return withRole(fn, domain.RoleAdmin, domain.RoleSuperAdmin)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.Handle("/auth/register", public(h.RegisterHandler)).Methods("POST")
	v1.Handle("/auth/login", public(h.LoginHandler)).Methods("POST")
	v1.Handle("/auth/me", user(h.MeHandler)).Methods("GET")

	v1.Handle("/purchases", user(h.CreatePurchaseHandler)).Methods("POST")
	v1.Handle("/purchases/{id}/verify", admin(h.VerifyPurchaseHandler)).Methods("POST")

	v1.Handle("/withdrawals", user(h.CreateWithdrawalHandler)).Methods("POST")
	v1.Handle("/withdrawals/{id}", user(h.CancelWithdrawalHandler)).Methods("DELETE")

	v1.Handle("/user/overview", user(h.OverviewHandler)).Methods("GET")
	v1.Handle("/user/commissions", user(h.UserCommissionsHandler)).Methods("GET")
	v1.Handle("/user/withdrawals", user(h.UserWithdrawalsHandler)).Methods("GET")

	v1.Handle("/admin/purchases", admin(h.ListPurchasesHandler)).Methods("GET")
	v1.Handle("/admin/withdrawals", admin(h.ListWithdrawalsHandler)).Methods("GET")
	v1.Handle("/admin/withdrawals/{id}", admin(h.DecideWithdrawalHandler)).Methods("PUT")
	v1.Handle("/admin/commissions/{id}/approve", admin(h.ApproveCommissionHandler)).Methods("POST")
	v1.Handle("/admin/users", admin(h.ListUsersHandler)).Methods("GET")
	v1.Handle("/admin/users/{id}/active", withRole(h.SetUserActiveHandler, domain.RoleSuperAdmin)).Methods("PUT")

	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.service.Ping(ctx); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
