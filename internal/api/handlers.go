package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/models"
	"github.com/punchamoorthee/refledger/internal/service"
)

func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := h.decode(r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	user, err := h.service.Register(r.Context(), service.RegisterInput{
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		Email:        req.Email,
		Password:     req.Password,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	token, err := h.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.TokenResponse{AccessToken: token, TokenType: "bearer", User: user})
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := h.decode(r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	token, user, err := h.service.Login(r.Context(), req.PhoneNumber, req.Password)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: "bearer", User: user})
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), claimsFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) CreatePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PurchaseRequest
	if err := h.decode(r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	p, err := h.service.CreatePurchase(r.Context(), claimsFrom(r.Context()).UserID, service.PurchaseInput{
		ProductID:    req.ProductID,
		ProductName:  req.ProductName,
		Amount:       req.Amount,
		PaymentProof: req.PaymentProof,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/purchases/%s", p.ID))
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) VerifyPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	approved, err := queryBool(r, "approved")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	res, err := h.service.Verify(r.Context(), mux.Vars(r)["id"], approved, claimsFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) ListPurchasesHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.PurchaseStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = domain.PurchasePending
	case domain.PurchasePending, domain.PurchaseVerified, domain.PurchaseRejected:
	default:
		respondWithError(w, http.StatusBadRequest, "unknown purchase status")
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	purchases, err := h.service.ListPurchases(r.Context(), status, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(purchases))
}

// CreateWithdrawalHandler answers 201 for a new request and 200 when an
// Idempotency-Key replays an earlier one.
func (h *Handler) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawalRequest
	if err := h.decode(r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	wr, replay, err := h.service.RequestWithdrawal(r.Context(), service.WithdrawalInput{
		UserID:         claimsFrom(r.Context()).UserID,
		Amount:         req.Amount,
		Bank:           req.Bank(),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if replay {
		respondWithJSON(w, http.StatusOK, wr)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/withdrawals/%s", wr.ID))
	respondWithJSON(w, http.StatusCreated, wr)
}

func (h *Handler) CancelWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	wr, err := h.service.CancelWithdrawal(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) DecideWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	approved, err := queryBool(r, "approved")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	note := r.URL.Query().Get("note")
	wr, err := h.service.DecideWithdrawal(r.Context(), mux.Vars(r)["id"], approved, claimsFrom(r.Context()).UserID, note)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.WithdrawalStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = domain.WithdrawalRequested
	case domain.WithdrawalRequested, domain.WithdrawalApproved, domain.WithdrawalRejected, domain.WithdrawalCancelled:
	default:
		respondWithError(w, http.StatusBadRequest, "unknown withdrawal status")
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	list, err := h.service.ListWithdrawals(r.Context(), status, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) ApproveCommissionHandler(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.ApproveCommission(r.Context(), mux.Vars(r)["id"], claimsFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *Handler) OverviewHandler(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Overview(r.Context(), claimsFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) UserCommissionsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListUserCommissions(r.Context(), claimsFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(entries))
}

func (h *Handler) UserWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUserWithdrawals(r.Context(), claimsFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0, 0)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	users, total, err := h.service.ListUsers(r.Context(), skip, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.UserList{Users: nonNil(users), Total: total, Skip: skip, Limit: limit})
}

func (h *Handler) SetUserActiveHandler(w http.ResponseWriter, r *http.Request) {
	active, err := queryBool(r, "active")
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	user, err := h.service.SetUserActive(r.Context(), mux.Vars(r)["id"], active)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, user)
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
