package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/adapters/store"
	"github.com/smcroissant/croissantpay-sub000/internal/infra/logging"
	"github.com/smcroissant/croissantpay-sub000/internal/usecase"
)

const maxBodyBytes = 1 << 20 // store notifications are small; cap abuse

// Server exposes the reconciliation API: receipt validation, store
// notification intake, subscriber reads and delivery stats.
type Server struct {
	receipts      usecase.ReceiptUseCase
	notifications usecase.NotificationUseCase
	subscribers   usecase.SubscriberUseCase
	stats         usecase.StatsUseCase
	logger        *zerolog.Logger
}

func NewServer(
	receipts usecase.ReceiptUseCase,
	notifications usecase.NotificationUseCase,
	subscribers usecase.SubscriberUseCase,
	stats usecase.StatsUseCase,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		receipts:      receipts,
		notifications: notifications,
		subscribers:   subscribers,
		stats:         stats,
		logger:        logger,
	}
}

// Register mounts all routes on the router. Paths are absolute so the
// router can be mounted at root.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/receipts", s.handleValidateReceipt)
		r.Post("/notifications/apple", s.handleAppleNotification)
		r.Post("/notifications/google", s.handleGoogleNotification)
		r.Get("/subscribers/{appUserID}", s.handleGetSubscriber)
		r.Post("/subscribers/{appUserID}/aliases", s.handleAddAlias)
		r.Get("/webhooks/stats", s.handleWebhookStats)
	})
}

//
// ---------------- request/response shapes ----------------
//

type validateReceiptRequest struct {
	AppUserID      string `json:"app_user_id"`
	Platform       string `json:"platform"`
	TransactionID  string `json:"transaction_id,omitempty"`
	StoreProductID string `json:"store_product_id,omitempty"`
	PurchaseToken  string `json:"purchase_token,omitempty"`
}

type addAliasRequest struct {
	Alias string `json:"alias"`
}

type subscriberResponse struct {
	Subscriber       subscriberBody     `json:"subscriber"`
	Subscriptions    []subscriptionBody `json:"subscriptions"`
	Entitlements     []entitlementBody  `json:"entitlements"`
	OneTimePurchases []purchaseBody     `json:"one_time_purchases"`
}

type subscriberBody struct {
	ID          string    `json:"id"`
	AppUserID   string    `json:"app_user_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

type subscriptionBody struct {
	ID                    string     `json:"id"`
	ProductID             string     `json:"product_id"`
	Platform              string     `json:"platform"`
	OriginalTransactionID string     `json:"original_transaction_id"`
	Status                string     `json:"status"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	GracePeriodExpiresAt  *time.Time `json:"grace_period_expires_at,omitempty"`
	AutoRenew             bool       `json:"auto_renew"`
	IsTrial               bool       `json:"is_trial"`
	Environment           string     `json:"environment"`
}

type entitlementBody struct {
	EntitlementID string     `json:"entitlement_id"`
	Active        bool       `json:"active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Reason        string     `json:"reason"`
	GrantedAt     time.Time  `json:"granted_at"`
}

type purchaseBody struct {
	ID                 string     `json:"id"`
	ProductID          string     `json:"product_id"`
	Platform           string     `json:"platform"`
	StoreTransactionID string     `json:"store_transaction_id"`
	PurchasedAt        time.Time  `json:"purchased_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Status             string     `json:"status"`
}

type webhookStatsResponse struct {
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Pending   int            `json:"pending"`
	Recent    []deliveryBody `json:"recent"`
}

type deliveryBody struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

//
// ---------------- handlers ----------------
//

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleValidateReceipt(w http.ResponseWriter, r *http.Request) {
	var req validateReceiptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	platform, ok := parsePlatform(req.Platform)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_platform", "platform must be app_store or play_store")
		return
	}
	if req.AppUserID == "" {
		writeError(w, http.StatusBadRequest, "missing_app_user_id", "app_user_id is required")
		return
	}

	snap, err := s.receipts.Validate(r.Context(), usecase.ValidateReceiptRequest{
		AppUserID:      req.AppUserID,
		Platform:       platform,
		TransactionID:  req.TransactionID,
		StoreProductID: req.StoreProductID,
		PurchaseToken:  req.PurchaseToken,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriberResponse(snap))
}

func (s *Server) handleAppleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	n, err := store.DecodeAppleNotification(body)
	if err != nil {
		l := logging.With(r.Context(), s.logger)
		l.Warn().Err(err).Msg("undecodable apple notification")
		writeError(w, http.StatusBadRequest, "invalid_notification", "notification payload could not be decoded")
		return
	}

	sig := usecase.StoreSignal{
		Platform:         model.PlatformAppStore,
		NotificationUUID: n.NotificationUUID,
		Type:             string(n.NotificationType),
		Actionable:       n.Actionable(),
		GraceDeadline:    n.GraceDeadline,
		Raw:              body,
	}
	sig.Ref.TransactionID = n.TransactionID()
	if err := s.notifications.Process(r.Context(), sig); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGoogleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	n, err := store.DecodeGoogleNotification(body)
	if err != nil {
		l := logging.With(r.Context(), s.logger)
		l.Warn().Err(err).Msg("undecodable google notification")
		writeError(w, http.StatusBadRequest, "invalid_notification", "notification payload could not be decoded")
		return
	}

	sig := usecase.StoreSignal{
		Platform:         model.PlatformPlayStore,
		NotificationUUID: n.MessageID,
		Type:             n.NotificationType.String(),
		Actionable:       n.Actionable(),
		Raw:              body,
	}
	sig.Ref.StoreProductID = n.StoreProductID
	sig.Ref.PurchaseToken = n.PurchaseToken
	if err := s.notifications.Process(r.Context(), sig); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	appUserID := chi.URLParam(r, "appUserID")
	if appUserID == "" {
		writeError(w, http.StatusBadRequest, "missing_app_user_id", "app user id is required")
		return
	}
	snap, err := s.subscribers.GetInfo(r.Context(), appUserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriberResponse(snap))
}

func (s *Server) handleAddAlias(w http.ResponseWriter, r *http.Request) {
	appUserID := chi.URLParam(r, "appUserID")
	if appUserID == "" {
		writeError(w, http.StatusBadRequest, "missing_app_user_id", "app user id is required")
		return
	}
	var req addAliasRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if req.Alias == "" {
		writeError(w, http.StatusBadRequest, "missing_alias", "alias is required")
		return
	}
	if err := s.subscribers.Alias(r.Context(), appUserID, req.Alias); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	report, err := s.stats.WebhookStats(r.Context(), 0)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := webhookStatsResponse{
		Processed: report.Stats.Processed,
		Failed:    report.Stats.Failed,
		Pending:   report.Stats.Pending,
		Recent:    make([]deliveryBody, 0, len(report.Recent)),
	}
	for _, d := range report.Recent {
		resp.Recent = append(resp.Recent, deliveryBody{
			ID:        d.ID,
			EventType: string(d.EventType),
			Status:    string(d.Status),
			Attempts:  d.Attempts,
			LastError: d.LastError,
			UpdatedAt: d.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

//
// ---------------- helpers ----------------
//

func parsePlatform(s string) (model.Platform, bool) {
	switch model.Platform(s) {
	case model.PlatformAppStore, model.PlatformPlayStore:
		return model.Platform(s), true
	default:
		return "", false
	}
}

func toSubscriberResponse(snap *usecase.SubscriberSnapshot) subscriberResponse {
	resp := subscriberResponse{
		Subscriber: subscriberBody{
			ID:          snap.Subscriber.ID,
			AppUserID:   snap.Subscriber.AppUserID,
			FirstSeenAt: snap.Subscriber.FirstSeenAt,
			LastSeenAt:  snap.Subscriber.LastSeenAt,
		},
		Subscriptions:    make([]subscriptionBody, 0, len(snap.Subscriptions)),
		Entitlements:     make([]entitlementBody, 0, len(snap.Entitlements)),
		OneTimePurchases: make([]purchaseBody, 0, len(snap.OneTimePurchases)),
	}
	for _, sub := range snap.Subscriptions {
		resp.Subscriptions = append(resp.Subscriptions, subscriptionBody{
			ID:                    sub.ID,
			ProductID:             sub.ProductID,
			Platform:              string(sub.Platform),
			OriginalTransactionID: sub.OriginalTransactionID,
			Status:                string(sub.Status),
			ExpiresAt:             sub.ExpiresAt,
			GracePeriodExpiresAt:  sub.GracePeriodExpiresAt,
			AutoRenew:             sub.AutoRenew,
			IsTrial:               sub.IsTrial,
			Environment:           string(sub.Environment),
		})
	}
	for _, g := range snap.Entitlements {
		resp.Entitlements = append(resp.Entitlements, entitlementBody{
			EntitlementID: g.EntitlementID,
			Active:        g.Active,
			ExpiresAt:     g.ExpiresAt,
			Reason:        string(g.Reason),
			GrantedAt:     g.GrantedAt,
		})
	}
	for _, p := range snap.OneTimePurchases {
		resp.OneTimePurchases = append(resp.OneTimePurchases, purchaseBody{
			ID:                 p.ID,
			ProductID:          p.ProductID,
			Platform:           string(p.Platform),
			StoreTransactionID: p.StoreTransactionID,
			PurchasedAt:        p.PurchasedAt,
			ExpiresAt:          p.ExpiresAt,
			Status:             string(p.Status),
		})
	}
	return resp
}

// writeDomainError maps domain sentinels onto the API error contract.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrProductNotRecognized):
		writeError(w, http.StatusUnprocessableEntity, "product_not_recognized", "store product has no matching product configuration")
	case errors.Is(err, domain.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "transaction_not_found", "transaction not found in the store")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", "request is missing required fields")
	case errors.Is(err, domain.ErrMissingStoreCredentials):
		writeError(w, http.StatusBadGateway, "store_not_configured", "store credentials are not configured")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusBadGateway, "store_unavailable", "store API is temporarily unavailable")
	default:
		l := logging.With(r.Context(), s.logger)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, map[string]errorBody{"error": {Code: errCode, Message: msg}})
}
