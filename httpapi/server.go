package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"channelflow/agreement"
	"channelflow/auth"
	"channelflow/authorization"
	"channelflow/connection"
	"channelflow/disbursement"
	"channelflow/marketplace"
	"channelflow/offer"
	"channelflow/reconcile"
)

// DisbursementReader is the read-only payout surface exposed over HTTP.
type DisbursementReader interface {
	Get(ctx context.Context, id string) (disbursement.Disbursement, error)
	ListByAgreement(ctx context.Context, agreementID string, limit int) ([]disbursement.Disbursement, error)
}

// Server wires the domain services onto a chi router.
type Server struct {
	auth           *auth.Service
	connections    *connection.Service
	authorizations *authorization.Service
	offers         *offer.Service
	agreements     *agreement.Service
	disbursements  DisbursementReader
	reconciler     *reconcile.Adapter
	log            zerolog.Logger
}

func NewServer(
	authSvc *auth.Service,
	connections *connection.Service,
	authorizations *authorization.Service,
	offers *offer.Service,
	agreements *agreement.Service,
	disbursements DisbursementReader,
	reconciler *reconcile.Adapter,
	log zerolog.Logger,
) *Server {
	return &Server{
		auth:           authSvc,
		connections:    connections,
		authorizations: authorizations,
		offers:         offers,
		agreements:     agreements,
		disbursements:  disbursements,
		reconciler:     reconciler,
		log:            log,
	}
}

// Router builds the HTTP surface. Everything except registration, login and
// the health probe sits behind JWT auth.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(s.auth))

		r.Route("/connections", func(r chi.Router) {
			r.Post("/request", s.handleConnectionRequest)
			r.Post("/{id}/accept", s.connectionTransition(s.connections.Accept))
			r.Post("/{id}/reject", s.connectionTransition(s.connections.Reject))
			r.Post("/{id}/cancel", s.connectionTransition(s.connections.Cancel))
			r.Post("/{id}/revoke", s.connectionTransition(s.connections.Revoke))
			r.Get("/status/{userId}", s.handleConnectionStatus)
		})

		r.Route("/resale-authorizations", func(r chi.Router) {
			r.Post("/", s.handleAuthorizationCreate)
			r.Get("/", s.handleAuthorizationList)
			r.Get("/{id}", s.handleAuthorizationGet)
			r.Post("/{id}/activate", s.authorizationTransition(s.authorizations.Activate))
			r.Post("/{id}/cancel", s.authorizationTransition(s.authorizations.Cancel))
			r.Post("/{id}/sync", s.handleSyncOne(s.reconciler.SyncAuthorization))
			r.Post("/sync", s.handleSync(s.reconciler.SyncAuthorizations))
		})

		r.Route("/offers", func(r chi.Router) {
			r.Post("/", s.handleOfferCreate)
			r.Get("/", s.handleOfferList)
			r.Get("/{id}", s.handleOfferGet)
			r.Post("/{id}/publish", s.offerTransition(s.offers.Publish))
			r.Post("/{id}/release", s.offerTransition(s.offers.Release))
			r.Post("/{id}/accept", s.handleOfferAccept)
			r.Post("/{id}/decline", s.offerTransition(s.offers.Decline))
			r.Post("/{id}/sync", s.handleSyncOne(s.reconciler.SyncOffer))
			r.Post("/sync", s.handleSync(s.reconciler.SyncOffers))
		})

		r.Route("/agreements", func(r chi.Router) {
			r.Get("/", s.handleAgreementList)
			r.Get("/{id}", s.handleAgreementGet)
			r.Get("/{id}/disbursements", s.handleAgreementDisbursements)
			r.Post("/{id}/renew", s.handleAgreementRenew)
			r.Post("/{id}/terminate", s.agreementTransition(s.agreements.Terminate))
			r.Post("/{id}/archive", s.agreementTransition(s.agreements.Archive))
			r.Post("/{id}/sync", s.handleSyncOne(s.reconciler.SyncAgreement))
			r.Post("/sync", s.handleSync(s.reconciler.SyncAgreements))
		})

		r.Post("/disbursements/sync", s.handleSync(s.reconciler.SyncDisbursements))
	})

	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
			"role":      result.User.Role,
		},
	})
}

func (s *Server) handleConnectionRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetID string `json:"target_id"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conn, err := s.connections.Request(r.Context(), UserID(r.Context()), req.TargetID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

func (s *Server) connectionTransition(op func(ctx context.Context, id, actingUserID string) (connection.Connection, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := op(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, toConnectionResponse(conn))
	}
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.connections.CheckStatus(r.Context(), UserID(r.Context()), chi.URLParam(r, "userId"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toConnectionStatusResponse(result))
}

func (s *Server) handleAuthorizationCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID           string     `json:"product_id"`
		ResellerID          string     `json:"reseller_id"`
		AvailabilityEndDate *time.Time `json:"availability_end_date"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := s.authorizations.Create(r.Context(), authorization.CreateParams{
		ProductID:           req.ProductID,
		ResellerID:          req.ResellerID,
		GrantorID:           UserID(r.Context()),
		AvailabilityEndDate: req.AvailabilityEndDate,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toAuthorizationResponse(a))
}

func (s *Server) handleAuthorizationList(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	var (
		items []authorization.Authorization
		err   error
	)
	if r.URL.Query().Get("side") == "received" {
		items, err = s.authorizations.ListByReseller(r.Context(), userID)
	} else {
		items, err = s.authorizations.ListByGrantor(r.Context(), userID)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toAuthorizationResponses(items))
}

func (s *Server) handleAuthorizationGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.authorizations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toAuthorizationResponse(a))
}

func (s *Server) authorizationTransition(op func(ctx context.Context, id, actingUserID string) (authorization.Authorization, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := op(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, toAuthorizationResponse(a))
	}
}

func (s *Server) handleOfferCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID       string     `json:"product_id"`
		AuthorizationID string     `json:"authorization_id"`
		Visibility      string     `json:"visibility"`
		PriceCents      int64      `json:"price_cents"`
		Currency        string     `json:"currency"`
		DurationDays    int        `json:"duration_days"`
		Terms           string     `json:"terms"`
		ValidFrom       *time.Time `json:"valid_from"`
		ValidUntil      *time.Time `json:"valid_until"`
		Recipients      []string   `json:"recipients"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := s.offers.Create(r.Context(), offer.CreateParams{
		CreatorID:       UserID(r.Context()),
		ProductID:       req.ProductID,
		AuthorizationID: req.AuthorizationID,
		Visibility:      offer.Visibility(req.Visibility),
		PriceCents:      req.PriceCents,
		Currency:        req.Currency,
		DurationDays:    req.DurationDays,
		Terms:           req.Terms,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		Recipients:      req.Recipients,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toOfferResponse(o))
}

func (s *Server) handleOfferList(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	var (
		items []offer.Offer
		err   error
	)
	if r.URL.Query().Get("side") == "received" {
		items, err = s.offers.ListForRecipient(r.Context(), userID, 0)
	} else {
		items, err = s.offers.ListByCreator(r.Context(), userID, 0)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toOfferResponses(items))
}

func (s *Server) handleOfferGet(w http.ResponseWriter, r *http.Request) {
	o, err := s.offers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toOfferResponse(o))
}

func (s *Server) offerTransition(op func(ctx context.Context, id, actingUserID string) (offer.Offer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := op(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, toOfferResponse(o))
	}
}

func (s *Server) handleOfferAccept(w http.ResponseWriter, r *http.Request) {
	o, agr, err := s.offers.Accept(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"offer": toOfferResponse(o), "agreement": toAgreementResponse(agr)})
}

func (s *Server) handleAgreementList(w http.ResponseWriter, r *http.Request) {
	items, err := s.agreements.ListByParty(r.Context(), UserID(r.Context()), 0)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toAgreementResponses(items))
}

func (s *Server) handleAgreementGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.agreements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toAgreementResponse(a))
}

func (s *Server) handleAgreementDisbursements(w http.ResponseWriter, r *http.Request) {
	items, err := s.disbursements.ListByAgreement(r.Context(), chi.URLParam(r, "id"), 0)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toDisbursementResponses(items))
}

func (s *Server) handleAgreementRenew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceCents   int64  `json:"price_cents"`
		Currency     string `json:"currency"`
		DurationDays int    `json:"duration_days"`
		Terms        string `json:"terms"`
		Amendment    bool   `json:"amendment"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	child, err := s.agreements.CreateRenewal(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), agreement.RenewalParams{
		PriceCents:   req.PriceCents,
		Currency:     req.Currency,
		DurationDays: req.DurationDays,
		Terms:        req.Terms,
		Amendment:    req.Amendment,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toAgreementResponse(child))
}

func (s *Server) agreementTransition(op func(ctx context.Context, id, actingUserID string) (agreement.Agreement, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := op(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, toAgreementResponse(a))
	}
}

func (s *Server) handleSync(sync func(ctx context.Context) (reconcile.Summary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := sync(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("sync aborted")
			WriteError(w, http.StatusBadGateway, "sync aborted")
			return
		}
		WriteJSON(w, http.StatusOK, summary)
	}
}

// handleSyncOne refreshes a single record from the marketplace.
func (s *Server) handleSyncOne(sync func(ctx context.Context, localID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sync(r.Context(), chi.URLParam(r, "id")); err != nil {
			s.writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, reconcile.Summary{Synced: 1})
	}
}

// writeDomainError maps sentinel errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, connection.ErrNotFound),
		errors.Is(err, authorization.ErrNotFound),
		errors.Is(err, offer.ErrNotFound),
		errors.Is(err, agreement.ErrNotFound),
		errors.Is(err, disbursement.ErrNotFound),
		errors.Is(err, offer.ErrRecipientNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		WriteError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, connection.ErrNotAuthorized),
		errors.Is(err, authorization.ErrNotAuthorized),
		errors.Is(err, authorization.ErrNotProductOwner),
		errors.Is(err, offer.ErrNotAuthorized),
		errors.Is(err, agreement.ErrNotAuthorized):
		WriteError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, connection.ErrDuplicateConnection),
		errors.Is(err, connection.ErrInvalidTransition),
		errors.Is(err, authorization.ErrDuplicateAuthorization),
		errors.Is(err, authorization.ErrInvalidTransition),
		errors.Is(err, authorization.ErrConnectionNotAccepted),
		errors.Is(err, offer.ErrInvalidTransition),
		errors.Is(err, offer.ErrOfferNoLongerActive),
		errors.Is(err, agreement.ErrInvalidTransition),
		errors.Is(err, agreement.ErrAlreadyRenewed),
		errors.Is(err, auth.ErrDuplicateEmail):
		WriteError(w, http.StatusConflict, err.Error())

	case errors.Is(err, connection.ErrInvalidRoleCombination),
		errors.Is(err, authorization.ErrNotReseller),
		errors.Is(err, offer.ErrAuthorizationRequired),
		errors.Is(err, offer.ErrNoRecipients),
		errors.Is(err, offer.ErrUnexpectedRecipients):
		WriteError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, reconcile.ErrNoRemoteLink):
		WriteError(w, http.StatusConflict, err.Error())

	case errors.Is(err, marketplace.ErrUnavailable),
		errors.Is(err, marketplace.ErrRemoteNotFound):
		WriteError(w, http.StatusBadGateway, err.Error())

	default:
		s.log.Error().Err(err).Msg("internal error")
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
