package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"channelflow/agreement"
	"channelflow/auth"
	"channelflow/authorization"
	"channelflow/connection"
	"channelflow/db"
	"channelflow/disbursement"
	"channelflow/httpapi"
	"channelflow/marketplace"
	"channelflow/offer"
	"channelflow/outbox"
	"channelflow/participant"
	"channelflow/product"
	"channelflow/reconcile"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	databaseURL := os.Getenv("DATABASE_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	marketplaceURL := os.Getenv("MARKETPLACE_BASE_URL")
	marketplaceKey := os.Getenv("MARKETPLACE_API_KEY")
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	if databaseURL == "" || jwtSecret == "" {
		log.Fatal().Msg("DATABASE_URL and JWT_SECRET are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	client := marketplace.NewHTTPClient(marketplaceURL, marketplaceKey)
	outboxWriter := outbox.NewWriter()

	authSvc := auth.NewService(auth.NewRepository(pool), jwtSecret)
	profiles := participant.NewService(participant.NewRepository(pool))
	products := product.NewRepository(pool)

	connections := connection.NewService(pool, connection.NewRepository(pool), profiles, outboxWriter)
	authorizations := authorization.NewService(
		pool,
		authorization.NewRepository(pool),
		connections,
		products,
		profiles,
		&registrar{client: client},
		outboxWriter,
	)

	agreementRepo := agreement.NewRepository(pool)
	agreements := agreement.NewService(pool, agreementRepo, outboxWriter)
	offers := offer.NewService(pool, offer.NewRepository(pool), agreementRepo, authorizations, products, profiles, outboxWriter).
		WithRegistrar(&registrar{client: client})
	disbursements := disbursement.NewRepository(pool)

	reconciler := reconcile.NewAdapter(client, reconcile.NewStore(pool), log)

	server := httpapi.NewServer(authSvc, connections, authorizations, offers, agreements, disbursements, reconciler, log)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", listenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	go sweepLoop(ctx, reconciler, log)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

// sweepLoop expires overdue authorizations on a fixed interval.
func sweepLoop(ctx context.Context, reconciler *reconcile.Adapter, log zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := reconciler.SweepExpiredAuthorizations(ctx); err != nil {
				log.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

// registrar adapts the marketplace client to the registration hooks of the
// authorization and offer services.
type registrar struct {
	client marketplace.Client
}

func (r *registrar) RegisterAuthorization(ctx context.Context, a authorization.Authorization) (string, error) {
	return r.client.RegisterAuthorization(ctx, marketplace.RegisterAuthorizationParams{
		ExternalRef: a.ID,
		GrantorID:   a.GrantorID,
		ResellerID:  a.ResellerID,
		ProductRef:  a.ProductID,
		ExpiresAt:   a.AvailabilityEndDate,
	})
}

func (r *registrar) RegisterOffer(ctx context.Context, o offer.Offer) (string, error) {
	return r.client.RegisterOffer(ctx, marketplace.RegisterOfferParams{
		ExternalRef: o.ID,
		ProductRef:  o.ProductID,
		PriceCents:  o.PriceCents,
		Currency:    o.Currency,
		Visibility:  string(o.Visibility),
	})
}
