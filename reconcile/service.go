package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"channelflow/agreement"
	"channelflow/authorization"
	"channelflow/disbursement"
	"channelflow/marketplace"
	"channelflow/offer"
)

// ErrNoRemoteLink signals the local record was never registered remotely.
var ErrNoRemoteLink = errors.New("reconcile: no remote link")

// Summary reports the outcome of one sync batch. A failed item stays in its
// previous local state and is retried on the next run.
type Summary struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// AgreementRef is the minimal local view the agreement sync walks.
type AgreementRef struct {
	LocalID  string
	RemoteID string
	Revision int64
	Status   agreement.Status
}

// OfferRef is the minimal local view the offer sync walks.
type OfferRef struct {
	LocalID  string
	RemoteID string
	Revision int64
	Status   offer.Status
}

// AuthorizationRef is the minimal local view the authorization sync walks.
type AuthorizationRef struct {
	LocalID   string
	RemoteID  string
	Revision  int64
	Status    authorization.Status
	GrantorID string
	ProductID string
}

// Store is the local persistence surface of the reconciler. Apply methods
// write only remote-owned columns and refuse to resurrect rows that are
// already terminal locally.
type Store interface {
	ListAgreementRefs(ctx context.Context) ([]AgreementRef, error)
	GetAgreementRef(ctx context.Context, localID string) (AgreementRef, error)
	ApplyAgreementRemote(ctx context.Context, localID string, status agreement.Status, hasStatus bool, revision int64) error

	ListOfferRefs(ctx context.Context) ([]OfferRef, error)
	GetOfferRef(ctx context.Context, localID string) (OfferRef, error)
	ApplyOfferRemote(ctx context.Context, localID string, status offer.Status, revision int64) error

	ListAuthorizationRefs(ctx context.Context) ([]AuthorizationRef, error)
	GetAuthorizationRef(ctx context.Context, localID string) (AuthorizationRef, error)
	ApplyAuthorizationRemote(ctx context.Context, localID string, status authorization.Status, revision int64) error
	ListAuthorizationsNeedingRegistration(ctx context.Context) ([]authorization.Authorization, error)
	SetAuthorizationRemoteID(ctx context.Context, localID, remoteID string) error

	LookupAgreementByRemoteID(ctx context.Context, remoteID string) (string, error)
	UpsertDisbursement(ctx context.Context, d disbursement.Disbursement) error

	MarkConnectionAuthorized(ctx context.Context, grantorID, resellerID, remoteID string) error
	ExpireOverdueAuthorizations(ctx context.Context, now time.Time) (int64, error)
}

// Adapter pulls remote state into the local read models. All syncs are
// idempotent: replaying a batch that is already applied changes nothing.
type Adapter struct {
	client marketplace.Client
	store  Store
	log    zerolog.Logger
	now    func() time.Time
}

func NewAdapter(client marketplace.Client, store Store, log zerolog.Logger) *Adapter {
	return &Adapter{client: client, store: store, log: log, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// SyncAgreements refreshes every locally known agreement that has a remote
// counterpart. One item's failure is recorded and the batch continues; an
// unreachable marketplace aborts the remainder and counts the untried items
// as failed.
func (a *Adapter) SyncAgreements(ctx context.Context) (Summary, error) {
	refs, err := a.store.ListAgreementRefs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: list agreements: %w", err)
	}

	var summary Summary
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(refs) - i
			return summary, err
		}

		if err := a.syncAgreement(ctx, ref); err != nil {
			summary.Failed++
			a.log.Warn().Err(err).Str("agreement_id", ref.LocalID).Msg("agreement sync failed")
			if errors.Is(err, marketplace.ErrUnavailable) {
				summary.Failed += len(refs) - i - 1
				return summary, nil
			}
			continue
		}
		summary.Synced++
	}
	return summary, nil
}

// SyncAgreement refreshes a single agreement by local id.
func (a *Adapter) SyncAgreement(ctx context.Context, localID string) error {
	ref, err := a.store.GetAgreementRef(ctx, localID)
	if err != nil {
		return err
	}
	return a.syncAgreement(ctx, ref)
}

func (a *Adapter) syncAgreement(ctx context.Context, ref AgreementRef) error {
	remote, err := a.client.GetAgreement(ctx, ref.RemoteID)
	if err != nil {
		return err
	}
	if remote.Revision <= ref.Revision {
		return nil
	}
	status, hasStatus := mapAgreementStatus(remote.Status)
	return a.store.ApplyAgreementRemote(ctx, ref.LocalID, status, hasStatus, remote.Revision)
}

// SyncOffers refreshes offers that have a remote counterpart.
func (a *Adapter) SyncOffers(ctx context.Context) (Summary, error) {
	refs, err := a.store.ListOfferRefs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: list offers: %w", err)
	}

	var summary Summary
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(refs) - i
			return summary, err
		}

		if err := a.syncOffer(ctx, ref); err != nil {
			summary.Failed++
			a.log.Warn().Err(err).Str("offer_id", ref.LocalID).Msg("offer sync failed")
			if errors.Is(err, marketplace.ErrUnavailable) {
				summary.Failed += len(refs) - i - 1
				return summary, nil
			}
			continue
		}
		summary.Synced++
	}
	return summary, nil
}

// SyncOffer refreshes a single offer by local id.
func (a *Adapter) SyncOffer(ctx context.Context, localID string) error {
	ref, err := a.store.GetOfferRef(ctx, localID)
	if err != nil {
		return err
	}
	return a.syncOffer(ctx, ref)
}

func (a *Adapter) syncOffer(ctx context.Context, ref OfferRef) error {
	remote, err := a.client.GetOffer(ctx, ref.RemoteID)
	if err != nil {
		return err
	}
	if remote.Revision <= ref.Revision {
		return nil
	}
	return a.store.ApplyOfferRemote(ctx, ref.LocalID, mapOfferStatus(remote.Status), remote.Revision)
}

// SyncAuthorizations refreshes resale authorizations. Local pending rows
// whose remote record reports active are promoted here and nowhere else,
// and the promotion mirrors onto the pair's connection. Rows whose
// registration previously failed are re-registered first.
func (a *Adapter) SyncAuthorizations(ctx context.Context) (Summary, error) {
	var summary Summary

	unregistered, err := a.store.ListAuthorizationsNeedingRegistration(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: list unregistered authorizations: %w", err)
	}
	for i, auth := range unregistered {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(unregistered) - i
			return summary, err
		}
		remoteID, err := a.client.RegisterAuthorization(ctx, marketplace.RegisterAuthorizationParams{
			ExternalRef: auth.ID,
			GrantorID:   auth.GrantorID,
			ResellerID:  auth.ResellerID,
			ProductRef:  auth.ProductID,
			ExpiresAt:   auth.AvailabilityEndDate,
		})
		if err != nil {
			summary.Failed++
			a.log.Warn().Err(err).Str("authorization_id", auth.ID).Msg("authorization registration retry failed")
			if errors.Is(err, marketplace.ErrUnavailable) {
				return summary, nil
			}
			continue
		}
		if err := a.store.SetAuthorizationRemoteID(ctx, auth.ID, remoteID); err != nil {
			summary.Failed++
			continue
		}
		summary.Synced++
	}

	refs, err := a.store.ListAuthorizationRefs(ctx)
	if err != nil {
		return summary, fmt.Errorf("reconcile: list authorizations: %w", err)
	}
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(refs) - i
			return summary, err
		}

		if err := a.syncAuthorization(ctx, ref); err != nil {
			summary.Failed++
			a.log.Warn().Err(err).Str("authorization_id", ref.LocalID).Msg("authorization sync failed")
			if errors.Is(err, marketplace.ErrUnavailable) {
				summary.Failed += len(refs) - i - 1
				return summary, nil
			}
			continue
		}
		summary.Synced++
	}
	return summary, nil
}

// SyncAuthorization refreshes a single authorization by local id.
func (a *Adapter) SyncAuthorization(ctx context.Context, localID string) error {
	ref, err := a.store.GetAuthorizationRef(ctx, localID)
	if err != nil {
		return err
	}
	return a.syncAuthorization(ctx, ref)
}

func (a *Adapter) syncAuthorization(ctx context.Context, ref AuthorizationRef) error {
	remote, err := a.client.GetAuthorization(ctx, ref.RemoteID)
	if err != nil {
		return err
	}
	if remote.Revision <= ref.Revision {
		return nil
	}

	status := mapAuthorizationStatus(remote.Status)
	if err := a.store.ApplyAuthorizationRemote(ctx, ref.LocalID, status, remote.Revision); err != nil {
		return err
	}

	if status == authorization.StatusActive {
		if err := a.store.MarkConnectionAuthorized(ctx, remote.GrantorID, remote.ResellerID, remote.ID); err != nil {
			return err
		}
	}
	return nil
}

// SyncDisbursements pulls the marketplace's payout ledger and upserts it
// locally. A payout referencing an agreement we do not know is failed and
// retried on a later run once the agreement sync has caught up.
func (a *Adapter) SyncDisbursements(ctx context.Context) (Summary, error) {
	remotes, err := a.client.ListDisbursements(ctx)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnavailable) {
			return Summary{}, nil
		}
		return Summary{}, fmt.Errorf("reconcile: list disbursements: %w", err)
	}

	var summary Summary
	for i, remote := range remotes {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(remotes) - i
			return summary, err
		}

		agreementID, err := a.store.LookupAgreementByRemoteID(ctx, remote.AgreementRef)
		if err != nil {
			summary.Failed++
			a.log.Warn().Err(err).Str("remote_disbursement_id", remote.ID).Msg("disbursement references unknown agreement")
			continue
		}

		err = a.store.UpsertDisbursement(ctx, disbursement.Disbursement{
			AgreementID:          agreementID,
			RemoteDisbursementID: remote.ID,
			AmountCents:          remote.AmountCents,
			Currency:             remote.Currency,
			PeriodStart:          remote.PeriodStart,
			PeriodEnd:            remote.PeriodEnd,
			Status:               mapDisbursementStatus(remote.Status),
			RemoteRevision:       remote.Revision,
		})
		if err != nil {
			summary.Failed++
			a.log.Warn().Err(err).Str("remote_disbursement_id", remote.ID).Msg("disbursement upsert failed")
			continue
		}
		summary.Synced++
	}
	return summary, nil
}

// SweepExpiredAuthorizations flips overdue non-terminal authorizations to
// expired. The sweep is a single batch update so reruns are free.
func (a *Adapter) SweepExpiredAuthorizations(ctx context.Context) (int64, error) {
	n, err := a.store.ExpireOverdueAuthorizations(ctx, a.now())
	if err != nil {
		return 0, fmt.Errorf("reconcile: expiry sweep: %w", err)
	}
	if n > 0 {
		a.log.Info().Int64("expired", n).Msg("authorization expiry sweep")
	}
	return n, nil
}

// SyncEverything runs all entity syncs concurrently and merges the
// summaries. Entity batches are independent, so one entity's failures do
// not gate another's progress.
func (a *Adapter) SyncEverything(ctx context.Context) (Summary, error) {
	var (
		g, gctx   = errgroup.WithContext(ctx)
		summaries = make([]Summary, 4)
	)

	g.Go(func() error {
		s, err := a.SyncAgreements(gctx)
		summaries[0] = s
		return err
	})
	g.Go(func() error {
		s, err := a.SyncOffers(gctx)
		summaries[1] = s
		return err
	})
	g.Go(func() error {
		s, err := a.SyncAuthorizations(gctx)
		summaries[2] = s
		return err
	})
	g.Go(func() error {
		s, err := a.SyncDisbursements(gctx)
		summaries[3] = s
		return err
	})

	err := g.Wait()

	var total Summary
	for _, s := range summaries {
		total.Synced += s.Synced
		total.Failed += s.Failed
	}
	return total, err
}
