package authorization

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"channelflow/connection"
	"channelflow/participant"
	"channelflow/product"
)

func TestCreate_RequiresAcceptedConnection(t *testing.T) {
	env := newTestEnv()
	env.addProduct("prod-1", "vendor-1")
	env.addProfile("reseller-1", participant.RoleReseller)

	_, err := env.svc.Create(context.Background(), CreateParams{
		ProductID:  "prod-1",
		ResellerID: "reseller-1",
		GrantorID:  "vendor-1",
	})
	if !errors.Is(err, ErrConnectionNotAccepted) {
		t.Fatalf("expected ErrConnectionNotAccepted got %v", err)
	}
}

func TestCreate_RequiresProductOwnership(t *testing.T) {
	env := newTestEnv()
	env.addProduct("prod-1", "vendor-2")
	env.addProfile("reseller-1", participant.RoleReseller)
	env.connect("vendor-1", "reseller-1")

	_, err := env.svc.Create(context.Background(), CreateParams{
		ProductID:  "prod-1",
		ResellerID: "reseller-1",
		GrantorID:  "vendor-1",
	})
	if !errors.Is(err, ErrNotProductOwner) {
		t.Fatalf("expected ErrNotProductOwner got %v", err)
	}
}

func TestCreate_RequiresResellerRole(t *testing.T) {
	env := newTestEnv()
	env.addProduct("prod-1", "vendor-1")
	env.addProfile("buyer-1", participant.RoleBuyer)
	env.connect("vendor-1", "buyer-1")

	_, err := env.svc.Create(context.Background(), CreateParams{
		ProductID:  "prod-1",
		ResellerID: "buyer-1",
		GrantorID:  "vendor-1",
	})
	if !errors.Is(err, ErrNotReseller) {
		t.Fatalf("expected ErrNotReseller got %v", err)
	}
}

func TestCreate_PendingUntilRemoteConfirms(t *testing.T) {
	env := newTestEnv()
	env.addProduct("prod-1", "vendor-1")
	env.addProfile("reseller-1", participant.RoleReseller)
	env.connect("vendor-1", "reseller-1")

	a, err := env.svc.Create(context.Background(), CreateParams{
		ProductID:  "prod-1",
		ResellerID: "reseller-1",
		GrantorID:  "vendor-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("expected status %s got %s", StatusPending, a.Status)
	}
	if env.registrar.calls != 1 {
		t.Fatalf("expected one registration attempt, got %d", env.registrar.calls)
	}
	if a.RemoteSyncStatus != "requested" {
		t.Fatalf("expected sync status requested got %q", a.RemoteSyncStatus)
	}
}

func TestCreate_RegistrationFailureDoesNotFailCreate(t *testing.T) {
	env := newTestEnv()
	env.addProduct("prod-1", "vendor-1")
	env.addProfile("reseller-1", participant.RoleReseller)
	env.connect("vendor-1", "reseller-1")
	env.registrar.err = errors.New("remote down")

	a, err := env.svc.Create(context.Background(), CreateParams{
		ProductID:  "prod-1",
		ResellerID: "reseller-1",
		GrantorID:  "vendor-1",
	})
	if err != nil {
		t.Fatalf("create should succeed despite registration failure: %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("expected status %s got %s", StatusPending, a.Status)
	}
	if a.RemoteSyncStatus != "error" {
		t.Fatalf("expected sync status error got %q", a.RemoteSyncStatus)
	}
}

func TestCreate_RejectsDuplicateLiveAuthorization(t *testing.T) {
	env := newTestEnv()
	env.addProduct("prod-1", "vendor-1")
	env.addProfile("reseller-1", participant.RoleReseller)
	env.connect("vendor-1", "reseller-1")

	params := CreateParams{ProductID: "prod-1", ResellerID: "reseller-1", GrantorID: "vendor-1"}
	first, err := env.svc.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	if _, err := env.svc.Create(context.Background(), params); !errors.Is(err, ErrDuplicateAuthorization) {
		t.Fatalf("expected ErrDuplicateAuthorization got %v", err)
	}

	// After cancellation the pair may be re-authorized.
	if _, err := env.svc.Cancel(context.Background(), first.ID, "vendor-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.svc.Create(context.Background(), params); err != nil {
		t.Fatalf("re-create after cancel: %v", err)
	}
}

func TestActivate_GrantorOnlyFromDraftOrPending(t *testing.T) {
	env := newTestEnv()
	env.repo.put(Authorization{ID: "auth-1", ProductID: "prod-1", GrantorID: "vendor-1", ResellerID: "reseller-1", Status: StatusDraft})

	if _, err := env.svc.Activate(context.Background(), "auth-1", "reseller-1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized got %v", err)
	}

	a, err := env.svc.Activate(context.Background(), "auth-1", "vendor-1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("activate must not skip to active: got %s", a.Status)
	}
	if env.registrar.calls != 1 {
		t.Fatalf("expected registration attempt, got %d", env.registrar.calls)
	}

	env.repo.put(Authorization{ID: "auth-2", GrantorID: "vendor-1", Status: StatusActive})
	if _, err := env.svc.Activate(context.Background(), "auth-2", "vendor-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition got %v", err)
	}
}

func TestCancel_GrantorOnlyNonTerminal(t *testing.T) {
	env := newTestEnv()
	env.repo.put(Authorization{ID: "auth-1", GrantorID: "vendor-1", Status: StatusActive})

	if _, err := env.svc.Cancel(context.Background(), "auth-1", "reseller-1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized got %v", err)
	}

	a, err := env.svc.Cancel(context.Background(), "auth-1", "vendor-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if a.Status != StatusCancelled {
		t.Fatalf("expected status %s got %s", StatusCancelled, a.Status)
	}

	if _, err := env.svc.Cancel(context.Background(), "auth-1", "vendor-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition got %v", err)
	}
}

func TestGet_PresentsOverdueAsExpired(t *testing.T) {
	env := newTestEnv()
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	env.repo.put(Authorization{ID: "auth-1", GrantorID: "vendor-1", Status: StatusActive, AvailabilityEndDate: &end})

	env.svc.WithClock(func() time.Time { return end.Add(-time.Hour) })
	a, err := env.svc.Get(context.Background(), "auth-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Status != StatusActive {
		t.Fatalf("before end date expected active got %s", a.Status)
	}

	env.svc.WithClock(func() time.Time { return end.Add(time.Hour) })
	a, err = env.svc.Get(context.Background(), "auth-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Status != StatusExpired {
		t.Fatalf("after end date expected expired got %s", a.Status)
	}

	// Stored status is untouched; the sweep owns the rewrite.
	if env.repo.byID["auth-1"].Status != StatusActive {
		t.Fatalf("stored status must remain active, got %s", env.repo.byID["auth-1"].Status)
	}
}

// --- fakes ---

type testEnv struct {
	pool        *fakePool
	repo        *fakeRepo
	connections *fakeConnections
	products    *fakeProducts
	profiles    *fakeProfiles
	registrar   *fakeRegistrar
	svc         *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		pool:        &fakePool{},
		repo:        newFakeRepo(),
		connections: &fakeConnections{connected: make(map[string]bool)},
		products:    &fakeProducts{byID: make(map[string]product.Product)},
		profiles:    &fakeProfiles{byID: make(map[string]participant.Profile)},
		registrar:   &fakeRegistrar{},
	}
	env.svc = NewService(env.pool, env.repo, env.connections, env.products, env.profiles, env.registrar, nil)
	return env
}

func (e *testEnv) addProduct(id, vendorID string) {
	e.products.byID[id] = product.Product{ID: id, VendorID: vendorID, Title: id}
}

func (e *testEnv) addProfile(id, role string) {
	e.profiles.byID[id] = participant.Profile{ID: id, FullName: id, Role: role}
}

func (e *testEnv) connect(a, b string) {
	e.connections.connected[pairKey(a, b)] = true
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

type fakeConnections struct {
	connected map[string]bool
}

func (f *fakeConnections) CheckStatus(ctx context.Context, userID, otherUserID string) (connection.StatusResult, error) {
	if f.connected[pairKey(userID, otherUserID)] {
		return connection.StatusResult{Connected: true, Status: connection.StatusAccepted}, nil
	}
	return connection.StatusResult{Connected: false}, nil
}

type fakeProducts struct {
	byID map[string]product.Product
}

func (f *fakeProducts) GetByID(ctx context.Context, id string) (product.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return product.Product{}, product.ErrNotFound
	}
	return p, nil
}

type fakeProfiles struct {
	byID map[string]participant.Profile
}

func (f *fakeProfiles) GetByID(ctx context.Context, id string) (participant.Profile, error) {
	p, ok := f.byID[id]
	if !ok {
		return participant.Profile{}, participant.ErrNotFound
	}
	return p, nil
}

type fakeRegistrar struct {
	calls int
	err   error
}

func (f *fakeRegistrar) RegisterAuthorization(ctx context.Context, a Authorization) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "remote-" + a.ID, nil
}

type fakeRepo struct {
	byID map[string]Authorization
	seq  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]Authorization)}
}

func (f *fakeRepo) put(a Authorization) {
	f.byID[a.ID] = a
}

func (f *fakeRepo) FindLiveByProductReseller(ctx context.Context, tx pgx.Tx, productID, resellerID string) (Authorization, error) {
	for _, a := range f.byID {
		if a.ProductID == productID && a.ResellerID == resellerID && !a.Status.IsTerminal() {
			return a, nil
		}
	}
	return Authorization{}, ErrNotFound
}

func (f *fakeRepo) Create(ctx context.Context, tx pgx.Tx, a Authorization) (Authorization, error) {
	f.seq++
	if a.ID == "" {
		a.ID = fmt.Sprintf("auth-%d", f.seq)
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	f.byID[a.ID] = a
	return a, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Authorization, error) {
	a, ok := f.byID[id]
	if !ok {
		return Authorization{}, ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Authorization, error) {
	a, ok := f.byID[id]
	if !ok {
		return Authorization{}, ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	f.byID[id] = a
	return a, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (Authorization, error) {
	a, ok := f.byID[id]
	if !ok {
		return Authorization{}, ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) ListByGrantor(ctx context.Context, grantorID string) ([]Authorization, error) {
	items := []Authorization{}
	for _, a := range f.byID {
		if a.GrantorID == grantorID {
			items = append(items, a)
		}
	}
	return items, nil
}

func (f *fakeRepo) ListByReseller(ctx context.Context, resellerID string) ([]Authorization, error) {
	items := []Authorization{}
	for _, a := range f.byID {
		if a.ResellerID == resellerID {
			items = append(items, a)
		}
	}
	return items, nil
}

func (f *fakeRepo) SetRemoteSyncStatus(ctx context.Context, id, syncStatus string) error {
	a, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.RemoteSyncStatus = syncStatus
	f.byID[id] = a
	return nil
}

func (f *fakeRepo) SetRemoteRegistration(ctx context.Context, id, remoteID string) error {
	a, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.RemoteAuthorizationID = &remoteID
	a.RemoteSyncStatus = "requested"
	f.byID[id] = a
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
