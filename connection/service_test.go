package connection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"channelflow/participant"
)

func TestRequest_CreatesPending(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("reseller-1", participant.RoleReseller)

	conn, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("request: unexpected error: %v", err)
	}
	if conn.Status != StatusPending {
		t.Fatalf("expected status %s got %s", StatusPending, conn.Status)
	}
	if conn.RequesterID != "vendor-1" {
		t.Fatalf("expected requester vendor-1 got %s", conn.RequesterID)
	}
	if !env.pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestRequest_RejectsDuplicatePair(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("reseller-1", participant.RoleReseller)

	if _, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Same pair, opposite direction: still a duplicate.
	_, err := env.svc.Request(context.Background(), "reseller-1", "vendor-1")
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection got %v", err)
	}
}

func TestRequest_AllowsFreshRecordAfterRejection(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("reseller-1", participant.RoleReseller)

	first, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.svc.Reject(context.Background(), first.ID, "reseller-1"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	second, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("re-request after rejection: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh record after rejection")
	}
}

func TestRequest_RejectsDisallowedRolePairs(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("vendor-2", participant.RoleVendor)
	env.addProfile("buyer-1", participant.RoleBuyer)
	env.addProfile("reseller-1", participant.RoleReseller)

	cases := [][2]string{
		{"vendor-1", "vendor-2"},
		{"vendor-1", "buyer-1"},
		{"buyer-1", "reseller-1"},
	}
	for _, pair := range cases {
		if _, err := env.svc.Request(context.Background(), pair[0], pair[1]); !errors.Is(err, ErrInvalidRoleCombination) {
			t.Fatalf("pair %v: expected ErrInvalidRoleCombination got %v", pair, err)
		}
	}
}

func TestAccept_OnlyTargetMayAct(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("reseller-1", participant.RoleReseller)

	conn, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// The requester cannot accept its own request.
	if _, err := env.svc.Accept(context.Background(), conn.ID, "vendor-1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized got %v", err)
	}

	accepted, err := env.svc.Accept(context.Background(), conn.ID, "reseller-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Fatalf("expected status %s got %s", StatusAccepted, accepted.Status)
	}

	// Second accept observes the already-accepted state.
	if _, err := env.svc.Accept(context.Background(), conn.ID, "reseller-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition got %v", err)
	}
}

func TestCancel_OnlyRequesterWhilePending(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("reseller-1", participant.RoleReseller)

	conn, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := env.svc.Cancel(context.Background(), conn.ID, "reseller-1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for target cancel got %v", err)
	}

	cancelled, err := env.svc.Cancel(context.Background(), conn.ID, "vendor-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected status %s got %s", StatusCancelled, cancelled.Status)
	}

	if _, err := env.svc.Cancel(context.Background(), conn.ID, "vendor-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second cancel got %v", err)
	}
}

func TestRevoke_RequiresEstablishedConnection(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("reseller-1", participant.RoleReseller)

	conn, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := env.svc.Revoke(context.Background(), conn.ID, "vendor-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending revoke got %v", err)
	}

	if _, err := env.svc.Accept(context.Background(), conn.ID, "reseller-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := env.svc.Revoke(context.Background(), conn.ID, "outsider"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for outsider got %v", err)
	}

	revoked, err := env.svc.Revoke(context.Background(), conn.ID, "vendor-1")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != StatusRevoked {
		t.Fatalf("expected status %s got %s", StatusRevoked, revoked.Status)
	}
}

func TestCheckStatus(t *testing.T) {
	env := newTestEnv()
	env.addProfile("vendor-1", participant.RoleVendor)
	env.addProfile("reseller-1", participant.RoleReseller)

	res, err := env.svc.CheckStatus(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if res.Connected {
		t.Fatal("expected not connected before any request")
	}

	conn, err := env.svc.Request(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	res, err = env.svc.CheckStatus(context.Background(), "reseller-1", "vendor-1")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if res.Connected {
		t.Fatal("pending is not connected")
	}
	if res.Status != StatusPending || res.ConnectionID != conn.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RequesterID != "vendor-1" {
		t.Fatalf("expected requester vendor-1 got %s", res.RequesterID)
	}

	if _, err := env.svc.Accept(context.Background(), conn.ID, "reseller-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	res, err = env.svc.CheckStatus(context.Background(), "vendor-1", "reseller-1")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if !res.Connected || res.Status != StatusAccepted {
		t.Fatalf("expected accepted connection, got %+v", res)
	}
}

// --- fakes ---

type testEnv struct {
	pool     *fakePool
	repo     *fakeRepo
	profiles *fakeProfiles
	svc      *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		pool:     &fakePool{},
		repo:     newFakeRepo(),
		profiles: &fakeProfiles{byID: make(map[string]participant.Profile)},
	}
	env.svc = NewService(env.pool, env.repo, env.profiles, nil)
	return env
}

func (e *testEnv) addProfile(id, role string) {
	e.profiles.byID[id] = participant.Profile{ID: id, FullName: id, Role: role}
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

type fakeRepo struct {
	byID map[string]Connection
	seq  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]Connection)}
}

func samePair(c Connection, a, b string) bool {
	return (c.PartyAID == a && c.PartyBID == b) || (c.PartyAID == b && c.PartyBID == a)
}

func (f *fakeRepo) FindLiveByPair(ctx context.Context, tx pgx.Tx, partyA, partyB string) (Connection, error) {
	for _, c := range f.byID {
		if samePair(c, partyA, partyB) && !c.Status.IsTerminal() {
			return c, nil
		}
	}
	return Connection{}, ErrNotFound
}

func (f *fakeRepo) Create(ctx context.Context, tx pgx.Tx, conn Connection) (Connection, error) {
	f.seq++
	if conn.ID == "" {
		conn.ID = fmt.Sprintf("conn-%d", f.seq)
	}
	conn.CreatedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	conn.UpdatedAt = conn.CreatedAt
	f.byID[conn.ID] = conn
	return conn, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Connection, error) {
	c, ok := f.byID[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Connection, error) {
	c, ok := f.byID[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	f.byID[id] = c
	return c, nil
}

func (f *fakeRepo) LatestByPair(ctx context.Context, partyA, partyB string) (Connection, error) {
	var latest Connection
	found := false
	for _, c := range f.byID {
		if samePair(c, partyA, partyB) && (!found || c.CreatedAt.After(latest.CreatedAt)) {
			latest = c
			found = true
		}
	}
	if !found {
		return Connection{}, ErrNotFound
	}
	return latest, nil
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
