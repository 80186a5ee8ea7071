package accessgate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/internal/app/services/credits"
	"github.com/R3E-Network/audit_layer/internal/app/services/permissions"
	"github.com/R3E-Network/audit_layer/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

type fixture struct {
	store  *memory.Store
	ledger *credits.Service
	gate   *Gate
}

func newFixture(t *testing.T, cache GrantCache) fixture {
	t.Helper()
	store := memory.New()
	store.PutReport(audit.Report{ID: "done", RepoName: "dex", Status: audit.StatusCompleted, SubmitterUserID: "owner"})
	store.PutReport(audit.Report{ID: "draft", RepoName: "vault", Status: audit.StatusPending, SubmitterUserID: "owner"})
	store.AddWhitelist("curator")

	log := logger.NewNop()
	ledger := credits.New(store, log)
	perms := permissions.New(store, store, log)
	return fixture{store: store, ledger: ledger, gate: New(ledger, store, perms, cache, 10, log)}
}

func (f fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.ledger.Grant(context.Background(), credit.GrantRequest{
		Owner: credit.User(userID), Amount: amount, ReferenceID: "seed:" + userID,
	})
	require.NoError(t, err)
}

func session(userID, id string) identity.Session {
	return identity.Session{ID: id, UserID: userID, IssuedAt: time.Now()}
}

func TestExemptRolesNeverPay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	d, err := f.gate.Check(ctx, session("curator", "s1"), "draft")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, ReasonCurator, d.Reason)

	d, err = f.gate.Check(ctx, session("owner", "s2"), "draft")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, identity.RoleSubmitter, d.Role)

	for _, user := range []string{"curator", "owner"} {
		bal, err := f.ledger.Balance(ctx, credit.User(user))
		require.NoError(t, err)
		assert.Zero(t, bal)
		txs, err := f.ledger.History(ctx, credit.User(user), 0)
		require.NoError(t, err)
		assert.Empty(t, txs)
	}
}

func TestViewerPaysOncePerSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fund(t, "alice", 25)

	d, err := f.gate.Check(ctx, session("alice", "s1"), "done")
	require.NoError(t, err)
	assert.Equal(t, ReasonCharged, d.Reason)
	assert.Equal(t, int64(10), d.Charged)
	require.NotNil(t, d.Balance)
	assert.Equal(t, int64(15), *d.Balance)

	d, err = f.gate.Check(ctx, session("alice", "s1"), "done")
	require.NoError(t, err)
	assert.True(t, d.Cached)
	assert.Zero(t, d.Charged)

	// A fresh session pays again.
	_, err = f.gate.Check(ctx, session("alice", "s2"), "done")
	require.NoError(t, err)

	bal, err := f.ledger.Balance(ctx, credit.User("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)

	txs, err := f.ledger.History(ctx, credit.User("alice"), 0)
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.Equal(t, credit.TxViewReport, txs[0].Type)
	assert.Equal(t, "view report dex", txs[0].Description)
	assert.Equal(t, "done", txs[0].ReferenceID)
}

func TestViewerDeniedOnUnfinishedReport(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, "alice", 100)

	d, err := f.gate.Check(context.Background(), session("alice", "s1"), "draft")
	assert.False(t, d.Granted)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeReportNotAvailable))

	bal, _ := f.ledger.Balance(context.Background(), credit.User("alice"))
	assert.Equal(t, int64(100), bal)
}

func TestInsufficientCreditsCarriesShortfall(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fund(t, "bob", 4)

	d, err := f.gate.Check(ctx, session("bob", "s1"), "done")
	require.Error(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, ReasonInsufficient, d.Reason)
	assert.Equal(t, int64(10), d.Required)
	require.NotNil(t, d.Balance)
	assert.Equal(t, int64(4), *d.Balance)

	se := apperrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, apperrors.CodeInsufficientCredits, se.Code)
	assert.Equal(t, int64(10), se.Details["required"])

	// The failed claim is released so a later top-up can pay.
	_, err = f.ledger.Grant(ctx, credit.GrantRequest{Owner: credit.User("bob"), Amount: 6, ReferenceID: "topup"})
	require.NoError(t, err)
	d, err = f.gate.Check(ctx, session("bob", "s1"), "done")
	require.NoError(t, err)
	assert.Equal(t, ReasonCharged, d.Reason)
}

func TestUnauthenticatedAndMissingReport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.gate.Check(ctx, identity.Session{}, "done")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotAuthenticated))

	_, err = f.gate.Check(ctx, session("alice", "s1"), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestConcurrentChecksDebitOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.fund(t, "carol", 50)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.gate.Check(ctx, session("carol", "shared"), "done")
			assert.NoError(t, err)
			assert.True(t, d.Granted)
		}()
	}
	wg.Wait()

	bal, err := f.ledger.Balance(ctx, credit.User("carol"))
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal)
}

// gatedLedger blocks every debit until release is closed, failing early if
// the debit's own context ends first.
type gatedLedger struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (l *gatedLedger) Debit(ctx context.Context, req credit.DebitRequest) (credit.Account, error) {
	l.calls.Add(1)
	l.once.Do(func() { close(l.entered) })
	select {
	case <-l.release:
		return credit.Account{Owner: req.Owner, Balance: 90}, nil
	case <-ctx.Done():
		return credit.Account{}, ctx.Err()
	}
}

func TestCancelledCallerDoesNotFailSharedCharge(t *testing.T) {
	f := newFixture(t, nil)
	ledger := &gatedLedger{entered: make(chan struct{}), release: make(chan struct{})}
	gate := New(ledger, f.store, permissions.New(f.store, f.store, logger.NewNop()), nil, 10, logger.NewNop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := gate.Check(firstCtx, session("erin", "s1"), "done")
		firstErr <- err
	}()
	<-ledger.entered

	second := make(chan Decision, 1)
	secondErr := make(chan error, 1)
	go func() {
		d, err := gate.Check(context.Background(), session("erin", "s1"), "done")
		second <- d
		secondErr <- err
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared charge")
	}

	close(ledger.release)
	select {
	case d := <-second:
		require.NoError(t, <-secondErr)
		assert.True(t, d.Granted)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), ledger.calls.Load())
}

type brokenCache struct{}

func (brokenCache) Has(context.Context, string, string) (bool, error) {
	return false, errors.New("cache down")
}
func (brokenCache) Claim(context.Context, string, string) (bool, error) {
	return false, errors.New("cache down")
}
func (brokenCache) Release(context.Context, string, string) error { return nil }

func TestCacheFailureStillCharges(t *testing.T) {
	f := newFixture(t, brokenCache{})
	f.fund(t, "dave", 20)

	d, err := f.gate.Check(context.Background(), session("dave", "s1"), "done")
	require.NoError(t, err)
	assert.Equal(t, ReasonCharged, d.Reason)
	assert.False(t, d.Cached)
}
