package memory

import (
	"sync"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/audit_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. A single
// mutex serialises every mutation, which makes each ledger operation atomic.
// It is safe for concurrent use and intended for tests and local development.
type Store struct {
	mu sync.RWMutex

	accounts     map[string]credit.Account // keyed by owner
	transactions map[string][]credit.Transaction
	grantRefs    map[string]struct{}

	whitelist map[string]struct{}

	dates   map[string]audit.Date
	reports map[string]audit.Report
	issues  map[string]audit.Issue

	allocations map[string]airdrop.Allocation
}

var _ storage.CreditStore = (*Store)(nil)
var _ storage.PermissionStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.AirdropStore = (*Store)(nil)
var _ storage.Seeder = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]credit.Account),
		transactions: make(map[string][]credit.Transaction),
		grantRefs:    make(map[string]struct{}),
		whitelist:    make(map[string]struct{}),
		dates:        make(map[string]audit.Date),
		reports:      make(map[string]audit.Report),
		issues:       make(map[string]audit.Issue),
		allocations:  make(map[string]airdrop.Allocation),
	}
}
