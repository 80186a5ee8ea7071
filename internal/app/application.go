package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/audit_layer/internal/app/services/accessgate"
	airdropsvc "github.com/R3E-Network/audit_layer/internal/app/services/airdrop"
	"github.com/R3E-Network/audit_layer/internal/app/services/credits"
	"github.com/R3E-Network/audit_layer/internal/app/services/lifecycle"
	"github.com/R3E-Network/audit_layer/internal/app/services/permissions"
	"github.com/R3E-Network/audit_layer/internal/app/services/reports"
	"github.com/R3E-Network/audit_layer/internal/app/services/stats"
	"github.com/R3E-Network/audit_layer/internal/app/storage"
	"github.com/R3E-Network/audit_layer/internal/app/storage/memory"
	"github.com/R3E-Network/audit_layer/internal/app/system"
	"github.com/R3E-Network/audit_layer/internal/wallet"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Credits     storage.CreditStore
	Permissions storage.PermissionStore
	Audit       storage.AuditStore
	Airdrop     storage.AirdropStore
}

// Options tunes the services. Zero values pick the defaults.
type Options struct {
	ViewReportCost int64
	GrantCache     accessgate.GrantCache
	Verifier       wallet.Verifier
	Challenges     airdropsvc.ChallengeStore
	ChallengeTTL   time.Duration
	Generator      lifecycle.ContentGenerator
	StatsSchedule  string
	DisableStats   bool
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Credits     *credits.Service
	Permissions *permissions.Service
	Reports     *reports.Service
	Gate        *accessgate.Gate
	Lifecycle   *lifecycle.Service
	Airdrop     *airdropsvc.Service
	Stats       *stats.Refresher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Credits == nil {
		stores.Credits = mem
	}
	if stores.Permissions == nil {
		stores.Permissions = mem
	}
	if stores.Audit == nil {
		stores.Audit = mem
	}
	if stores.Airdrop == nil {
		stores.Airdrop = mem
	}

	manager := system.NewManager()

	creditService := credits.New(stores.Credits, log.Named("credits"))
	reportService := reports.New(stores.Audit, log.Named("reports"))
	permService := permissions.New(stores.Permissions, reportService, log.Named("permissions"))
	gate := accessgate.New(creditService, reportService, permService, opts.GrantCache, opts.ViewReportCost, log.Named("accessgate"))
	lifecycleService := lifecycle.New(reportService, permService, opts.Generator, log.Named("lifecycle"))
	airdropService := airdropsvc.New(stores.Airdrop, creditService, opts.Verifier, opts.Challenges, opts.ChallengeTTL, log.Named("airdrop"))

	for _, name := range []string{"credits", "reports", "accessgate"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	var refresher *stats.Refresher
	if !opts.DisableStats {
		refresher = stats.NewRefresher(reportService, opts.StatsSchedule, log.Named("stats"))
		if err := manager.Register(refresher); err != nil {
			return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
		}
	} else {
		log.Warn("stats refresher disabled")
	}

	return &Application{
		manager:     manager,
		log:         log,
		Credits:     creditService,
		Permissions: permService,
		Reports:     reportService,
		Gate:        gate,
		Lifecycle:   lifecycleService,
		Airdrop:     airdropService,
		Stats:       refresher,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
