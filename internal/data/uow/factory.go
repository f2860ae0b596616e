package uow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
	"github.com/subgate-microservice/subgate-sub000/internal/data/repos"
	"github.com/subgate-microservice/subgate-sub000/internal/data/sqlstmt"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
	"gorm.io/gorm"
)

// Deps are the collaborators of a Factory. DB and Log are required.
type Deps struct {
	DB         *gorm.DB
	Log        *logger.Logger
	Hooks      Hooks
	Publisher  Publisher
	Translator Translator
	Now        func() time.Time
	// WrapRunner decorates the transaction runner of every unit of work.
	WrapRunner func(TxRunner) TxRunner
}

func (d Deps) withDefaults() Deps {
	if d.Hooks == nil {
		d.Hooks = noopHooks{}
	}
	if d.Translator == nil {
		d.Translator = TranslateError
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type Factory struct {
	deps     Deps
	log      *logger.Logger
	registry *sqlstmt.Registry
	store    changelog.Store
	compiler *sqlstmt.Compiler
	exec     *sqlstmt.Executor
}

func NewFactory(deps Deps) (*Factory, error) {
	if deps.DB == nil {
		return nil, errors.New("uow: factory needs a db")
	}
	if deps.Log == nil {
		return nil, errors.New("uow: factory needs a logger")
	}
	deps = deps.withDefaults()
	registry, err := repos.NewRegistry()
	if err != nil {
		return nil, err
	}
	return &Factory{
		deps:     deps,
		log:      deps.Log.With("service", "UnitOfWork"),
		registry: registry,
		store:    changelog.NewStore(deps.DB, deps.Log),
		compiler: sqlstmt.NewCompiler(registry, deps.Now),
		exec:     sqlstmt.NewExecutor(deps.Log),
	}, nil
}

// Store exposes the log store for read-only admin queries.
func (f *Factory) Store() changelog.Store { return f.store }

// New returns a unit of work with a fresh transaction id.
func (f *Factory) New(ctx context.Context) (*UnitOfWork, error) {
	return f.ForTransaction(ctx, uuid.New())
}

// ForTransaction returns a unit of work bound to an existing transaction id,
// typically to roll it back.
func (f *Factory) ForTransaction(ctx context.Context, txID uuid.UUID) (*UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if txID == uuid.Nil {
		return nil, errors.New("uow: nil transaction id")
	}
	sess := newSession(f.deps.DB)
	runner := newSessionRunner(sess)
	if f.deps.WrapRunner != nil {
		runner = f.deps.WrapRunner(runner)
	}
	env := repos.Env{Registry: f.registry, Session: sess, TxID: txID, Now: f.deps.Now}
	u := &UnitOfWork{
		txID:          txID,
		sess:          sess,
		runner:        runner,
		store:         f.store,
		compiler:      f.compiler,
		exec:          f.exec,
		hooks:         f.deps.Hooks,
		publisher:     f.deps.Publisher,
		translate:     f.deps.Translator,
		log:           f.log,
		now:           f.deps.Now,
		plans:         repos.NewPlanRepo(env),
		subscriptions: repos.NewSubscriptionRepo(env),
		webhooks:      repos.NewWebhookRepo(env),
		apikeys:       repos.NewApikeyRepo(env),
		deliveries:    repos.NewDeliveryTaskRepo(env),
		telegrams:     repos.NewTelegramRepo(env),
	}
	u.sources = []logSource{u.plans, u.subscriptions, u.webhooks, u.apikeys, u.deliveries, u.telegrams}
	return u, nil
}

// Do runs fn with a new unit of work and closes it on every path. fn commits
// explicitly; anything left uncommitted is discarded.
func (f *Factory) Do(ctx context.Context, fn func(ctx context.Context, u *UnitOfWork) error) error {
	u, err := f.New(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = u.Close() }()
	return fn(ctx, u)
}
