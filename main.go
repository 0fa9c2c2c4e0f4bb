package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	coinRepo "github.com/mnikzad/tokengate/src/coin/repository"
	coin "github.com/mnikzad/tokengate/src/coin/usecase"
	"github.com/mnikzad/tokengate/src/config"
	convert "github.com/mnikzad/tokengate/src/convert/usecase"
	depositdomain "github.com/mnikzad/tokengate/src/deposit/domain"
	depositRepo "github.com/mnikzad/tokengate/src/deposit/repository"
	"github.com/mnikzad/tokengate/src/handler/bitcoinrpc"
	handlerdomain "github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/handler/ethereum"
	"github.com/mnikzad/tokengate/src/handler/mock"
	"github.com/mnikzad/tokengate/src/handler/registry"
	"github.com/mnikzad/tokengate/src/handler/tokenledger"
	ingest "github.com/mnikzad/tokengate/src/ingest/usecase"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/mnikzad/tokengate/src/metrics"
	"github.com/mnikzad/tokengate/src/rates"
	runlockdomain "github.com/mnikzad/tokengate/src/runlock/domain"
	runlockRepo "github.com/mnikzad/tokengate/src/runlock/repository"
	runlock "github.com/mnikzad/tokengate/src/runlock/usecase"

	_ "github.com/lib/pq"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func main() {
	cfg := config.MustLoad()
	logg := logger.New(cfg.Env)
	ctx := context.Background()

	book, err := coin.NewBook(cfg, logg)
	if err != nil {
		logg.Fatalf("Invalid reference data: %v", err)
	}

	// --- Storage ---
	var dRepo depositdomain.DepositRepository
	var cRepo depositdomain.ConversionRepository
	var lockRepo runlockdomain.LockRepository

	if cfg.DatabaseURL != "" {
		logg.Infof("Connecting to database")
		gormDB, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Warn),
		})
		if err != nil {
			logg.Fatalf("Failed to connect to database: %v", err)
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			logg.Fatalf("Failed to get generic DB handle: %v", err)
		}
		defer sqlDB.Close()

		// Connection pool tuning
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(10 * time.Minute)

		repo := depositRepo.NewDepositRepo(gormDB, logg)
		dRepo, cRepo = repo, repo
		lockRepo = runlockRepo.NewLockRepo(gormDB, logg)

		if err := book.Sync(ctx, coinRepo.NewRepo(gormDB, logg)); err != nil {
			logg.Fatalf("Failed to sync reference data: %v", err)
		}
	} else {
		logg.Warnf("No DATABASE_URL set, using in-memory storage (deposits die with the process)")
		repo := depositRepo.NewMemoryRepo()
		dRepo, cRepo = repo, repo
		lockRepo = runlockRepo.NewMemoryLockRepo()
	}

	// --- Handlers ---
	handlers, err := buildHandlers(ctx, cfg, logg, book)
	if err != nil {
		logg.Fatalf("Failed to build handlers: %v", err)
	}
	reg, err := registry.New(logg, handlers...)
	if err != nil {
		logg.Fatalf("Failed to build handler registry: %v", err)
	}
	if err := reg.CheckBindings(book.EnabledCoins()); err != nil {
		logg.Fatalf("Handler bindings are broken: %v", err)
	}

	// --- Rates ---
	var sources []rates.Source
	for _, rs := range cfg.RateSources {
		sources = append(sources, rates.NewHTTPSource(rs.Name, rs.URL, rs.TTL))
	}
	engine := rates.NewEngine(sources...)

	// --- Pipelines ---
	m := metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)
	ingestSvc := ingest.NewService(reg, book, dRepo, logg, m,
		cfg.Ingest.Workers, cfg.Ingest.HandlerTimeout)
	convertSvc := convert.NewService(reg, book, dRepo, cRepo, engine, logg, m,
		cfg.Convert.Workers, cfg.Convert.BatchSize,
		cfg.Convert.ClaimTTL, cfg.Convert.HandlerTimeout)
	locks := runlock.NewService(lockRepo, logg)

	// --- One-shot subcommands ---
	if len(os.Args) > 1 {
		var runErr error
		switch os.Args[1] {
		case "ingest":
			_, runErr = locks.RunExclusive(ctx, "ingest", ingestSvc.Run)
		case "convert":
			_, runErr = locks.RunExclusive(ctx, "convert", convertSvc.Run)
		default:
			logg.Fatalf("unknown command %q (want ingest or convert)", os.Args[1])
		}
		if runErr != nil {
			logg.Fatalf("Run failed: %v", runErr)
		}
		return
	}

	// --- Scheduler ---
	scheduler := cron.New()
	schedule := func(name, spec string, run func(context.Context) error) {
		_, err := scheduler.AddFunc(spec, func() {
			if _, err := locks.RunExclusive(ctx, name, run); err != nil {
				logg.Errorf("%s run failed: %v", name, err)
			}
		})
		if err != nil {
			logg.Fatalf("Invalid %s schedule %q: %v", name, spec, err)
		}
	}
	schedule("ingest", cfg.Ingest.Schedule, ingestSvc.Run)
	schedule("convert", cfg.Convert.Schedule, convertSvc.Run)
	scheduler.Start()
	defer scheduler.Stop()

	// --- Router ---
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logg.Infof("Starting gateway on %s (env=%s)", cfg.ListenAddr, cfg.Env)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatalf("Server terminated unexpectedly: %v", err)
	}
}

// buildHandlers instantiates every handler named in the config, each bound to
// the enabled coins that reference it.
func buildHandlers(ctx context.Context, cfg *config.Config, logg *logger.Logger, book coindomain.ReferenceBook) ([]handlerdomain.Handler, error) {
	var handlers []handlerdomain.Handler
	for _, name := range cfg.Handlers {
		coins := coinsBoundTo(book, name)
		if len(coins) == 0 {
			return nil, fmt.Errorf("handler %q has no enabled coins bound to it", name)
		}

		switch name {
		case "bitcoinrpc":
			clients := map[string]*bitcoinrpc.Client{}
			for _, c := range coins {
				// one daemon per chain: the URL carries a {coin} placeholder
				url := strings.ReplaceAll(cfg.Bitcoind.URL, "{coin}", strings.ToLower(c.Symbol))
				client, err := bitcoinrpc.NewClient(url,
					bitcoinrpc.WithAuth(cfg.Bitcoind.User, cfg.Bitcoind.Password),
				)
				if err != nil {
					return nil, fmt.Errorf("handler %q: %w", name, err)
				}
				clients[c.Symbol] = client
			}
			handlers = append(handlers, bitcoinrpc.NewHandler(name, logg, clients,
				cfg.Bitcoind.MinConfirmations))

		case "tokenledger":
			client, err := tokenledger.NewClient(cfg.TokenLedger.URL,
				tokenledger.WithToken(cfg.TokenLedger.Token),
			)
			if err != nil {
				return nil, fmt.Errorf("handler %q: %w", name, err)
			}
			handlers = append(handlers, tokenledger.NewHandler(name, logg, client, coins))

		case "ethereum":
			h, err := ethereum.NewHandler(ctx, name, logg, ethereum.Config{
				RPCURL:     cfg.Ethereum.RPCURL,
				PrivateKey: cfg.Ethereum.PrivateKey,
				ChainID:    big.NewInt(cfg.Ethereum.ChainID),
			}, coins)
			if err != nil {
				return nil, fmt.Errorf("handler %q: %w", name, err)
			}
			handlers = append(handlers, h)

		case "mock":
			symbols := make([]string, len(coins))
			for i, c := range coins {
				symbols[i] = c.Symbol
			}
			handlers = append(handlers, mock.NewHandler(name, logg, symbols...))

		default:
			return nil, fmt.Errorf("unknown handler %q", name)
		}
	}
	return handlers, nil
}

func coinsBoundTo(book coindomain.ReferenceBook, handler string) []coindomain.Coin {
	var out []coindomain.Coin
	for _, c := range book.EnabledCoins() {
		if c.Handler == handler {
			out = append(out, c)
		}
	}
	return out
}
