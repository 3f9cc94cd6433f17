package app

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/StartaleGroup/scs-aa-paymasters/erc4337"
	"github.com/StartaleGroup/scs-aa-paymasters/src/handler"
	"github.com/StartaleGroup/scs-aa-paymasters/src/paymaster"
	"github.com/StartaleGroup/scs-aa-paymasters/src/repository"
	"github.com/StartaleGroup/scs-aa-paymasters/src/service"
)

type Application struct {
	config   AppConfig
	database *gorm.DB
	redis    *redis.Client
	admin    paymaster.AdminCapability

	BlockchainService  *service.BlockchainService
	Paymaster          *paymaster.SponsorshipPaymaster
	SponsorshipService *service.SponsorshipService
	DepositService     *service.DepositService
	Sweeper            *service.SweeperService
}

func NewApplication(ctx context.Context, config AppConfig) (*Application, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(*config.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connection to redis failed: %w", err)
	}
	logger.Info().Msg("Redis connection established")

	// Connect to database
	database, err := gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}
	logger.Info().Msg("Database connection established")

	// run migration files
	if err := MigrationUp(*config.DSN, *config.MigrationPath); err != nil {
		return nil, err
	}

	signingKey, err := crypto.HexToECDSA(*config.SignerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer private key: %w", err)
	}
	signerAddress := crypto.PubkeyToAddress(signingKey.PublicKey)

	blockchainService := service.NewBlockchainService(service.BlockchainConfig{
		RPCURL:  *config.RPCURL,
		ChainID: *config.ChainID,
	})

	ledgerRepo := repository.NewLedgerRepository(database)
	inflightRepo := repository.NewInflightCacheRepository(rdb, "paymaster")

	// Engine events fan out to the log and the persistent journal.
	events := paymaster.MultiSink{
		paymaster.LogSink{},
		service.NewSettlementJournal(ledgerRepo, inflightRepo),
	}

	admin := paymaster.AdminCapabilityFromSecret([]byte(*config.APISecret))

	// The signing key's address is always a signer; extra addresses come
	// from configuration.
	initialSigners := []common.Address{signerAddress}
	for _, raw := range *config.InitialSigners {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid initial signer address: %s", raw)
		}
		addr := common.HexToAddress(raw)
		if addr != signerAddress {
			initialSigners = append(initialSigners, addr)
		}
	}

	signerRegistry, err := paymaster.NewSignerRegistry(ctx, admin, blockchainService, events, initialSigners)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer registry: %w", err)
	}

	minDeposit, ok := new(big.Int).SetString(*config.MinSponsorDepositWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid MIN_SPONSOR_DEPOSIT_WEI: %s", *config.MinSponsorDepositWei)
	}

	ledger := paymaster.NewDepositLedger(paymaster.LedgerConfig{
		WithdrawalDelay: time.Duration(*config.WithdrawalDelaySeconds) * time.Second,
		MinimumDeposit:  minDeposit,
		Events:          events,
	})

	pm := paymaster.NewSponsorshipPaymaster(paymaster.Config{
		Address:        common.HexToAddress(*config.PaymasterAddress),
		EntryPoint:     common.HexToAddress(*config.EntryPointAddress),
		ChainID:        big.NewInt(*config.ChainID),
		UnaccountedGas: *config.UnaccountedGas,
	}, signerRegistry, ledger, events)

	sponsorshipService := service.NewSponsorshipService(service.SponsorshipConfig{
		SigningKey:         signingKey,
		ValidityWindow:     time.Duration(*config.SponsorshipTTLSeconds) * time.Second,
		DefaultPriceMarkup: *config.PriceMarkup,
	}, pm, inflightRepo)

	depositService := service.NewDepositService(ledger, ledgerRepo)

	var bundler erc4337.Bundler
	if *config.BundlerURL != "" {
		bundler, err = erc4337.DialBundler(ctx, *config.BundlerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial bundler: %w", err)
		}
	}

	sweeper := service.NewSweeperService(inflightRepo, bundler, pm, service.SweeperConfig{
		SweepInterval: time.Duration(*config.SweepIntervalSeconds) * time.Second,
	})

	logger.Info().
		Str("paymaster", *config.PaymasterAddress).
		Str("entry_point", *config.EntryPointAddress).
		Int64("chain_id", *config.ChainID).
		Str("signer", signerAddress.Hex()).
		Msg("sponsorship paymaster initialized")

	return &Application{
		config:             config,
		database:           database,
		redis:              rdb,
		admin:              admin,
		BlockchainService:  blockchainService,
		Paymaster:          pm,
		SponsorshipService: sponsorshipService,
		DepositService:     depositService,
		Sweeper:            sweeper,
	}, nil
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	if app.BlockchainService != nil {
		app.BlockchainService.Close()
	}

	// Close database connection
	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			} else {
				logger.Info().Msg("Database connection closed")
			}
		}
	}

	// Close Redis connection
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.Default()

	// Register routes
	app.registerRoutes(ctx, ginRouter)

	// Build HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: ginRouter,
	}

	// Start server in goroutine
	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/api/v1/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) RunSweeper(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunSweeper").Logger()
	logger.Info().Msg("Starting sweeper worker")

	if err := app.Sweeper.Start(ctx); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Sweeper worker stopped with error")
	}

	logger.Info().Msg("Sweeper worker stopped")
}

func (app *Application) registerRoutes(ctx context.Context, router *gin.Engine) {

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if value, ok := field.Interface().(decimal.Decimal); ok {
				return value.String()
			}
			return nil
		}, decimal.Decimal{})
	}

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = *app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret"}
	config.AllowCredentials = true

	router.Use(cors.New(config))

	handler.SetMiddlewares(ctx, router)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	withdrawalDelay := time.Duration(*app.config.WithdrawalDelaySeconds) * time.Second

	paymasterHandler := handler.NewPaymasterHandler(app.SponsorshipService)
	sponsorHandler := handler.NewSponsorHandler(app.DepositService, withdrawalDelay)
	signerHandler := handler.NewSignerHandler(app.Paymaster.Signers(), app.admin)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handler.HandleHealthCheck)

		// Sponsorship signing endpoints
		v1.POST("/paymaster/sponsor", paymasterHandler.SponsorUserOperation)
		v1.GET("/paymaster/inflight", paymasterHandler.ListInflight)

		// Sponsor ledger endpoints
		v1.GET("/sponsors/:address", sponsorHandler.Balance)
		v1.GET("/sponsors/:address/ledger", sponsorHandler.History)
		v1.POST("/sponsors/:address/deposits", sponsorHandler.Deposit)
		v1.POST("/sponsors/:address/withdrawals", sponsorHandler.RequestWithdrawal)
		v1.POST("/sponsors/:address/withdrawals/execute", sponsorHandler.ExecuteWithdrawal)

		// Signer administration, guarded by the API secret
		signers := v1.Group("/signers", handler.AdminSecretMiddleware(*app.config.APISecret))
		{
			signers.GET("", signerHandler.ListSigners)
			signers.POST("", signerHandler.AddSigner)
			signers.DELETE("/:address", signerHandler.RemoveSigner)
		}
	}
}

// EntryPointAddress exposes the configured entry point, defaulting to the
// canonical v0.7 deployment.
func (app *Application) EntryPointAddress() common.Address {
	if app.config.EntryPointAddress == nil || *app.config.EntryPointAddress == "" {
		return erc4337.EntryPointV07
	}
	return common.HexToAddress(*app.config.EntryPointAddress)
}
