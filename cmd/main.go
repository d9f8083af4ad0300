package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joy095/gobus/clients"
	"github.com/joy095/gobus/config"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/config/redis"
	"github.com/joy095/gobus/controllers/booking_controller"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/middlewares/cors"
	logger_middleware "github.com/joy095/gobus/middlewares/logger"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/trip_models"
	"github.com/joy095/gobus/routes"
	"github.com/joy095/gobus/services/booking"
	"github.com/joy095/gobus/services/catalog"
	"github.com/joy095/gobus/services/holds"
	"github.com/joy095/gobus/services/inventory"
	"github.com/joy095/gobus/services/ledger"
	"github.com/joy095/gobus/services/payments"
	"github.com/joy095/gobus/services/tickets"
	"github.com/joy095/gobus/utils/mail"
	"github.com/joy095/gobus/workers"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	logger.InitLoggers()
	config.LoadEnv()
}

// backends are the stores behind the saga, PostgreSQL or in-memory.
type backends struct {
	catalog   catalog.Catalog
	inventory inventory.Inventory
	ledger    ledger.Store
	payments  payments.Store
	tickets   tickets.Store
}

func demoTrip() *trip_models.Trip {
	departure := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	return &trip_models.Trip{
		ID:          uuid.MustParse("0190c6a4-7b1e-7c3a-9d2f-5e8b1a2c3d4e"),
		BusName:     "GoBus Sleeper",
		BusNumber:   "KA-01-AB-1234",
		Origin:      "Bengaluru",
		Destination: "Hyderabad",
		DepartureAt: departure,
		ArrivalAt:   departure.Add(10 * time.Hour),
		Currency:    config.DefaultCurrency,
		Seats:       trip_models.StandardLayout(10, 4, 120000),
	}
}

func openBackends(ctx context.Context, s config.Settings) (*backends, *pgxpool.Pool) {
	if s.DatabaseURL == "" {
		logger.WarnLogger.Warn("DATABASE_URL not set; bookings are kept in memory and lost on restart")
		cat := catalog.NewMemoryCatalog()
		inv := inventory.NewMemoryInventory(shared_models.SystemClock)
		trip := demoTrip()
		cat.AddTrip(trip)
		inv.AddTrip(trip)
		logger.InfoLogger.Infof("Seeded demo trip %s (%s to %s)", trip.ID, trip.Origin, trip.Destination)
		return &backends{
			catalog:   cat,
			inventory: inv,
			ledger:    ledger.NewMemoryStore(),
			payments:  payments.NewMemoryStore(),
			tickets:   tickets.NewMemoryStore(),
		}, nil
	}

	pool, err := db.Connect(ctx, s.DatabaseURL)
	if err != nil {
		logger.ErrorLogger.Fatalf("Database unavailable: %v", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		logger.ErrorLogger.Fatalf("Migration failed: %v", err)
	}
	if s.SeedDemoTrip {
		trip := demoTrip()
		if _, err := trip_models.GetTripByID(ctx, pool, trip.ID); err != nil {
			if err := trip_models.InsertTrip(ctx, pool, trip); err != nil {
				logger.ErrorLogger.Errorf("Failed to seed demo trip: %v", err)
			}
		}
	}
	return &backends{
		catalog:   catalog.NewPostgresCatalog(pool),
		inventory: inventory.NewPostgresInventory(pool, shared_models.SystemClock),
		ledger:    ledger.NewPostgresStore(pool),
		payments:  payments.NewPostgresStore(pool),
		tickets:   tickets.NewPostgresStore(pool),
	}, pool
}

func main() {
	settings := config.LoadSettings()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, pool := openBackends(ctx, settings)
	defer db.Close(pool)

	var rdb *goredis.Client
	if settings.RedisURL != "" {
		client, err := redis.GetRedisClient(ctx, settings.RedisURL)
		if err != nil {
			logger.WarnLogger.Warnf("Continuing without Redis: %v", err)
		} else {
			rdb = client
			defer redis.CloseRedis()
		}
	}

	var replay payments.ReplayCache = payments.NewMemoryReplayCache()
	var lease workers.Lease
	if rdb != nil {
		replay = payments.NewRedisReplayCache(rdb)
		lease = workers.NewRedisLease(rdb)
	}

	var gateway payments.Gateway
	if settings.RazorpayMockMode {
		logger.WarnLogger.Warn("Razorpay credentials missing or mock mode forced; using the mock gateway")
		gateway = clients.NewMockGateway(settings.RazorpayWebhookSecret)
	} else {
		gateway = clients.NewRazorpayGateway(settings.RazorpayKeyID, settings.RazorpayKeySecret,
			settings.RazorpayWebhookSecret, settings.GatewayRatePerSecond)
	}

	notifier := mail.NewNotifier(settings)
	go notifier.Start(ctx)

	orchestrator := booking.New(booking.Deps{
		Catalog:   stores.catalog,
		Inventory: stores.inventory,
		Holds:     holds.NewManager(stores.inventory, settings.HoldTTL, shared_models.SystemClock),
		Ledger:    ledger.New(stores.ledger, shared_models.SystemClock),
		Payments:  payments.NewCoordinator(gateway, stores.payments, replay, shared_models.SystemClock),
		Tickets:   tickets.NewIssuer(stores.tickets, settings.TicketSigningSecret, shared_models.SystemClock),
		Notifier:  notifier,
	}, booking.SettingsFrom(settings), shared_models.SystemClock)

	sweeper := workers.NewHoldSweeper(orchestrator, lease, settings.SweepInterval)
	go sweeper.Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.CorsMiddleware(settings.AllowedOrigins))
	r.Use(logger_middleware.GinLogger())

	routes.RegisterBookingRoutes(r, booking_controller.NewBookingController(orchestrator), routes.BookingRouteOptions{
		JWTSecret:        []byte(settings.JWTSecret),
		Redis:            rdb,
		BookingRateLimit: settings.BookingRateLimit,
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok from booking service", "gateway": gateway.Name()})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoLogger.Infof("Starting server on port %s...", settings.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorLogger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.InfoLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorLogger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.InfoLogger.Info("Server exited")
}
