package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"archpay-bend/api/admin"
	"archpay-bend/api/callbacks"
	"archpay-bend/api/payments"
	"archpay-bend/api/user"
	"archpay-bend/config"
	"archpay-bend/dao"
	"archpay-bend/models"
	"archpay-bend/utils"
	"archpay-bend/utils/cache"
	"archpay-bend/utils/escrow"
	"archpay-bend/utils/gateway"
	"archpay-bend/utils/notifications"

	"github.com/dgrijalva/jwt-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	cfg              config.Config
	escrowDAO        *dao.EscrowDAO
	projectDAO       *dao.ProjectDAO
	userDAO          *dao.UserDAO
	factoryDAO       *dao.FactoryDAO
	settingsDAO      *dao.SettingsDAO
	paymentsService  *payments.Service
	callbacksService *callbacks.Service
	adminService     *admin.Service
	userService      *user.Service
	jwtSecret        string
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatalf("failed to load config, err: %v", err)
	}
	jwtSecret = cfg.Secret
	if err := utils.TrustProxies(cfg.TrustedProxies); err != nil {
		log.Fatalf("failed to load config, err: %v", err)
	}

	client, err := dao.Initialize(cfg.MongoURI)
	if err != nil {
		log.Fatalf("failed to initialize database, err: %v", err)
	}

	defer func() {
		if err = client.Disconnect(context.TODO()); err != nil {
			log.Fatal(err)
		}
	}()

	db := client.Database(cfg.MongoDB)
	initCollections(db)
	if err := initServices(); err != nil {
		log.Fatalf("failed to initialize services, err: %v", err)
	}

	r := initRoutes()
	r.Use(func(next http.Handler) http.Handler {
		return handlers.LoggingHandler(os.Stdout, next)
	})

	log.Println("Running server on port", cfg.Port)

	header := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	methods := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "HEAD", "OPTIONS"})
	origins := handlers.AllowedOrigins([]string{"*"})

	h := handlers.CORS(header, methods, origins)
	if err := http.ListenAndServe(":"+cfg.Port, h(r)); err != nil {
		log.Fatal(err)
	}
}

func initRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok", "message": "archpay-backend"}`))
	})
	v1 := r.PathPrefix("/api/v1").Subrouter()
	paymentsRouter := v1.PathPrefix("/payments").Subrouter()
	escrowsRouter := v1.PathPrefix("/escrows").Subrouter()
	callbacksRouter := v1.PathPrefix("/callbacks").Subrouter()
	adminRouter := v1.PathPrefix("/admin").Subrouter()
	userRouter := v1.PathPrefix("/user").Subrouter()

	// provider callbacks
	callbacksRouter.HandleFunc("/paytr", callbacksService.PayTR).Methods("POST")
	callbacksRouter.HandleFunc("/iyzico", callbacksService.Iyzico).Methods("POST")

	// Payments
	paymentsRouter.HandleFunc("/projects/{id}", useAuth(paymentsService.CreateProjectPayment)).Methods("POST")

	// Escrows
	escrowsRouter.HandleFunc("/{id}", useAuth(paymentsService.GetEscrow)).Methods("GET")
	escrowsRouter.HandleFunc("/{id}/release", useAuth(paymentsService.ReleaseEscrow)).Methods("PUT")
	escrowsRouter.HandleFunc("/{id}/dispute", useAuth(paymentsService.OpenDispute)).Methods("PUT")
	escrowsRouter.HandleFunc("/{id}/refund", useAdmin(paymentsService.RefundPayment)).Methods("PUT")
	escrowsRouter.HandleFunc("/{id}/resolve", useAdmin(paymentsService.ResolveDispute)).Methods("PUT")

	// Admin
	adminRouter.HandleFunc("/payment-settings", useAdmin(adminService.GetPaymentSettings)).Methods("GET")
	adminRouter.HandleFunc("/payment-settings", useAdmin(adminService.UpdatePaymentSettings)).Methods("PUT")

	// Users
	userRouter.HandleFunc("/notifications", useAuth(userService.Notifications)).Methods("GET")
	userRouter.HandleFunc("/escrows", useAuth(userService.Escrows)).Methods("GET")

	return r
}

func initCollections(db *mongo.Database) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dao.EnsureIndexes(ctx, db); err != nil {
		log.Fatalf("failed to create indexes, err: %v", err)
	}

	escrowDAO = dao.NewEscrowDAO(db)
	projectDAO = dao.NewProjectDAO(db)
	userDAO = dao.NewUserDAO(db)
	factoryDAO = dao.NewFactoryDAO(db)
	settingsDAO = dao.NewSettingsDAO(db)
}

func initServices() error {
	notifiable, err := notifications.NewNotifiable(factoryDAO, utils.NewMailer(cfg.Mail), cfg.ServiceAccountKeyPath)
	if err != nil {
		return fmt.Errorf("notifiable_init: %w", err)
	}

	gateways := gateway.NewFactory(settingsDAO, cfg.GatewayTimeout)
	escrowSrv := escrow.InitEscrow(escrow.Dependencies{
		Store:     escrowDAO,
		Projects:  projectDAO,
		Users:     userDAO,
		Gateways:  gateways,
		Notifier:  notifiable,
		ReturnURL: cfg.FrontendURL,
	})

	var seen cache.CallbackStore = cache.NewMemoryCallbackStore()
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis_init: %w", err)
		}
		seen = cache.NewRedisCallbackStore(rdb)
	}

	paymentsService = payments.NewPaymentsService(escrowSrv, cfg.CallbackBase())
	callbacksService = callbacks.NewCallbacksService(escrowSrv, seen, cfg.FrontendURL)
	adminService = admin.NewAdminService(gateways)
	userService = user.NewUserService(factoryDAO, escrowDAO)
	return nil
}

// useAuth validates a token for protected routes
func useAuth(nextHandler http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorizationHeader := r.Header.Get("Authorization")
		if authorizationHeader == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
			return
		}
		if len(authorizationHeader) > 7 && authorizationHeader[:7] == "Bearer " {
			authorizationHeader = authorizationHeader[7:]
		}
		token, err := jwt.Parse(authorizationHeader, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("Unexpected signing method: %v", token.Header["alg"])
			}

			return []byte(jwtSecret), nil
		})
		if err != nil {
			log.Printf("auth parse err: %v", err)
			utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			var id, email string
			id, ok = claims["id"].(string)
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Error converting claim to string")
				return
			}
			email, _ = claims["email"].(string)
			role, _ := claims["role"].(string)
			if role == "" {
				role = models.RoleUser
			}

			ctx := context.WithValue(r.Context(), models.UserIDKey, id)
			ctx = context.WithValue(ctx, models.UserEmailKey, email)
			ctx = context.WithValue(ctx, models.UserRoleKey, role)

			nextHandler.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		utils.RespondWithError(w, http.StatusUnauthorized, "An authorized error occurred")
	})
}

// useAdmin validates a token and requires the admin role
func useAdmin(nextHandler http.HandlerFunc) http.HandlerFunc {
	return useAuth(func(w http.ResponseWriter, r *http.Request) {
		if !utils.ActorFromRequest(r).IsAdmin() {
			utils.RespondWithError(w, http.StatusForbidden, "Admin access required")
			return
		}
		nextHandler.ServeHTTP(w, r)
	})
}
