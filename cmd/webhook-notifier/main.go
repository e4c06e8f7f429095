// cmd/webhook-notifier/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"booking-webhooks/internal/booking"
	"booking-webhooks/internal/common/aws"
	"booking-webhooks/internal/common/config"
	"booking-webhooks/internal/common/database"
	"booking-webhooks/internal/common/httpclient"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/common/observability"
	"booking-webhooks/internal/notifications/email"
	"booking-webhooks/internal/notifications/sms"
	"booking-webhooks/internal/webhooks/audit"
	"booking-webhooks/internal/webhooks/dispatch"
	"booking-webhooks/internal/webhooks/notify"
	"booking-webhooks/internal/webhooks/subscription"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting webhook notifier...",
		zap.String("environment", cfg.App.Environment),
		zap.Int("port", cfg.Server.Port),
	)

	obs := observability.New(cfg.App.Name, cfg.Observability.JaegerEndpoint)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Postgres ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pg.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Postgres initialization")
	if err != nil {
		zapLog.Fatal("postgres unavailable", zap.Error(err))
	}
	defer pg.Close()

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx)
	}, 5, 2*time.Second, zapLog, "Redis initialization")
	if err != nil {
		// The subscription store degrades to uncached lookups without redis.
		zapLog.Warn("redis unavailable, subscriber cache disabled", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	// --- Elasticsearch audit sink ---
	var auditSink notify.AuditSink
	if cfg.Webhooks.Audit.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, delivery audit disabled", zap.Error(err))
		} else {
			auditSink = audit.NewElasticSink(es.Client, cfg.Webhooks.Audit.Index, log)
		}
	}

	// --- Webhook pipeline ---
	var cacheClient *redis.Client
	if rdb != nil {
		cacheClient = rdb.Client
	}
	store := subscription.NewStore(
		pg.DB,
		cacheClient,
		time.Duration(cfg.Webhooks.CacheTTL)*time.Second,
		log,
	)
	dispatcher := dispatch.NewDispatcher(
		httpclient.NewClient(config.GetDuration(cfg.Webhooks.DeliveryTimeout)),
		cfg.Webhooks.SignatureHeader,
		log,
	)
	notifier := notify.NewNotifier(store, dispatcher, auditSink, obs, log)

	// --- Notification channels ---
	var mailer booking.Mailer
	if cfg.Notifications.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Warn("SES unavailable, booking emails disabled", zap.Error(err))
		} else {
			mailer = email.NewMailer(sesClient, cfg.Notifications.Email.FromEmail, true, log)
		}
	}
	var smsSender booking.SMSSender
	if cfg.Notifications.SMS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Warn("SNS unavailable, booking SMS disabled", zap.Error(err))
		} else {
			smsSender = sms.NewSender(snsClient, cfg.Notifications.SMS.SenderID, true, log)
		}
	}

	bookingService := booking.NewService(pg.DB, notifier, mailer, smsSender, log)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pg.Ping(pingCtx); err != nil {
			http.Error(w, "postgres unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	registerBookingRoutes(mux, bookingService, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	zapLog.Info("Shutdown complete")
}

// registerBookingRoutes exposes the booking write path. Handlers stay thin:
// decode, call the service, encode.
func registerBookingRoutes(mux *http.ServeMux, svc *booking.Service, log logger.Logger) {
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	writeErr := func(w http.ResponseWriter, err error) {
		log.Warn("booking request rejected", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}
	pathID := func(r *http.Request) (int64, error) {
		return strconv.ParseInt(r.PathValue("id"), 10, 64)
	}

	mux.HandleFunc("POST /bookings", func(w http.ResponseWriter, r *http.Request) {
		var req booking.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		b, err := svc.Create(r.Context(), req)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	})

	mux.HandleFunc("POST /bookings/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid booking id"})
			return
		}
		b, err := svc.Confirm(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("POST /bookings/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid booking id"})
			return
		}
		b, err := svc.Reject(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("POST /bookings/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid booking id"})
			return
		}
		var req booking.CancelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b, err := svc.Cancel(r.Context(), id, req)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("POST /bookings/{id}/reschedule", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid booking id"})
			return
		}
		var req booking.RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		b, err := svc.Reschedule(r.Context(), id, req)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	mux.HandleFunc("POST /payments/callback", func(w http.ResponseWriter, r *http.Request) {
		var result booking.PaymentResult
		if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		b, err := svc.HandlePaymentSucceeded(r.Context(), result)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})
}
