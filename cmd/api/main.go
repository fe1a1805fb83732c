package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/internal/config"
	"github.com/ezchat/realtime/backend/internal/handler"
	"github.com/ezchat/realtime/backend/internal/relay"
	"github.com/ezchat/realtime/backend/internal/service/chat"
	"github.com/ezchat/realtime/backend/internal/store/memstore"
	"github.com/ezchat/realtime/backend/internal/store/sqlstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	cfg.Log.Apply()

	var repo chat.Repository
	if cfg.Store.UseDatabase() {
		db, err := sqlstore.Open(cfg.Store.DSN)
		if err != nil {
			logrus.WithError(err).Fatal("failed to open database")
		}
		defer func() {
			if err := db.Close(); err != nil {
				logrus.WithError(err).Warn("failed to close database")
			}
		}()
		repo = db
		logrus.Info("using MySQL message store")
	} else {
		repo = memstore.New()
		logrus.Warn("DB_DSN 未配置，使用内存存储（重启后数据丢失）")
	}

	chatService := chat.NewService(repo)
	rl := relay.New(relay.NewRegistry())

	router := handler.NewRouter(cfg, chatService, rl)

	startServer(ctx, cfg.Server, router, rl)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, rl *relay.Relay) {
	addr := serverCfg.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.WithError(err).WithField("addr", addr).Error("failed to listen")
		return
	}

	srv := newServer(addr, router, rl)
	logrus.WithField("addr", ln.Addr().String()).Info("chat relay listening")
	if err := runServer(ctx, srv, ln); err != nil {
		logrus.WithError(err).Error("server error")
	}
}

// newServer builds the HTTP server. Relay members are closed when shutdown
// begins so long-lived event streams do not hold it open.
func newServer(addr string, router http.Handler, rl *relay.Relay) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(rl.Close)
	return srv
}

func runServer(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
