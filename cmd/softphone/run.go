package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arzzra/callcontrol/internal/config"
	"github.com/arzzra/callcontrol/internal/logging"
	"github.com/arzzra/callcontrol/pkg/dispatch"
	"github.com/arzzra/callcontrol/pkg/metrics"
	"github.com/arzzra/callcontrol/pkg/session"
	"github.com/arzzra/callcontrol/pkg/sipengine"
)

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Зарегистрироваться и принимать команды со stdin",
		Long: `Запускает софтфон: регистрация (или P2P режим при account.p2p),
затем команды построчно со stdin. Список команд выводит help.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	log, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(metrics.DefaultConfig())
		srv := serveMetrics(cfg.Metrics.Listen, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	engCfg := cfg.Engine()
	engCfg.Logger = log
	ctrl, err := session.New(
		sipengine.Factory(engCfg, sipengine.WithLogger(log)),
		session.WithLogger(log),
		session.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctrl.SetProperty("localvoipport", strconv.Itoa(cfg.SIP.ListenPort))
	ctrl.SetProperty("remotevoipport", strconv.Itoa(cfg.SIP.RemotePort))
	ctrl.SetProperty("transport", cfg.SIP.Transport)
	ctrl.SetProperty("video", cfg.Media.Video)

	if err := ctrl.SetObserver(dispatch.ObserverFunc(func(ev dispatch.Event) {
		printEvent(out, ctrl, ev)
	})); err != nil {
		return err
	}

	sh := newShell(ctrl, out, registrationOf(cfg))
	if cfg.Account.P2P {
		err = ctrl.StartP2PMode(ctx, cfg.Account.User)
	} else {
		err = ctrl.Register(ctx, sh.reg)
	}
	if err != nil {
		return err
	}

	err = sh.run(ctx, in)
	if _, ok := ctrl.Session(); ok {
		unregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if uerr := ctrl.Unregister(unregCtx); uerr != nil {
			log.Warn("Unregister", slog.Any("error", uerr))
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func registrationOf(cfg *config.Config) session.Registration {
	return session.Registration{
		Device:   cfg.Account.Device,
		User:     cfg.Account.User,
		Password: cfg.Account.Password,
		Domain:   cfg.Account.Domain,
	}
}

// printEvent печатает событие; для входящего вызова добавляет имя абонента.
func printEvent(out io.Writer, ctrl *session.Controller, ev dispatch.Event) {
	switch {
	case ev.Name == session.EventIncomingCall:
		fmt.Fprintf(out, "< %s %s\n", ev.Name, ctrl.LastCaller())
	case ev.Arg != "":
		fmt.Fprintf(out, "< %s %s\n", ev.Name, ev.Arg)
	default:
		fmt.Fprintf(out, "< %s\n", ev.Name)
	}
}

func serveMetrics(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Сервер метрик остановлен", slog.Any("error", err))
		}
	}()
	log.Info("Метрики доступны", slog.String("addr", addr))
	return srv
}
