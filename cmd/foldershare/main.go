package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"foldershare/internal/auth"
	"foldershare/internal/config"
	"foldershare/internal/httpserver"
	"foldershare/internal/logging"
	"foldershare/internal/metrics"
	"foldershare/internal/share"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		passwdCmd(os.Args[2:])
		return
	}

	var (
		cfgPath = flag.String("config", "", "path to config file (yaml/toml, optional)")
		addr    = flag.String("addr", "", "listen address (default :8000)")
		root    = flag.String("root", "", "folder to share; without it the server waits for /api/setup")
		reserve = flag.String("reserve", "", "space reserved for the share, e.g. 10GB")
		showQR  = flag.Bool("qr", true, "print the share URL as a terminal QR code")
	)
	flag.Parse()

	cfg, err := config.LoadWithOverrides(*cfgPath, flagOverrides(*addr, *root, *reserve))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logging.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *showQR); err != nil {
		logging.Fatal("server exited", zap.Error(err))
	}
	logging.Info("shutdown complete")
}

func flagOverrides(addr, root, reserve string) map[string]any {
	o := map[string]any{}
	if addr != "" {
		o["listen_addr"] = addr
	}
	if root != "" {
		o["share.root"] = root
	}
	if reserve != "" {
		o["share.reserved"] = reserve
	}
	return o
}

func run(ctx context.Context, cfg *config.Config, showQR bool) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	shares := share.NewService(share.Options{
		StateDir:   cfg.StateDir,
		BcryptCost: cfg.Auth.BcryptCost,
		Thumbnails: cfg.Thumbnails.Enabled,
		ThumbMax:   cfg.Thumbnails.MaxDimension,
	})
	if cfg.Configured() {
		root, err := share.CanonicalFolder(cfg.Share.Root)
		if err != nil {
			return fmt.Errorf("share.root: %w", err)
		}
		if _, err := shares.Configure(ctx, share.Config{
			Root:          root,
			SecretHash:    []byte(cfg.Share.PasswordHash),
			ReservedBytes: cfg.Share.ReservedBytes,
		}); err != nil {
			return fmt.Errorf("configure share: %w", err)
		}
	} else {
		logging.Info("no share configured, waiting for POST /api/setup")
	}

	api := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpserver.New(httpserver.Options{
			Shares:          shares,
			PublicURL:       cfg.PublicURL,
			MaxRequestBytes: cfg.Upload.MaxRequestBytes,
			MemoryBuffer:    cfg.Upload.MemoryBufferBytes,
			WebDAV:          cfg.WebDAV.Enabled,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	servers := []*http.Server{api}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(api, "api") })

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		ms := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, ms)
		g.Go(func() error { return listen(ms, "metrics") })
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-shares.Ready():
		}
		if cfg.Quota.ReconcileInterval <= 0 {
			return nil
		}
		sh, err := shares.Current(gctx)
		if err != nil {
			return err
		}
		sh.Quota.Run(gctx, cfg.Quota.ReconcileInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logging.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", s.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	announce(cfg, showQR)
	return g.Wait()
}

func listen(s *http.Server, name string) error {
	logging.Info("listening", zap.String("server", name), zap.String("addr", s.Addr))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func announce(cfg *config.Config, showQR bool) {
	u := shareURL(cfg.PublicURL, cfg.ListenAddr, outboundIP())
	if showQR {
		if q, err := qrcode.New(u, qrcode.Medium); err == nil {
			fmt.Println(q.ToString(false))
		}
	}
	fmt.Printf("Share link: %s\n", u)
	if cfg.WebDAV.Enabled {
		fmt.Printf("WebDAV (read-only): %s/dav/\n", u)
	}
}

// shareURL picks the address clients should use: the configured public URL,
// else the listen address with an unspecified host replaced by ip.
func shareURL(publicURL, listenAddr, ip string) string {
	if publicURL != "" {
		return publicURL
	}
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = ip
	}
	return "http://" + net.JoinHostPort(host, port)
}

// outboundIP returns the address of the interface used for outbound traffic.
// UDP dial sends nothing.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return a.IP.String()
	}
	return "localhost"
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "share secret (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "usage: foldershare passwd -p <secret>")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := auth.HashSecret(*password, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "passwd: %v (secrets need at least %d characters)\n", err, auth.MinSecretLen)
		os.Exit(2)
	}
	fmt.Println(string(h))
}
