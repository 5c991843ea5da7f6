package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kataras/iris/v12"

	"camdvr/internal/config"
	"camdvr/internal/logging"
	"camdvr/internal/server"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	ingestAddr := flag.String("ingest", "", "ingest listen address (overrides config)")
	blobDir := flag.String("path", "", "frame storage directory (overrides config)")
	dsn := flag.String("dsn", "", "index database DSN (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.HTTPPort = *port
	}
	if *ingestAddr != "" {
		cfg.IngestAddr = *ingestAddr
	}
	if *blobDir != "" {
		cfg.BlobDir = *blobDir
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *debug {
		cfg.Debug = true
	}
	logging.SetDebugMode(cfg.Debug)

	core, err := server.NewCore(cfg)
	if err != nil {
		logging.Errorf("startup failed: %v", err)
		os.Exit(1)
	}
	if err := core.Start(); err != nil {
		logging.Errorf("ingest listener failed: %v", err)
		os.Exit(1)
	}

	actualPort := findAvailablePort(cfg.HTTPPort)

	app := iris.New()
	app.Logger().SetLevel("warn")

	// CORS for the viewer page and the CLI client.
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		if ctx.Method() == "OPTIONS" {
			ctx.StatusCode(204)
			return
		}
		ctx.Next()
	})

	handlers := server.NewHandlers(core)
	server.RegisterRoutes(app, handlers)

	if st, err := os.Stat(cfg.StaticDir); err == nil && st.IsDir() {
		app.HandleDir("/", iris.Dir(cfg.StaticDir), iris.DirOptions{
			IndexName: "index.html",
			SPA:       true,
		})
		logging.Infof("serving viewer page from %s", cfg.StaticDir)
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logging.Infof("shutting down...")
		app.Shutdown(context.Background())
		core.Close()
	}()

	logging.Infof("camdvr up: http=:%d ingest=%s blobs=%s", actualPort, cfg.IngestAddr, cfg.BlobDir)
	if err := app.Listen(fmt.Sprintf(":%d", actualPort)); err != nil {
		logging.Errorf("http server: %v", err)
	}
}

// findAvailablePort scans upward from startPort if it is taken.
func findAvailablePort(startPort int) int {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	return startPort
}
