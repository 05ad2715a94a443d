package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"MaskBoard/internal/client"
	"MaskBoard/internal/config"
	"MaskBoard/internal/editor"
	"MaskBoard/internal/mask"
	mnet "MaskBoard/internal/net"
	"MaskBoard/internal/server"
	"MaskBoard/internal/state"
	"MaskBoard/internal/store"
	"MaskBoard/internal/ui"
)

const usage = `usage:
  MaskBoard [serve] -imagePath <image> [-port 8080] [-config maskboard.yaml]
  MaskBoard edit [-server http://host:8080] [-config maskboard.yaml]`

func main() {
	args := os.Args[1:]
	mode := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode, args = args[0], args[1:]
	}

	switch mode {
	case "serve":
		runHost(args)
	case "edit":
		runEditor(args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func runHost(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "path to a YAML or TOML config file")
		imagePath  = fs.String("imagePath", "", "The path to the image to display")
		port       = fs.Int("port", 0, "The port to run the app on (default 8080)")
		storeKind  = fs.String("store", "", "mask store: file or sqlite")
		dbPath     = fs.String("db", "", "sqlite database path (store=sqlite)")
		staticDir  = fs.String("static", "", "directory served at /")
		noMDNS     = fs.Bool("no-mdns", false, "do not advertise the server on the local network")
	)
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	sc := cfg.Server
	if *imagePath != "" {
		sc.ImagePath = *imagePath
	}
	if *port != 0 {
		sc.Addr = ":" + strconv.Itoa(*port)
	}
	if *storeKind != "" {
		sc.Store = *storeKind
	}
	if *dbPath != "" {
		sc.DBPath = *dbPath
	}
	if *staticDir != "" {
		sc.StaticDir = *staticDir
	}
	if *noMDNS {
		sc.MDNS = false
	}
	cfg.Server = sc
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	sc = cfg.Server
	if sc.ImagePath == "" {
		log.Fatal("the image path must be set")
	}

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	ic, err := server.LoadImage(sc.ImagePath)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Printf("Image loaded with dimensions %dw x %dh, format: %s", ic.Width, ic.Height, ic.Format)

	st, err := openStore(sc)
	if err != nil {
		logger.Fatalf("open mask store: %v", err)
	}
	defer st.Close()

	fill, _ := mask.ParseColour(sc.FillColour)
	srv := server.New(ic, st, server.Options{StaticDir: sc.StaticDir, Gzip: sc.Gzip, FillColour: fill}, logger)

	listenPort := 8080
	if _, p, err := splitPort(sc.Addr); err == nil {
		listenPort = p
	}
	if sc.MDNS {
		adv, err := mnet.Advertise(listenPort, filepath.Base(sc.ImagePath))
		if err != nil {
			logger.Printf("mDNS disabled: %v", err)
		} else {
			defer adv.Shutdown()
			logger.Printf("advertising %s on port %d", mnet.ServiceType, listenPort)
		}
	}
	if ip, err := mnet.GetOutgoingIP(); err == nil {
		logger.Printf("editors can join with: MaskBoard edit -server http://%s:%d", ip, listenPort)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx, sc.Addr); err != nil {
		logger.Fatalf("server: %v", err)
	}
}

func openStore(sc config.ServerConfig) (store.Store, error) {
	if sc.Store == "sqlite" {
		return store.OpenSQLite(sc.DBPath, sc.KeepRevs)
	}
	return store.OpenFile(sc.ImagePath)
}

func splitPort(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("no port in %q", addr)
	}
	p, err := strconv.Atoi(addr[i+1:])
	return addr[:i], p, err
}

func runEditor(args []string) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "path to a YAML or TOML config file")
		serverURL  = fs.String("server", "", "mask server URL")
		thickness  = fs.Float64("thickness", 0, "brush diameter in pixels")
		discover   = fs.Bool("discover", false, "find the server on the local network")
	)
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ec := cfg.Editor
	if *serverURL != "" {
		ec.ServerURL = *serverURL
	}
	if *thickness > 0 {
		ec.LineThickness = *thickness
	}
	if *discover {
		ec.Discover = true
	}

	if ec.Discover {
		log.Println("[editor] looking for a mask server...")
		addr, err := mnet.Browse(3 * time.Second)
		if err != nil {
			log.Fatalf("[editor] discovery: %v", err)
		}
		ec.ServerURL = "http://" + addr
	}

	logger := log.New(os.Stderr, "[editor] ", log.LstdFlags)
	sess := state.NewSession()
	c, err := client.New(ec.ServerURL, client.WithSession(sess.ID))
	if err != nil {
		log.Fatalf("[editor] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bg, err := c.FetchImage(ctx)
	if err != nil {
		log.Fatalf("[editor] fetch image from %s: %v", c.BaseURL(), err)
	}
	colour, err := mask.ParseColour(ec.Colour)
	if err != nil {
		log.Fatalf("[editor] %v", err)
	}

	b := bg.Bounds()
	ed := editor.New(editor.Config{
		LineThickness: ec.LineThickness,
		Colour:        colour,
		AnchorOnPress: ec.AnchorOnPress,
	}, mask.New(b.Dx(), b.Dy()), c, editor.WithLogger(logger), editor.WithSession(sess))

	var watcher ui.Watcher
	if ec.Watch {
		watcher = c
	}
	ui.RunApp(ctx, ed, ui.Options{
		Title:      c.BaseURL(),
		Background: bg,
		Fill:       colour,
		Watcher:    watcher,
	})
}
