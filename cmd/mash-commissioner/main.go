// Command mash-commissioner commissions devices onto a fabric.
//
// It runs one controller with a persistent node id, root authority and
// device registry, and drives it from an interactive shell or in one-shot
// mode from a pairing code.
//
// Usage:
//
//	mash-commissioner [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-state-dir string     Directory for persistent state (default "mash-commissioner-state")
//	-vendor-id string     Administrator vendor id (default "0xFFF1")
//	-fabric-id string     Fabric id (default "1")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write protocol events (CBOR) to this file
//	-interactive          Run the operator shell
//	-mdns                 Resolve devices via mDNS (default true)
//	-mqtt string          Publish events to this MQTT broker
//	-reset                Clear all persisted state before starting
//	-node string          One-shot: node id to assign
//	-code string          One-shot: manual code or QR payload to pair with
//
// Examples:
//
//	# Interactive shell with persistent state
//	mash-commissioner -interactive -state-dir /var/lib/mash-commissioner
//
//	# Commission one device and exit
//	mash-commissioner -node 0x2A -code 5154162775417
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"filippo.io/age"
	"github.com/chzyer/readline"

	"github.com/mash-protocol/mash-commissioner/cmd/mash-commissioner/interactive"
	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/commissioning"
	"github.com/mash-protocol/mash-commissioner/pkg/controller"
	"github.com/mash-protocol/mash-commissioner/pkg/discovery"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	mashlog "github.com/mash-protocol/mash-commissioner/pkg/log"
	"github.com/mash-protocol/mash-commissioner/pkg/notify"
	"github.com/mash-protocol/mash-commissioner/pkg/pairing"
	"github.com/mash-protocol/mash-commissioner/pkg/persistence"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/setupcode"
)

const (
	stateFile    = "state.db"
	identityFile = "root-key.age"
)

// options are the command-line only settings.
type options struct {
	node string
	code string
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "mash-commissioner:", err)
		os.Exit(2)
	}
	if err := run(cfg, opts); err != nil {
		fmt.Fprintln(os.Stderr, "mash-commissioner:", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file named by -config and applies the flags
// that were set on top of it.
func parseFlags(args []string) (Config, options, error) {
	def := DefaultConfig()
	fs := flag.NewFlagSet("mash-commissioner", flag.ContinueOnError)

	var (
		opts         options
		configPath   = fs.String("config", "", "YAML configuration file")
		stateDir     = fs.String("state-dir", def.StateDir, "Directory for persistent state")
		vendorID     = fs.String("vendor-id", def.VendorID, "Administrator vendor id")
		fabricID     = fs.String("fabric-id", def.FabricID, "Fabric id")
		logLevel     = fs.String("log-level", def.LogLevel, "Log level: debug, info, warn, error")
		protocolLog  = fs.String("protocol-log", "", "Write protocol events (CBOR) to this file")
		interactiveF = fs.Bool("interactive", false, "Run the operator shell")
		mdns         = fs.Bool("mdns", def.MDNS.Enabled, "Resolve devices via mDNS")
		mqttBroker   = fs.String("mqtt", "", "Publish events to this MQTT broker")
		reset        = fs.Bool("reset", false, "Clear all persisted state before starting")
	)
	fs.StringVar(&opts.node, "node", "", "One-shot: node id to assign")
	fs.StringVar(&opts.code, "code", "", "One-shot: manual code or QR payload to pair with")

	if err := fs.Parse(args); err != nil {
		return Config{}, opts, err
	}
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return cfg, opts, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "state-dir":
			cfg.StateDir = *stateDir
		case "vendor-id":
			cfg.VendorID = *vendorID
		case "fabric-id":
			cfg.FabricID = *fabricID
		case "log-level":
			cfg.LogLevel = *logLevel
		case "protocol-log":
			cfg.ProtocolLog = *protocolLog
		case "interactive":
			cfg.Interactive = *interactiveF
		case "mdns":
			cfg.MDNS.Enabled = *mdns
		case "mqtt":
			cfg.MQTT.Broker = *mqttBroker
		case "reset":
			cfg.Reset = *reset
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, opts, err
	}
	if (opts.node == "") != (opts.code == "") {
		return cfg, opts, errors.New("-node and -code must be given together")
	}
	if opts.code != "" && cfg.Interactive {
		return cfg, opts, errors.New("one-shot mode cannot be combined with -interactive")
	}
	if opts.code != "" {
		if _, err := setupcode.Decode(opts.code); err != nil {
			return cfg, opts, fmt.Errorf("-code: %w", err)
		}
	}
	return cfg, opts, nil
}

func run(cfg Config, opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		out io.Writer = os.Stderr
		rl  *readline.Instance
	)
	if cfg.Interactive {
		var err error
		if rl, err = interactive.NewTerminal(); err != nil {
			return err
		}
		out = rl.Stderr()
	}
	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	store, err := openState(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	identity, err := loadIdentity(filepath.Join(cfg.StateDir, identityFile), logger)
	if err != nil {
		return err
	}

	protocolLogger, closeLog, err := protocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	scfg := session.DefaultConfig()
	scfg.ProtocolLogger = protocolLogger
	scfg.Logger = logger
	var resolver *discovery.Resolver
	if cfg.MDNS.Enabled {
		resolver = discovery.NewResolver(discovery.ResolverConfig{
			Interface:     cfg.MDNS.Interface,
			BrowseTimeout: cfg.MDNS.Timeout,
			Logger:        logger,
		})
		scfg.Resolver = resolver
	}
	sessions, err := session.NewManager(scfg)
	if err != nil {
		return err
	}

	factory := controller.NewFactory(controller.Config{
		Transport:      sessions,
		ProtocolLogger: protocolLogger,
		Logger:         logger,
	})
	defer factory.Close()

	ctrl, err := factory.NewController()
	if err != nil {
		return err
	}
	vendor, _ := cfg.Vendor()
	fabricID, _ := cfg.Fabric()
	err = ctrl.Startup(ctx, controller.Identity{VendorID: vendor, FabricID: fabricID}, controller.StartupParams{
		Store:        store,
		Authorities:  cert.NewAuthorityStore(store, identity),
		Intermediate: cfg.Intermediate,
		NOCValidity:  cfg.NOCValidity,
	})
	if err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	node, _ := ctrl.ControllerNodeID()
	info, _ := ctrl.Fabric()
	logger.Info("controller started", "node_id", node, "fabric_id", info.FabricID, "compressed_fabric_id", info.CompressedFabricID)

	var shell *interactive.Shell
	var delegate pairing.Delegate = eventLog{logger: logger}
	if rl != nil {
		var browser interactive.Browser
		if resolver != nil {
			browser = resolver
		}
		shell = interactive.New(ctrl, browser, rl)
		delegate = shell
	}
	var oneShot *commissionOnPair
	if opts.code != "" {
		oneShot = newCommissionOnPair(ctx, ctrl, delegate)
		delegate = oneShot
	}
	if cfg.MQTT.Broker != "" {
		n, err := notify.Dial(notify.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Next:        delegate,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer n.Close()
		delegate = n
	}
	if err := ctrl.SetPairingDelegate(ctx, delegate); err != nil {
		return err
	}

	switch {
	case oneShot != nil:
		err = commissionOnce(ctx, ctrl, oneShot, opts)
	case shell != nil:
		go shell.Run(ctx, cancel)
		<-ctx.Done()
	default:
		<-ctx.Done()
	}

	logger.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if serr := ctrl.Shutdown(sctx); serr != nil {
		logger.Warn("shutdown", "error", serr)
	}
	return err
}

// openState opens the state database, removing it first on reset.
func openState(cfg Config, logger *slog.Logger) (*persistence.BoltStore, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	path := filepath.Join(cfg.StateDir, stateFile)
	if cfg.Reset {
		logger.Info("resetting persisted state", "path", path)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reset state: %w", err)
		}
	}
	store, err := persistence.OpenBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return store, nil
}

// loadIdentity reads the age identity sealing the root key, creating it on
// first run.
func loadIdentity(path string, logger *slog.Logger) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	logger.Info("created root key identity", "path", path, "recipient", id.Recipient().String())
	return id, nil
}

// protocolLogger builds the protocol event sink: a CBOR file when
// configured, and the operational log at debug level.
func protocolLogger(cfg Config, logger *slog.Logger) (mashlog.Logger, func(), error) {
	var sinks []mashlog.Logger
	closeFn := func() {}
	if cfg.ProtocolLog != "" {
		fl, err := mashlog.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		sinks = append(sinks, fl)
		closeFn = func() { _ = fl.Close() }
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		sinks = append(sinks, mashlog.NewSlogAdapter(logger))
	}
	switch len(sinks) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return mashlog.NewMultiLogger(sinks...), closeFn, nil
	}
}

// commissionOnce pairs with opts.code and waits for commissioning to end.
func commissionOnce(ctx context.Context, ctrl *controller.Controller, d *commissionOnPair, opts options) error {
	id, err := interactive.ParseNodeID(opts.node)
	if err != nil {
		return err
	}
	if err := ctrl.PairDeviceWithCode(ctx, id, opts.code); err != nil {
		return err
	}
	select {
	case err := <-d.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commissionOnPair commissions every device as soon as it is paired and
// reports the first outcome on done.
type commissionOnPair struct {
	pairing.Delegate
	ctx  context.Context
	ctrl *controller.Controller
	done chan error
}

func newCommissionOnPair(ctx context.Context, ctrl *controller.Controller, next pairing.Delegate) *commissionOnPair {
	return &commissionOnPair{Delegate: next, ctx: ctx, ctrl: ctrl, done: make(chan error, 1)}
}

func (d *commissionOnPair) finish(err error) {
	select {
	case d.done <- err:
	default:
	}
}

func (d *commissionOnPair) OnPairingComplete(deviceID fabric.NodeID, err error) {
	d.Delegate.OnPairingComplete(deviceID, err)
	if err != nil {
		d.finish(err)
		return
	}
	// Delegate callbacks run on the event queue; the controller call must
	// not wait on it.
	go func() {
		if err := d.ctrl.CommissionDevice(d.ctx, deviceID, commissioning.Parameters{}); err != nil {
			d.finish(err)
		}
	}()
}

func (d *commissionOnPair) OnCommissioningComplete(deviceID fabric.NodeID, err error) {
	d.Delegate.OnCommissioningComplete(deviceID, err)
	d.finish(err)
}

// eventLog logs pairing and commissioning events.
type eventLog struct {
	logger *slog.Logger
}

func (l eventLog) OnStatusUpdate(deviceID fabric.NodeID, state pairing.State) {
	l.logger.Info("pairing state", "device", deviceID, "state", state)
}

func (l eventLog) OnPairingComplete(deviceID fabric.NodeID, err error) {
	if err != nil {
		l.logger.Warn("pairing failed", "device", deviceID, "error", err)
		return
	}
	l.logger.Info("device paired", "device", deviceID)
}

func (l eventLog) OnPairingDeleted(deviceID fabric.NodeID, err error) {
	l.logger.Info("pairing released", "device", deviceID, "error", err)
}

func (l eventLog) OnCommissioningStatusUpdate(deviceID fabric.NodeID, stage string, err error) {
	if err != nil {
		l.logger.Warn("commissioning stage", "device", deviceID, "stage", stage, "error", err)
		return
	}
	l.logger.Info("commissioning stage", "device", deviceID, "stage", stage)
}

func (l eventLog) OnCommissioningComplete(deviceID fabric.NodeID, err error) {
	if err != nil {
		l.logger.Error("commissioning failed", "device", deviceID, "error", err)
		return
	}
	l.logger.Info("device commissioned", "device", deviceID)
}
