// Package interactive provides the operator shell of mash-commissioner.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mash-protocol/mash-commissioner/pkg/attestation"
	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/commissioning"
	"github.com/mash-protocol/mash-commissioner/pkg/discovery"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/pairing"
	"github.com/mash-protocol/mash-commissioner/pkg/persistence"
	"github.com/mash-protocol/mash-commissioner/pkg/session"
	"github.com/mash-protocol/mash-commissioner/pkg/window"
)

// Controller is the part of *controller.Controller the shell drives.
type Controller interface {
	PairDevice(ctx context.Context, deviceID fabric.NodeID, discriminator uint16, pin uint32) error
	PairDeviceWithAddress(ctx context.Context, deviceID fabric.NodeID, host string, port uint16, pin uint32) error
	PairDeviceWithCode(ctx context.Context, deviceID fabric.NodeID, payload string) error
	CommissionDevice(ctx context.Context, deviceID fabric.NodeID, params commissioning.Parameters) error
	ContinueCommissioningDevice(ctx context.Context, deviceID fabric.NodeID, ignoreAttestationFailure bool) error
	StopDevicePairing(ctx context.Context, deviceID fabric.NodeID) error
	PairingState(ctx context.Context, deviceID fabric.NodeID) (pairing.State, error)
	Devices(ctx context.Context) ([]persistence.DeviceRecord, error)
	GetConnectedDevice(ctx context.Context, deviceID fabric.NodeID, executor func(func()), done func(session.Channel, error)) error
	OpenPairingWindow(ctx context.Context, deviceID fabric.NodeID, duration time.Duration) error
	OpenPairingWindowWithPIN(ctx context.Context, deviceID fabric.NodeID, duration time.Duration, iterations uint32, discriminator uint16, pin uint32) (*window.Invitation, error)
	UpdateDevice(ctx context.Context, deviceID fabric.NodeID) (string, error)
	ControllerNodeID() (fabric.NodeID, error)
	Fabric() (fabric.Info, error)
	OperationalChain() (*cert.Chain, error)
}

// Browser lists commissionable devices. *discovery.Resolver satisfies it.
type Browser interface {
	BrowseCommissionable(ctx context.Context) <-chan *discovery.CommissionableService
}

const browseTime = 5 * time.Second

var errUsage = errors.New("usage")

// Shell is the interactive command loop. It also prints pairing and
// commissioning events, so it can be installed as the pairing delegate.
type Shell struct {
	ctrl    Controller
	browser Browser
	rl      *readline.Instance
	out     io.Writer
}

var _ pairing.Delegate = (*Shell)(nil)

// NewTerminal creates the readline instance the shell and the log output
// share.
func NewTerminal() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "commissioner> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// New creates a shell on rl. browser may be nil.
func New(ctrl Controller, browser Browser, rl *readline.Instance) *Shell {
	s := newShell(ctrl, browser, rl.Stdout())
	s.rl = rl
	return s
}

func newShell(ctrl Controller, browser Browser, out io.Writer) *Shell {
	return &Shell{ctrl: ctrl, browser: browser, out: out}
}

// Run reads commands until quit, EOF or ctx ends.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToLower(parts[0])
		if cmd == "quit" || cmd == "exit" || cmd == "q" {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
		s.Execute(ctx, cmd, parts[1:])
	}
}

// Execute runs one command.
func (s *Shell) Execute(ctx context.Context, cmd string, args []string) {
	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "status":
		err = s.cmdStatus()
	case "cert":
		err = s.cmdCert()
	case "discover":
		err = s.cmdDiscover(ctx)
	case "pair":
		err = s.cmdPair(ctx, args)
	case "pair-addr":
		err = s.cmdPairAddress(ctx, args)
	case "pair-code":
		err = s.cmdPairCode(ctx, args)
	case "commission", "comm":
		err = s.cmdCommission(ctx, args)
	case "continue":
		err = s.cmdContinue(ctx, args)
	case "stop":
		err = s.cmdStop(ctx, args)
	case "state":
		err = s.cmdState(ctx, args)
	case "devices", "list", "ls":
		err = s.cmdDevices(ctx)
	case "connect":
		err = s.cmdConnect(ctx, args)
	case "window":
		err = s.cmdWindow(ctx, args)
	case "window-pin":
		err = s.cmdWindowPIN(ctx, args)
	case "update":
		err = s.cmdUpdate(ctx, args)
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		return
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintf(s.out, "Usage: %s\n", usage[cmd])
	} else if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

var usage = map[string]string{
	"pair":       "pair <node-id> <discriminator> <pin>",
	"pair-addr":  "pair-addr <node-id> <host> <port> <pin>",
	"pair-code":  "pair-code <node-id> <manual-code|qr-payload>",
	"commission": "commission <node-id> [wifi <ssid> <passphrase> | thread <dataset-hex>]",
	"comm":       "commission <node-id> [wifi <ssid> <passphrase> | thread <dataset-hex>]",
	"continue":   "continue <node-id> <accept|reject>",
	"stop":       "stop <node-id>",
	"state":      "state <node-id>",
	"connect":    "connect <node-id>",
	"window":     "window <node-id> <seconds>",
	"window-pin": "window-pin <node-id> <seconds> <discriminator> [pin] [iterations]",
	"update":     "update <node-id>",
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Commissioner Commands:
  Pairing:
    discover                                  - Browse commissionable devices
    pair <node-id> <discriminator> <pin>      - Pair with a discovered device
    pair-addr <node-id> <host> <port> <pin>   - Pair with a device at an address
    pair-code <node-id> <code>                - Pair from a manual code or QR payload
    stop <node-id>                            - Cancel pairing and commissioning
    state <node-id>                           - Show the pairing state

  Commissioning:
    commission <node-id> [wifi|thread ...]    - Commission a paired device
    continue <node-id> <accept|reject>        - Resume after an attestation failure

  Commissioned devices:
    devices                                   - List commissioned devices
    connect <node-id>                         - Open an operational session
    update <node-id>                          - Re-resolve the device address
    window <node-id> <seconds>                - Open a basic commissioning window
    window-pin <node-id> <seconds> <disc>     - Open an enhanced window

  General:
    status                                    - Show controller status
    cert                                      - Print the controller chain as PEM
    help                                      - Show this help
    quit                                      - Exit`)
}

func (s *Shell) cmdStatus() error {
	node, err := s.ctrl.ControllerNodeID()
	if err != nil {
		return err
	}
	info, err := s.ctrl.Fabric()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Node ID:       %s\n", node)
	fmt.Fprintf(s.out, "Fabric ID:     %s\n", info.FabricID)
	fmt.Fprintf(s.out, "Fabric index:  %d\n", info.Index)
	fmt.Fprintf(s.out, "Vendor ID:     0x%04X\n", uint16(info.VendorID))
	fmt.Fprintf(s.out, "Compressed ID: %s\n", info.CompressedFabricID)
	return nil
}

func (s *Shell) cmdCert() error {
	chain, err := s.ctrl.OperationalChain()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Expires: %s\n", chain.ExpiresAt().Local().Format(time.DateTime))
	_, err = s.out.Write(cert.EncodeChainPEM(chain))
	return err
}

func (s *Shell) cmdDiscover(ctx context.Context) error {
	if s.browser == nil {
		return errors.New("mDNS discovery is disabled")
	}
	fmt.Fprintln(s.out, "Discovering commissionable devices...")
	bctx, cancel := context.WithTimeout(ctx, browseTime)
	defer cancel()

	n := 0
	for d := range s.browser.BrowseCommissionable(bctx) {
		n++
		fmt.Fprintf(s.out, "  %d. %s (discriminator: %d, vendor: 0x%04X, product: 0x%04X, address: %s)\n",
			n, d.InstanceName, d.Discriminator, uint16(d.VendorID), d.ProductID, d.Address())
	}
	if n == 0 {
		fmt.Fprintln(s.out, "No commissionable devices found")
	}
	return nil
}

func (s *Shell) cmdPair(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	id, err := ParseNodeID(args[0])
	if err != nil {
		return err
	}
	disc, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid discriminator: %w", err)
	}
	pin, err := ParsePIN(args[2])
	if err != nil {
		return err
	}
	return s.ctrl.PairDevice(ctx, id, uint16(disc), pin)
}

func (s *Shell) cmdPairAddress(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errUsage
	}
	id, err := ParseNodeID(args[0])
	if err != nil {
		return err
	}
	port, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	pin, err := ParsePIN(args[3])
	if err != nil {
		return err
	}
	return s.ctrl.PairDeviceWithAddress(ctx, id, args[1], uint16(port), pin)
}

func (s *Shell) cmdPairCode(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := ParseNodeID(args[0])
	if err != nil {
		return err
	}
	return s.ctrl.PairDeviceWithCode(ctx, id, args[1])
}

func (s *Shell) cmdCommission(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	id, err := ParseNodeID(args[0])
	if err != nil {
		return err
	}
	params, err := ParseNetwork(args[1:])
	if err != nil {
		return err
	}
	params.AttestationDelegate = attestation.DelegateFunc(func(ev *attestation.Evidence) attestation.Result {
		return attestation.Verify(ev, time.Now())
	})
	return s.ctrl.CommissionDevice(ctx, id, params)
}

func (s *Shell) cmdContinue(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := ParseNodeID(args[0])
	if err != nil {
		return err
	}
	var ignore bool
	switch strings.ToLower(args[1]) {
	case "accept", "yes", "ignore":
		ignore = true
	case "reject", "no":
	default:
		return errUsage
	}
	return s.ctrl.ContinueCommissioningDevice(ctx, id, ignore)
}

func (s *Shell) cmdStop(ctx context.Context, args []string) error {
	id, err := oneNodeID(args)
	if err != nil {
		return err
	}
	return s.ctrl.StopDevicePairing(ctx, id)
}

func (s *Shell) cmdState(ctx context.Context, args []string) error {
	id, err := oneNodeID(args)
	if err != nil {
		return err
	}
	state, err := s.ctrl.PairingState(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s: %s\n", id, state)
	return nil
}

func (s *Shell) cmdDevices(ctx context.Context) error {
	recs, err := s.ctrl.Devices(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(s.out, "No devices commissioned")
		return nil
	}
	fmt.Fprintf(s.out, "\nCommissioned Devices (%d):\n", len(recs))
	fmt.Fprintln(s.out, "-------------------------------------------")
	for _, r := range recs {
		addr := r.Address
		if addr == "" {
			addr = "(unresolved)"
		}
		fmt.Fprintf(s.out, "  Node: %s\n", r.NodeID)
		fmt.Fprintf(s.out, "      Address: %s\n", addr)
		fmt.Fprintf(s.out, "      Commissioned: %s\n", r.CommissionedAt.Local().Format(time.DateTime))
		fmt.Fprintln(s.out)
	}
	return nil
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) error {
	id, err := oneNodeID(args)
	if err != nil {
		return err
	}
	return s.ctrl.GetConnectedDevice(ctx, id, nil, func(ch session.Channel, err error) {
		if err != nil {
			fmt.Fprintf(s.out, "Connect %s failed: %v\n", id, err)
			return
		}
		fmt.Fprintf(s.out, "Connected to %s at %s\n", id, ch.RemoteAddr())
		_ = ch.Close()
	})
}

func (s *Shell) cmdWindow(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := ParseNodeID(args[0])
	if err != nil {
		return err
	}
	d, err := ParseSeconds(args[1])
	if err != nil {
		return err
	}
	if err := s.ctrl.OpenPairingWindow(ctx, id, d); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Basic commissioning window open on %s for %s\n", id, d)
	return nil
}

func (s *Shell) cmdWindowPIN(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 5 {
		return errUsage
	}
	id, err := ParseNodeID(args[0])
	if err != nil {
		return err
	}
	d, err := ParseSeconds(args[1])
	if err != nil {
		return err
	}
	disc, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid discriminator: %w", err)
	}
	var pin uint32
	if len(args) > 3 {
		if pin, err = ParsePIN(args[3]); err != nil {
			return err
		}
	}
	var iterations uint64
	if len(args) > 4 {
		if iterations, err = strconv.ParseUint(args[4], 10, 32); err != nil {
			return fmt.Errorf("invalid iterations: %w", err)
		}
	}
	inv, err := s.ctrl.OpenPairingWindowWithPIN(ctx, id, d, uint32(iterations), uint16(disc), pin)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Enhanced commissioning window open on %s for %s\n", id, inv.Duration)
	fmt.Fprintf(s.out, "  Manual code:   %s\n", inv.ManualCode)
	fmt.Fprintf(s.out, "  Discriminator: %d\n", inv.Discriminator)
	fmt.Fprintf(s.out, "  PIN:           %08d\n", inv.PIN)
	return nil
}

func (s *Shell) cmdUpdate(ctx context.Context, args []string) error {
	id, err := oneNodeID(args)
	if err != nil {
		return err
	}
	addr, err := s.ctrl.UpdateDevice(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s is at %s\n", id, addr)
	return nil
}

func (s *Shell) OnStatusUpdate(deviceID fabric.NodeID, state pairing.State) {
	fmt.Fprintf(s.out, "[PAIRING] %s: %s\n", deviceID, state)
}

func (s *Shell) OnPairingComplete(deviceID fabric.NodeID, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "[PAIRING] %s failed: %v\n", deviceID, err)
		return
	}
	fmt.Fprintf(s.out, "[PAIRING] %s paired, ready to commission\n", deviceID)
}

func (s *Shell) OnPairingDeleted(deviceID fabric.NodeID, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "[PAIRING] %s released: %v\n", deviceID, err)
		return
	}
	fmt.Fprintf(s.out, "[PAIRING] %s released\n", deviceID)
}

func (s *Shell) OnCommissioningStatusUpdate(deviceID fabric.NodeID, stage string, err error) {
	switch {
	case stage == commissioning.StageAttestationPending.String():
		fmt.Fprintf(s.out, "[COMMISSION] %s: attestation failed (%v), use 'continue %s accept|reject'\n", deviceID, err, deviceID)
	case err != nil:
		fmt.Fprintf(s.out, "[COMMISSION] %s: %s failed: %v\n", deviceID, stage, err)
	default:
		fmt.Fprintf(s.out, "[COMMISSION] %s: %s\n", deviceID, stage)
	}
}

func (s *Shell) OnCommissioningComplete(deviceID fabric.NodeID, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "[COMMISSION] %s failed: %v\n", deviceID, err)
		return
	}
	fmt.Fprintf(s.out, "[COMMISSION] %s commissioned\n", deviceID)
}

func oneNodeID(args []string) (fabric.NodeID, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	return ParseNodeID(args[0])
}

// ParseNodeID parses a decimal or 0x-prefixed hex node id.
func ParseNodeID(s string) (fabric.NodeID, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return fabric.NodeID(v), nil
}

// ParsePIN parses a decimal setup PIN.
func ParsePIN(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pin %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseSeconds parses a window duration given in seconds.
func ParseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(v) * time.Second, nil
}

// ParseNetwork parses the optional network arguments of commission.
func ParseNetwork(args []string) (commissioning.Parameters, error) {
	var p commissioning.Parameters
	if len(args) == 0 {
		return p, nil
	}
	switch strings.ToLower(args[0]) {
	case "wifi":
		if len(args) != 3 {
			return p, errUsage
		}
		p.WiFi = &commissioning.WiFiCredentials{SSID: []byte(args[1]), Passphrase: []byte(args[2])}
	case "thread":
		if len(args) != 2 {
			return p, errUsage
		}
		dataset, err := hex.DecodeString(args[1])
		if err != nil {
			return p, fmt.Errorf("invalid thread dataset: %w", err)
		}
		p.ThreadDataset = dataset
	default:
		return p, errUsage
	}
	return p, nil
}
