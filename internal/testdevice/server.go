package testdevice

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/mash-protocol/mash-commissioner/pkg/cert"
	"github.com/mash-protocol/mash-commissioner/pkg/discovery"
	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/log"
	"github.com/mash-protocol/mash-commissioner/pkg/pase"
	"github.com/mash-protocol/mash-commissioner/pkg/transport"
	"github.com/mash-protocol/mash-commissioner/pkg/wire"
)

// ServerConfig configures the device's network endpoints.
type ServerConfig struct {
	// Address is the commissioning listen address (default 127.0.0.1:0).
	Address string

	// OperationalAddress is used once commissioned (default 127.0.0.1:0).
	OperationalAddress string

	// Advertiser publishes mDNS records when set.
	Advertiser *discovery.Advertiser

	ProtocolLogger log.Logger
}

// Server exposes a Device over TLS.
type Server struct {
	dev  *Device
	cfg  ServerConfig
	ctx  context.Context
	stop context.CancelFunc

	commissioning *transport.Listener

	mu          sync.Mutex
	operational *transport.Listener
	conns       map[*transport.Conn]struct{}
	closed      bool

	wg sync.WaitGroup
}

// Serve starts the commissioning listener. The operational listener starts
// when a commissioner completes commissioning.
func (d *Device) Serve(cfg ServerConfig) (*Server, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.OperationalAddress == "" {
		cfg.OperationalAddress = "127.0.0.1:0"
	}

	tlsCert, err := transport.SelfSignedCertificate()
	if err != nil {
		return nil, err
	}
	tlsConf, err := transport.NewCommissioningServerTLSConfig(tlsCert)
	if err != nil {
		return nil, err
	}
	ln, err := transport.Listen(cfg.Address, tlsConf, transport.ConnOptions{ProtocolLogger: cfg.ProtocolLogger, Role: log.RoleCommissionee})
	if err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		dev:           d,
		cfg:           cfg,
		ctx:           ctx,
		stop:          stop,
		commissioning: ln,
		conns:         make(map[*transport.Conn]struct{}),
	}

	d.mu.Lock()
	d.onCommissioned = s.startOperational
	d.mu.Unlock()

	if cfg.Advertiser != nil {
		if err := cfg.Advertiser.AdvertiseCommissionable(&discovery.CommissionableInfo{
			Discriminator: d.cfg.Discriminator,
			VendorID:      d.cfg.VendorID,
			ProductID:     d.cfg.ProductID,
			Mode:          discovery.CommissioningModeBasic,
			Port:          portOf(ln.Addr()),
		}); err != nil {
			d.logger.Warn("commissionable advertisement failed", "error", err)
		}
	}

	s.wg.Add(1)
	go s.acceptLoop(ln, s.serveCommissioning)
	d.logger.Info("listening", "address", ln.Addr().String())
	return s, nil
}

// Addr returns the commissioning address.
func (s *Server) Addr() string { return s.commissioning.Addr().String() }

// OperationalAddr returns the operational address, or "" before
// commissioning.
func (s *Server) OperationalAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.operational == nil {
		return ""
	}
	return s.operational.Addr().String()
}

// Close stops both listeners and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stop()
	err := s.commissioning.Close()
	if s.operational != nil {
		s.operational.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	if s.cfg.Advertiser != nil {
		s.cfg.Advertiser.StopAll()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln *transport.Listener, serve func(*transport.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept(s.ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.dev.logger.Debug("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			serve(conn)
		}()
	}
}

func (s *Server) track(c *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *transport.Conn) {
	c.Close()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) serveCommissioning(conn *transport.Conn) {
	id, creds, err := s.dev.window.BeginPASE()
	if err != nil {
		_ = conn.Send(wire.MessageTypeStatusReport, wire.StatusReport{Status: wire.StatusBusy, Message: err.Error()})
		return
	}
	responder, err := pase.NewResponder(creds.Verifier, creds.Salt, creds.Iterations)
	if err != nil {
		_ = s.dev.window.EndPASE(id, false)
		return
	}
	keys, err := responder.Respond(s.ctx, conn)
	_ = s.dev.window.EndPASE(id, err == nil)
	if err != nil {
		s.dev.logger.Info("PASE failed", "error", err)
		return
	}
	s.commands(conn, keys.AttestationChallenge[:])
}

func (s *Server) serveOperational(conn *transport.Conn) {
	s.commands(conn, nil)
}

func (s *Server) commands(conn *transport.Conn, challenge []byte) {
	for {
		env, err := conn.Receive(s.ctx)
		if err != nil {
			return
		}
		t, reply := s.dev.Handle(challenge, env)
		if reply == nil {
			continue
		}
		if err := conn.Send(t, reply); err != nil {
			return
		}
	}
}

func (s *Server) startOperational(f *Fabric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.operational != nil {
		return
	}

	tlsConf, err := transport.NewOperationalServerTLSConfig(&transport.OperationalTLSConfig{Chain: &f.Chain, Key: f.Key})
	if err != nil {
		s.dev.logger.Error("operational TLS config", "error", err)
		return
	}
	ln, err := transport.Listen(s.cfg.OperationalAddress, tlsConf, transport.ConnOptions{ProtocolLogger: s.cfg.ProtocolLogger, Role: log.RoleCommissionee})
	if err != nil {
		s.dev.logger.Error("operational listener", "error", err)
		return
	}
	s.operational = ln
	s.wg.Add(1)
	go s.acceptLoop(ln, s.serveOperational)
	s.dev.logger.Info("operational listener started", "address", ln.Addr().String())

	if s.cfg.Advertiser != nil {
		s.cfg.Advertiser.StopCommissionable()
		if err := s.advertiseOperational(f, portOf(ln.Addr())); err != nil {
			s.dev.logger.Warn("operational advertisement failed", "error", err)
		}
	}
}

func (s *Server) advertiseOperational(f *Fabric, port uint16) error {
	node, err := cert.NodeIDOf(f.Chain.NOC)
	if err != nil {
		return err
	}
	fid, err := cert.FabricIDOf(f.Chain.NOC)
	if err != nil {
		return err
	}
	rootKey, ok := f.Chain.RCAC.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("root key is %T", f.Chain.RCAC.PublicKey)
	}
	cfid, err := fabric.DeriveCompressedFabricID(rootKey, fid)
	if err != nil {
		return err
	}
	return s.cfg.Advertiser.AdvertiseOperational(&discovery.OperationalInfo{CompressedFabricID: cfid, NodeID: node, Port: port})
}

func portOf(a net.Addr) uint16 {
	_, p, err := net.SplitHostPort(a.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseUint(p, 10, 16)
	return uint16(n)
}
