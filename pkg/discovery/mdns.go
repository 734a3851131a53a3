package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one interface. Empty means all.
	Interface string

	// TTL overrides the record TTL. Zero uses the zeroconf default.
	TTL time.Duration
}

// Advertiser publishes commissionable and operational records.
type Advertiser struct {
	config AdvertiserConfig

	mu             sync.Mutex
	commissionable *zeroconf.Server
	operational    map[string]*zeroconf.Server // keyed by instance name
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{
		config:      config,
		operational: make(map[string]*zeroconf.Server),
	}
}

func (a *Advertiser) register(instance, service string, port uint16, txt TXTRecordMap) (*zeroconf.Server, error) {
	if len(instance) > MaxInstanceNameLen {
		return nil, fmt.Errorf("%w: %q too long", ErrInvalidInstanceName, instance)
	}
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}
	return zeroconf.Register(instance, service, Domain, int(port), TXTRecordsToStrings(txt), interfaces(a.config.Interface), opts...)
}

// AdvertiseCommissionable starts (or replaces) the commissionable record.
func (a *Advertiser) AdvertiseCommissionable(info *CommissionableInfo) error {
	if info.Discriminator > MaxDiscriminator {
		return ErrInvalidDiscriminator
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
	}
	server, err := a.register(CommissionableInstanceName(info.Discriminator), ServiceTypeCommissionable, info.Port, EncodeCommissionableTXT(info))
	if err != nil {
		return fmt.Errorf("failed to register commissionable service: %w", err)
	}
	a.commissionable = server
	return nil
}

// StopCommissionable withdraws the commissionable record.
func (a *Advertiser) StopCommissionable() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
	}
}

// AdvertiseOperational starts (or replaces) the record for one fabric.
func (a *Advertiser) AdvertiseOperational(info *OperationalInfo) error {
	instance := OperationalInstanceName(info.CompressedFabricID, info.NodeID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if server, ok := a.operational[instance]; ok {
		server.Shutdown()
		delete(a.operational, instance)
	}
	server, err := a.register(instance, ServiceTypeOperational, info.Port, TXTRecordMap{})
	if err != nil {
		return fmt.Errorf("failed to register operational service: %w", err)
	}
	a.operational[instance] = server
	return nil
}

// StopAll withdraws every record.
func (a *Advertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.commissionable != nil {
		a.commissionable.Shutdown()
		a.commissionable = nil
	}
	for name, server := range a.operational {
		server.Shutdown()
		delete(a.operational, name)
	}
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Interface restricts browsing to one interface. Empty means all.
	Interface string

	// BrowseTimeout bounds lookups whose context has no deadline.
	BrowseTimeout time.Duration

	Logger *slog.Logger
}

// DefaultResolverConfig returns the default resolver configuration.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{BrowseTimeout: BrowseTimeout}
}

// Resolver looks up commissionable and operational devices.
type Resolver struct {
	config ResolverConfig
	logger *slog.Logger
}

// NewResolver creates an mDNS resolver.
func NewResolver(config ResolverConfig) *Resolver {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{config: config, logger: logger.With("component", "discovery")}
}

// BrowseCommissionable streams commissionable devices until ctx ends.
// Addresses seen on several interfaces are merged into one entry.
func (r *Resolver) BrowseCommissionable(ctx context.Context) <-chan *CommissionableService {
	return browse(ctx, r, ServiceTypeCommissionable, r.entryToCommissionable)
}

// FindCommissionable returns the first commissionable device advertising
// the discriminator.
func (r *Resolver) FindCommissionable(ctx context.Context, discriminator uint16) (*CommissionableService, error) {
	if discriminator > MaxDiscriminator {
		return nil, ErrInvalidDiscriminator
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	for svc := range r.BrowseCommissionable(ctx) {
		if svc.Discriminator == discriminator {
			r.logger.Debug("found commissionable device", "instance", svc.InstanceName, "address", svc.Address())
			return svc, nil
		}
	}
	return nil, lookupErr(ctx, fmt.Sprintf("discriminator %d", discriminator))
}

// ResolveOperational returns the address record of a node on a fabric.
func (r *Resolver) ResolveOperational(ctx context.Context, cfid fabric.CompressedFabricID, node fabric.NodeID) (*OperationalService, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	want := OperationalInstanceName(cfid, node)
	for svc := range browse(ctx, r, ServiceTypeOperational, entryToOperational) {
		if svc.InstanceName == want {
			r.logger.Debug("resolved operational node", "instance", want, "address", svc.Address())
			return svc, nil
		}
	}
	return nil, lookupErr(ctx, want)
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.config.BrowseTimeout)
}

func lookupErr(ctx context.Context, what string) error {
	if err := ctx.Err(); err != nil && err != context.DeadlineExceeded {
		return err
	}
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// service is implemented by the resolved record types.
type service interface {
	*CommissionableService | *OperationalService
}

func instanceOf[S service](s S) string {
	switch v := any(s).(type) {
	case *CommissionableService:
		return v.InstanceName
	case *OperationalService:
		return v.InstanceName
	}
	return ""
}

func addressesOf[S service](s S) *[]string {
	switch v := any(s).(type) {
	case *CommissionableService:
		return &v.Addresses
	case *OperationalService:
		return &v.Addresses
	}
	return nil
}

// browse runs a zeroconf browse and aggregates entries by instance name.
// The returned channel closes when ctx ends.
func browse[S service](ctx context.Context, r *Resolver, serviceType string, convert func(*zeroconf.ServiceEntry) (S, bool)) <-chan S {
	out := make(chan S)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		services := make(map[string]S)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, ok := convert(entry)
				if !ok {
					continue
				}
				name := instanceOf(svc)
				if existing, found := services[name]; found {
					addrs := addressesOf(existing)
					*addrs = mergeAddresses(*addrs, *addressesOf(svc))
					continue
				}
				services[name] = svc
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := services[entry.Instance]; found {
					addrs := addressesOf(existing)
					*addrs = removeAddresses(*addrs, entryAddresses(entry))
					if len(*addrs) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		var opts []zeroconf.ClientOption
		if ifaces := interfaces(r.config.Interface); ifaces != nil {
			opts = append(opts, zeroconf.SelectIfaces(ifaces))
		}
		if err := zeroconf.Browse(ctx, serviceType, Domain, entries, removed, opts...); err != nil && ctx.Err() == nil {
			r.logger.Warn("mDNS browse failed", "service", serviceType, "error", err)
		}
	}()

	return out
}

func (r *Resolver) entryToCommissionable(entry *zeroconf.ServiceEntry) (*CommissionableService, bool) {
	svc, err := commissionableFromRecord(entry.Instance, entry.HostName, entry.Port, entry.Text, entryAddresses(entry))
	if err != nil {
		r.logger.Debug("ignoring commissionable record", "instance", entry.Instance, "error", err)
		return nil, false
	}
	return svc, true
}

func entryToOperational(entry *zeroconf.ServiceEntry) (*OperationalService, bool) {
	svc, err := operationalFromRecord(entry.Instance, entry.HostName, entry.Port, entryAddresses(entry))
	return svc, err == nil
}

func commissionableFromRecord(instance, host string, port int, text []string, addrs []string) (*CommissionableService, error) {
	info, err := DecodeCommissionableTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil, err
	}
	return &CommissionableService{
		InstanceName:       instance,
		Host:               host,
		Port:               uint16(port),
		Addresses:          addrs,
		CommissionableInfo: *info,
	}, nil
}

func operationalFromRecord(instance, host string, port int, addrs []string) (*OperationalService, error) {
	cfid, node, err := ParseOperationalInstanceName(instance)
	if err != nil {
		return nil, err
	}
	return &OperationalService{
		InstanceName:       instance,
		Host:               host,
		Port:               uint16(port),
		Addresses:          addrs,
		CompressedFabricID: cfid,
		NodeID:             node,
	}, nil
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// interfaces returns the named interface, or nil for all interfaces.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, a := range gone {
		toRemove[a] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
