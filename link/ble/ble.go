// Package ble implements link.Link on top of tinygo.org/x/bluetooth, which
// talks to BlueZ over D-Bus on Linux.
//
// A Central owns the adapter. It serialises scans and routes disconnect
// events to the Link of the matching address, so several peripherals can be
// updated at once through one adapter:
//
//	central, err := ble.NewCentral(bluetooth.DefaultAdapter)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	l := central.NewLink()
//	if err := l.Connect(ctx, "DE:AD:BE:EF:01:02"); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Disconnect()
package ble

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/vamshik113/go-ota-dfu/link"
)

// Config holds the transport configuration.
type Config struct {
	// ScanTimeout bounds the scan that precedes every connection
	ScanTimeout time.Duration

	// NotificationBuffer is the number of notifications queued before new
	// ones are dropped
	NotificationBuffer int
}

func defaultConfig() Config {
	return Config{
		ScanTimeout:        10 * time.Second,
		NotificationBuffer: 64,
	}
}

// Option is a functional option for configuring the Central.
type Option func(*Config)

// WithScanTimeout sets how long Connect scans for the target address.
func WithScanTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ScanTimeout = timeout
		}
	}
}

// WithNotificationBuffer sets the notification queue depth.
func WithNotificationBuffer(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.NotificationBuffer = n
		}
	}
}

// radio is the part of *bluetooth.Adapter a Central uses once enabled.
type radio interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

// Central wraps an enabled adapter.
type Central struct {
	adapter radio
	config  Config

	scanMu sync.Mutex

	mu    sync.Mutex
	links map[string]*Link
}

// NewCentral enables the adapter and installs the disconnect dispatcher.
func NewCentral(adapter *bluetooth.Adapter, opts ...Option) (*Central, error) {
	if adapter == nil {
		return nil, errors.New("adapter cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := adapter.Enable(); err != nil {
		return nil, errors.Wrap(err, "enable BLE adapter")
	}

	c := &Central{
		adapter: adapter,
		config:  cfg,
		links:   make(map[string]*Link),
	}
	adapter.SetConnectHandler(c.onConnect)
	return c, nil
}

// NewLink returns an unconnected Link that uses this Central's adapter.
func (c *Central) NewLink() *Link {
	return &Link{central: c}
}

func (c *Central) onConnect(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	c.mu.Lock()
	l := c.links[strings.ToUpper(device.Address.String())]
	c.mu.Unlock()

	if l != nil {
		l.markLost()
	}
}

func (c *Central) register(address string, l *Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[address] = l
}

func (c *Central) unregister(address string, l *Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.links[address] == l {
		delete(c.links, address)
	}
}

// scanStopRetry is how often a pending stop is retried while Scan has not
// registered itself with the adapter yet.
const scanStopRetry = 50 * time.Millisecond

// scan looks for address and returns the scan result to connect to.
func (c *Central) scan(ctx context.Context, address string) (bluetooth.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return bluetooth.ScanResult{}, err
	}

	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	var (
		found  bluetooth.ScanResult
		ok     bool
		stopMu sync.Mutex
	)

	// StopScan fails with "not scanning" until Scan is running, so the
	// stopper keeps trying until Scan has returned.
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		timer := time.NewTimer(c.config.ScanTimeout)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-ctx.Done():
		case <-timer.C:
		}

		ticker := time.NewTicker(scanStopRetry)
		defer ticker.Stop()
		for {
			stopMu.Lock()
			err := c.adapter.StopScan()
			stopMu.Unlock()
			if err == nil {
				return
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	err := c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !strings.EqualFold(result.Address.String(), address) {
			return
		}
		stopMu.Lock()
		defer stopMu.Unlock()
		if !ok {
			found, ok = result, true
			_ = c.adapter.StopScan()
		}
	})
	close(done)
	<-stopped

	if err != nil {
		return found, errors.Wrap(err, "scan")
	}
	if !ok {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		return found, errors.Errorf("device %s not found within %s", address, c.config.ScanTimeout)
	}
	return found, nil
}

// call runs fn and returns early with ctx.Err() once ctx is done. BlueZ
// calls cannot be interrupted, so an abandoned fn finishes in the
// background and its result is dropped.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Link is a link.Link backed by one BlueZ connection.
type Link struct {
	central *Central

	mu        sync.Mutex
	device    bluetooth.Device
	address   string
	connected bool
	chars     map[uint16]bluetooth.DeviceCharacteristic
	byUUID    map[string]link.Handles
	notify    chan []byte
	lost      chan struct{}
	lostOnce  *sync.Once
	dropped   int
}

var _ link.Link = (*Link)(nil)

// Connect implements link.Link. It scans for the address first so BlueZ
// knows the address type of the peer.
func (l *Link) Connect(ctx context.Context, address string) error {
	if _, err := bluetooth.ParseMAC(address); err != nil {
		return errors.Wrapf(err, "invalid address %q", address)
	}
	address = strings.ToUpper(address)

	result, err := l.central.scan(ctx, address)
	if err != nil {
		return errors.Wrapf(err, "connect %s", address)
	}

	device, err := call(ctx, func() (bluetooth.Device, error) {
		return l.central.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	})
	if err != nil {
		return errors.Wrapf(err, "connect %s", address)
	}

	l.mu.Lock()
	l.device = device
	l.address = address
	l.connected = true
	l.chars = nil
	l.byUUID = nil
	l.notify = make(chan []byte, l.central.config.NotificationBuffer)
	l.lost = make(chan struct{})
	l.lostOnce = &sync.Once{}
	l.mu.Unlock()

	l.central.register(address, l)
	return nil
}

// Discover implements link.Link. The whole attribute table is enumerated on
// first use and handles are assigned in discovery order. A done ctx abandons
// the enumeration.
func (l *Link) Discover(ctx context.Context, id string) (link.Handles, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return link.Handles{}, errors.Wrapf(err, "invalid characteristic UUID %q", id)
	}
	want := bluetooth.NewUUID(u).String()

	byUUID, err := call(ctx, func() (map[string]link.Handles, error) {
		l.mu.Lock()
		connected, device, lost, byUUID := l.connected, l.device, l.lost, l.byUUID
		l.mu.Unlock()

		if !connected {
			return nil, link.ErrNotConnected
		}
		if byUUID != nil {
			return byUUID, nil
		}

		chars, byUUID, err := enumerate(device)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		// a reconnect while enumerating owns the table now
		if l.lost != lost || !l.connected {
			return nil, link.ErrNotConnected
		}
		if l.byUUID == nil {
			l.chars, l.byUUID = chars, byUUID
		}
		return l.byUUID, nil
	})
	if err != nil {
		return link.Handles{}, err
	}

	h, ok := byUUID[want]
	if !ok {
		return link.Handles{}, link.ErrNotFound
	}
	return h, nil
}

// enumerate walks the attribute table of device.
func enumerate(device bluetooth.Device) (map[uint16]bluetooth.DeviceCharacteristic, map[string]link.Handles, error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "discover services")
	}

	chars := make(map[uint16]bluetooth.DeviceCharacteristic)
	byUUID := make(map[string]link.Handles)

	next := uint16(1)
	for _, svc := range services {
		next++ // service declaration
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "discover characteristics of %s", svc.UUID().String())
		}
		for _, c := range found {
			h := link.Handles{Char: next, Value: next + 1, CCCD: next + 2}
			next += 3
			chars[h.Value] = c
			key := c.UUID().String()
			if _, dup := byUUID[key]; !dup {
				byUUID[key] = h
			}
		}
	}
	return chars, byUUID, nil
}

func (l *Link) characteristic(handle uint16) (bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return bluetooth.DeviceCharacteristic{}, link.ErrNotConnected
	}
	c, ok := l.chars[handle]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, errors.Errorf("unknown handle 0x%04X", handle)
	}
	return c, nil
}

// EnableNotifications implements link.Link.
func (l *Link) EnableNotifications(ctx context.Context, cccd uint16) error {
	c, err := l.characteristic(cccd - 1)
	if err != nil {
		return err
	}

	l.mu.Lock()
	ch := l.notify
	l.mu.Unlock()

	_, err = call(ctx, func() (struct{}, error) {
		return struct{}{}, c.EnableNotifications(func(buf []byte) {
			frame := make([]byte, len(buf))
			copy(frame, buf)
			select {
			case ch <- frame:
			default:
				l.mu.Lock()
				l.dropped++
				l.mu.Unlock()
			}
		})
	})
	return errors.Wrapf(err, "enable notifications 0x%04X", cccd)
}

// WriteRequest implements link.Link with an acknowledged write; it returns
// once the peer has confirmed the write.
func (l *Link) WriteRequest(ctx context.Context, handle uint16, data []byte) error {
	c, err := l.characteristic(handle)
	if err != nil {
		return err
	}
	_, err = call(ctx, func() (int, error) {
		return c.Write(data)
	})
	return errors.Wrapf(err, "write request 0x%04X", handle)
}

// WriteCommand implements link.Link.
func (l *Link) WriteCommand(ctx context.Context, handle uint16, data []byte) error {
	c, err := l.characteristic(handle)
	if err != nil {
		return err
	}
	_, err = c.WriteWithoutResponse(data)
	return errors.Wrapf(err, "write command 0x%04X", handle)
}

// Read implements link.Link.
func (l *Link) Read(ctx context.Context, handle uint16) ([]byte, error) {
	c, err := l.characteristic(handle)
	if err != nil {
		return nil, err
	}
	value, err := call(ctx, func() ([]byte, error) {
		buf := make([]byte, 512)
		n, err := c.Read(buf)
		return buf[:n], err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read 0x%04X", handle)
	}
	return value, nil
}

// WaitNotification implements link.Link.
func (l *Link) WaitNotification(timeout time.Duration) link.Event {
	l.mu.Lock()
	notify, lost := l.notify, l.lost
	l.mu.Unlock()

	if notify == nil {
		return link.Event{Outcome: link.OutcomeLinkLost}
	}

	// drain queued data before reporting a loss
	select {
	case frame := <-notify:
		return link.Event{Outcome: link.OutcomeData, Data: frame}
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-notify:
		return link.Event{Outcome: link.OutcomeData, Data: frame}
	case <-lost:
		return link.Event{Outcome: link.OutcomeLinkLost}
	case <-timer.C:
		return link.Event{Outcome: link.OutcomeTimeout}
	}
}

// Disconnect implements link.Link.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	device, address := l.device, l.address
	l.connected = false
	l.chars = nil
	l.byUUID = nil
	l.mu.Unlock()

	l.central.unregister(address, l)
	l.markLost()
	return errors.Wrapf(device.Disconnect(), "disconnect %s", address)
}

// Dropped returns how many notifications were discarded because the queue
// was full.
func (l *Link) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Link) markLost() {
	l.mu.Lock()
	once, lost := l.lostOnce, l.lost
	l.connected = false
	l.mu.Unlock()

	if once != nil {
		once.Do(func() { close(lost) })
	}
}
