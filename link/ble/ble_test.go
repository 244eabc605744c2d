package ble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"
)

// fakeRadio models BlueZ scanning: a scan registers itself only after
// setup, and StopScan before that fails like the real adapter does.
type fakeRadio struct {
	setup time.Duration

	mu        sync.Mutex
	stop      chan struct{}
	scans     int
	stopCalls int
}

func (r *fakeRadio) Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	r.mu.Lock()
	r.scans++
	r.mu.Unlock()

	time.Sleep(r.setup)

	r.mu.Lock()
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	<-stop
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopCalls++
	if r.stop == nil {
		return errors.New("not scanning")
	}
	close(r.stop)
	r.stop = nil
	return nil
}

func (r *fakeRadio) Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error) {
	return bluetooth.Device{}, errors.New("unreachable")
}

func newTestCentral(r radio, scanTimeout time.Duration) *Central {
	cfg := defaultConfig()
	cfg.ScanTimeout = scanTimeout
	return &Central{adapter: r, config: cfg, links: make(map[string]*Link)}
}

// bounded fails the test when fn has not returned within limit.
func bounded(t *testing.T, limit time.Duration, fn func() error) error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-time.After(limit):
		t.Fatalf("still blocked after %s", limit)
		return nil
	}
}

func TestScanCancelledBeforeStart(t *testing.T) {
	r := &fakeRadio{}
	c := newTestCentral(r, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.scan(ctx, "AA:BB:CC:DD:EE:01")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("scan() error = %v, want context.Canceled", err)
	}
	if r.scans != 0 {
		t.Errorf("scans = %d, want 0", r.scans)
	}
}

func TestScanStopsOnceRegistered(t *testing.T) {
	tests := []struct {
		name        string
		timeout     time.Duration
		cancelAfter time.Duration
		wantErr     string
	}{
		{name: "cancelled during setup", timeout: time.Minute, cancelAfter: 10 * time.Millisecond, wantErr: context.Canceled.Error()},
		{name: "timeout during setup", timeout: 10 * time.Millisecond, wantErr: "not found within 10ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRadio{setup: 150 * time.Millisecond}
			c := newTestCentral(r, tt.timeout)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancelAfter > 0 {
				time.AfterFunc(tt.cancelAfter, cancel)
			}

			err := bounded(t, 5*time.Second, func() error {
				_, err := c.scan(ctx, "AA:BB:CC:DD:EE:01")
				return err
			})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("scan() error = %v, want %q", err, tt.wantErr)
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			if r.stopCalls < 2 {
				t.Errorf("StopScan calls = %d, want a retry after the early stop", r.stopCalls)
			}
			if r.stop != nil {
				t.Error("scan still registered after return")
			}
		})
	}
}

func TestConnectHonoursCancelledContext(t *testing.T) {
	r := &fakeRadio{}
	l := newTestCentral(r, time.Minute).NewLink()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Connect(ctx, "AA:BB:CC:DD:EE:01")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want context.Canceled", err)
	}
	if r.scans != 0 {
		t.Errorf("scans = %d, want 0", r.scans)
	}
}

func TestCall(t *testing.T) {
	v, err := call(context.Background(), func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("call() = %d, %v, want 7, nil", v, err)
	}

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = bounded(t, 5*time.Second, func() error {
		_, err := call(ctx, func() ([]byte, error) {
			<-release
			return []byte{1}, nil
		})
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("call() error = %v, want context.DeadlineExceeded", err)
	}
}
