// The otadfu tool updates the firmware of Nordic nRF5 peripherals over BLE,
// using either the legacy (SDK < 12) or the secure (SDK >= 12) bootloader
// protocol.
//
// Usage:
//
//	otadfu -address DE:AD:BE:EF:01:02 -zip app_dfu_package.zip
//	otadfu -address deadbeef0102 -file app.hex -dat app.dat -legacy
//	otadfu -address AA:BB:CC:DD:EE:01,AA:BB:CC:DD:EE:10 -zip app.zip -parallel 2
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"k8s.io/klog"
	"tinygo.org/x/bluetooth"

	"github.com/vamshik113/go-ota-dfu/dfu"
	"github.com/vamshik113/go-ota-dfu/firmware"
	"github.com/vamshik113/go-ota-dfu/link"
	"github.com/vamshik113/go-ota-dfu/link/ble"
	"github.com/vamshik113/go-ota-dfu/protocol"
)

var (
	addresses     = flag.String("address", "", "Target address like DE:AD:BE:EF:01:02 or deadbeef0102. Comma separated for several peripherals.")
	imageFile     = flag.String("file", "", "Firmware image (.hex or .bin).")
	datFile       = flag.String("dat", "", "Init packet (.dat).")
	zipFile       = flag.String("zip", "", "DFU zip package with .bin/.dat files.")
	legacy        = flag.Bool("legacy", false, "Use the legacy bootloader protocol (Nordic SDK < 12).")
	secure        = flag.Bool("secure", false, "Use the secure bootloader protocol (Nordic SDK >= 12). The default.")
	prn           = flag.Uint("prn", 0, "Packet receipt notification interval, 0 for the protocol default.")
	payload       = flag.Int("payload", protocol.DefaultMaxPayload, "Bytes per data write; raise only with a larger negotiated MTU.")
	sizeHeader    = flag.Int("size-header", int(protocol.SizeHeader4), "Legacy image size header width, 4 or 12 bytes.")
	timeout       = flag.Duration("timeout", 10*time.Minute, "Overall update timeout.")
	notifyTimeout = flag.Duration("notify-timeout", 30*time.Second, "Timeout for each notification from the peer.")
	scanTimeout   = flag.Duration("scan-timeout", 10*time.Second, "How long to scan for a peripheral before connecting.")
	parallel      = flag.Int("parallel", 4, "Peripherals updated at once, 0 for no limit.")
	noProgress    = flag.Bool("no-progress", false, "Do not draw a progress bar.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *legacy && *secure {
		klog.Exitf("-legacy and -secure are mutually exclusive")
	}
	variant := protocol.Secure
	if *legacy {
		variant = protocol.Legacy
	}

	targets := splitAddresses(*addresses)
	if len(targets) == 0 {
		flag.Usage()
		klog.Exitf("-address is required")
	}

	b, err := firmware.Load(*imageFile, *datFile, *zipFile)
	if err != nil {
		klog.Exitf("Failed to load firmware: %v", err)
	}
	describe(b, variant)

	central, err := ble.NewCentral(bluetooth.DefaultAdapter, ble.WithScanTimeout(*scanTimeout))
	if err != nil {
		klog.Exitf("Failed to enable the Bluetooth adapter: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	bar := newBar(int64(len(b.Image) * len(targets)))

	opts := []dfu.Option{
		dfu.WithLogger(klogLogger{}),
		dfu.WithProgressCallback(bar.update),
		dfu.WithNotificationTimeout(*notifyTimeout),
		dfu.WithMaxPayload(*payload),
		dfu.WithAckWindow(uint16(*prn)),
		dfu.WithSizeHeader(protocol.SizeHeader(*sizeHeader)),
		dfu.WithParallelism(*parallel),
	}
	if b.ImageType != 0 {
		opts = append(opts, dfu.WithImageType(b.ImageType))
	}

	if len(targets) == 1 {
		eng := dfu.New(central.NewLink(), opts...)
		err := eng.Update(ctx, targets[0], b.Image, b.Descriptor, variant)
		bar.finish()
		if err != nil {
			klog.Exitf("Update of %s failed: %v", targets[0], err)
		}
		klog.Infof("Update of %s complete", targets[0])
		return
	}

	fleet := make([]dfu.Target, 0, len(targets))
	for _, addr := range targets {
		fleet = append(fleet, dfu.Target{Address: addr, Image: b.Image, Descriptor: b.Descriptor, Variant: variant})
	}
	results, err := dfu.UpdateAll(ctx, fleet, func(string) (link.Link, error) {
		return central.NewLink(), nil
	}, opts...)
	bar.finish()

	for _, r := range results {
		if r.Err != nil {
			klog.Errorf("%s: failed after %s: %v", r.Address, r.Elapsed.Round(time.Millisecond), r.Err)
			continue
		}
		klog.Infof("%s: complete in %s", r.Address, r.Elapsed.Round(time.Millisecond))
	}
	if err != nil {
		klog.Exitf("%v", err)
	}
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// describe logs what is about to be sent and warns when the init packet
// disagrees with the image.
func describe(b *firmware.Bundle, v protocol.Variant) {
	name := b.Name
	if name == "" {
		name = "image"
	}
	klog.Infof("Firmware %s: %d bytes, init packet %d bytes, %s protocol", name, len(b.Image), len(b.Descriptor), v)

	if v != protocol.Secure {
		return
	}
	if len(b.Descriptor) == 0 {
		klog.Exitf("The secure protocol needs an init packet (-dat or -zip)")
	}
	ip, err := firmware.InspectInitPacket(b.Descriptor)
	if err != nil {
		klog.Warningf("Cannot decode init packet: %v", err)
		return
	}
	klog.V(1).Infof("Init packet: %s fw_version=%d hw_version=%d signed=%t sd_req=%v", ip.Type, ip.FwVersion, ip.HwVersion, ip.Signed, ip.SdReq)
	if size := ip.ImageSize(); size != 0 && size != uint32(len(b.Image)) {
		klog.Warningf("Init packet announces %d bytes but the image has %d", size, len(b.Image))
	}
}

// progressBar sums the bytes sent by every session into one bar.
type progressBar struct {
	mu   sync.Mutex
	bar  *pb.ProgressBar
	sent map[string]int
}

func newBar(total int64) *progressBar {
	p := &progressBar{sent: make(map[string]int)}
	if !*noProgress {
		tmpl := `{{string . "phase"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`
		p.bar = pb.ProgressBarTemplate(tmpl).Start64(total)
		p.bar.Set(pb.Bytes, true)
	}
	return p
}

func (p *progressBar) update(pr dfu.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pr.Session != "" {
		p.sent[pr.Session] = pr.BytesSent
	}
	if p.bar == nil {
		klog.V(1).Infof("%s %s %d/%d", pr.Address, pr.Phase, pr.BytesSent, pr.TotalBytes)
		return
	}

	var sum int
	for _, n := range p.sent {
		sum += n
	}
	p.bar.Set("phase", pr.Phase)
	p.bar.SetCurrent(int64(sum))
}

func (p *progressBar) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
