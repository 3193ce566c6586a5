// Package scanner lists BLE peripherals visible on an adapter.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceInfo is what the scan learned about one peripheral.
type DeviceInfo struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	LastSeen    time.Time
}

func (d DeviceInfo) String() string {
	name := d.Name
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("%s: %s (RSSI %d)", d.Address, name, d.RSSI)
}

type DeviceEvent struct {
	Type       DeviceEventType
	DeviceInfo DeviceInfo
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	NamePrefix      string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        5 * time.Second,
		DuplicateFilter: true,
	}
}

type entry struct {
	mu   sync.Mutex
	info DeviceInfo
}

// Scanner handles BLE device discovery
type Scanner struct {
	backend device.Scanner
	devices *hashmap.Map[string, *entry]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger
	now     func() time.Time

	scanOptions *ScanOptions
}

// NewScanner creates a scanner over backend.
func NewScanner(backend device.Scanner, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		backend: backend,
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
		now:     time.Now,
	}
}

// Scan listens for advertisements for opts.Duration (or until ctx is done) and returns
// the devices seen, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]DeviceInfo, error) {
	s.devices = hashmap.New[string, *entry]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err := s.backend.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.snapshot(), nil
}

func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	addr := strings.ToUpper(adv.Addr())

	e, existing := s.devices.Get(addr)
	if !existing {
		if !s.shouldIncludeDevice(adv, addr) {
			return
		}
		e, existing = s.devices.GetOrInsert(addr, &entry{info: DeviceInfo{Address: addr}})
	}

	e.mu.Lock()
	if name := adv.LocalName(); name != "" {
		e.info.Name = name
	}
	e.info.RSSI = adv.RSSI()
	e.info.Connectable = adv.Connectable()
	e.info.LastSeen = s.now()
	event := DeviceEvent{DeviceInfo: e.info}
	e.mu.Unlock()

	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  event.DeviceInfo.Name,
			"address": addr,
			"rssi":    event.DeviceInfo.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, addr string) bool {
	opts := s.scanOptions

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.NamePrefix != "" && !strings.HasPrefix(adv.LocalName(), opts.NamePrefix) {
		return false
	}
	return true
}

func (s *Scanner) snapshot() []DeviceInfo {
	devs := make([]DeviceInfo, 0, s.devices.Len())
	s.devices.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		devs = append(devs, e.info)
		e.mu.Unlock()
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
