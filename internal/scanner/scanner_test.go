package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/scanner"
	"github.com/stretchr/testify/suite"
)

type fakeAdvertisement struct {
	name        string
	addr        string
	rssi        int
	connectable bool
}

func (a fakeAdvertisement) LocalName() string { return a.name }
func (a fakeAdvertisement) RSSI() int         { return a.rssi }
func (a fakeAdvertisement) Addr() string      { return a.addr }
func (a fakeAdvertisement) Connectable() bool { return a.connectable }

// fakeScanner replays advertisements and then blocks until the context ends.
type fakeScanner struct {
	advs     []device.Advertisement
	err      error
	allowDup bool
}

func (f *fakeScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	f.allowDup = allowDup
	if f.err != nil {
		return f.err
	}
	for _, a := range f.advs {
		handler(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

type ScannerTestSuite struct {
	suite.Suite

	backend *fakeScanner
	scanner *scanner.Scanner
}

func (s *ScannerTestSuite) SetupTest() {
	logger, _ := test.NewNullLogger()
	s.backend = &fakeScanner{advs: []device.Advertisement{
		fakeAdvertisement{name: "Desk 8511", addr: "e8:5b:5b:24:22:e4", rssi: -60, connectable: true},
		fakeAdvertisement{name: "Phone", addr: "11:22:33:44:55:66", rssi: -40, connectable: true},
		fakeAdvertisement{addr: "99:88:77:66:55:44", rssi: -80},
		fakeAdvertisement{addr: "E8:5B:5B:24:22:E4", rssi: -55, connectable: true},
	}}
	s.scanner = scanner.NewScanner(s.backend, logger)
}

func (s *ScannerTestSuite) scan(opts *scanner.ScanOptions) []scanner.DeviceInfo {
	devices, err := s.scanner.Scan(context.Background(), opts, nil)
	s.Require().NoError(err, "scan ending on its duration MUST NOT be an error")
	return devices
}

func (s *ScannerTestSuite) TestScan() {
	// GOAL: Verify repeated advertisements merge into one device and results are ordered by signal
	//
	// TEST SCENARIO: Four advertisements, one address seen twice in different case → three devices

	var phases []string
	devices, err := s.scanner.Scan(context.Background(), &scanner.ScanOptions{Duration: 20 * time.Millisecond, DuplicateFilter: true},
		func(p string) { phases = append(phases, p) })

	s.Require().NoError(err)
	s.Require().Len(devices, 3, "same address MUST be reported once")
	s.Assert().Equal("11:22:33:44:55:66", devices[0].Address, "strongest signal MUST come first")
	s.Assert().Equal("E8:5B:5B:24:22:E4", devices[1].Address)
	s.Assert().Equal("Desk 8511", devices[1].Name, "empty names MUST NOT overwrite a known name")
	s.Assert().Equal(-55, devices[1].RSSI, "latest RSSI MUST win")
	s.Assert().Equal("99:88:77:66:55:44: Unknown (RSSI -80)", devices[2].String())
	s.Assert().Equal([]string{"Scanning", "Processing results"}, phases)
	s.Assert().False(s.backend.allowDup, "duplicate filter MUST disable duplicate reports")
}

func (s *ScannerTestSuite) TestFilters() {
	s.Run("name prefix", func() {
		devices := s.scan(&scanner.ScanOptions{Duration: 10 * time.Millisecond, NamePrefix: "Desk"})
		s.Require().Len(devices, 1)
		s.Assert().Equal("Desk 8511", devices[0].Name)
	})

	s.Run("allow list", func() {
		devices := s.scan(&scanner.ScanOptions{Duration: 10 * time.Millisecond, AllowList: []string{"99:88:77:66:55:44"}})
		s.Require().Len(devices, 1)
		s.Assert().Equal("99:88:77:66:55:44", devices[0].Address)
	})

	s.Run("block list", func() {
		devices := s.scan(&scanner.ScanOptions{Duration: 10 * time.Millisecond, BlockList: []string{"11:22:33:44:55:66"}})
		s.Assert().Len(devices, 2)
	})
}

func (s *ScannerTestSuite) TestEvents() {
	s.scan(&scanner.ScanOptions{Duration: 10 * time.Millisecond})

	var newCount, updated int
	for len(s.scanner.Events()) > 0 {
		ev := <-s.scanner.Events()
		switch ev.Type {
		case scanner.EventNew:
			newCount++
		case scanner.EventUpdated:
			updated++
		}
	}
	s.Assert().Equal(3, newCount, "MUST emit one new event per device")
	s.Assert().Equal(1, updated, "MUST emit update events for repeats")
}

func (s *ScannerTestSuite) TestBackendFailure() {
	s.backend.err = device.ErrBluetoothOff

	_, err := s.scanner.Scan(context.Background(), &scanner.ScanOptions{Duration: time.Second}, nil)

	s.Assert().ErrorIs(err, device.ErrBluetoothOff, "adapter errors MUST be returned")
	s.Assert().False(errors.Is(err, context.DeadlineExceeded))
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
