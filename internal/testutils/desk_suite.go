package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/pkg/desk"
	"github.com/stretchr/testify/suite"
)

// DeskSuite is a testify suite with a simulated desk and an initialised session.
//
// Embedding suites may configure Builder before calling DeskSuite.SetupTest:
//
//	func (s *MoveSuite) SetupTest() {
//	    s.Builder = testutils.NewDeskBuilder().WithHeightMM(720)
//	    s.DeskSuite.SetupTest()
//	}
type DeskSuite struct {
	suite.Suite

	Helper  *TestHelper
	Logger  *logrus.Logger
	Builder *DeskBuilder
	Options desk.Options
	Fake    *FakeDesk
	Desk    *desk.Desk

	TestTimeout time.Duration
}

func (s *DeskSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 5 * time.Second
	}
	if s.Builder == nil {
		s.Builder = NewDeskBuilder()
	}
	if s.Options == (desk.Options{}) {
		s.Options = desk.Options{
			MoveCommandPeriod: time.Millisecond,
			MovementTimeout:   2 * time.Second,
			InitTimeout:       time.Second,
		}
	}

	s.Fake = s.Builder.Build()
	s.Desk = desk.New(s.Fake, s.Options, s.Logger)
	s.Require().NoError(s.Desk.Initialise(s.Context()), "desk MUST initialise")
	s.Fake.ResetWrites()
}

func (s *DeskSuite) TearDownTest() {
	s.Builder = nil
	s.Options = desk.Options{}
}

// Context returns a context bounded by TestTimeout and cancelled at test cleanup.
func (s *DeskSuite) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}
