package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/pkg/command"
	"github.com/srg/deskctl/pkg/desk"
)

// Desk is the session surface commands need. *desk.Desk implements it.
type Desk interface {
	HeightSpeed(ctx context.Context) (desk.Height, desk.Speed, error)
	MoveTo(ctx context.Context, target desk.Height, progress desk.Progress) error
	Watch(ctx context.Context, fn func(desk.Height, desk.Speed)) error
	BaseHeight() float64
}

// ErrNotRemote is returned for commands that may only run locally.
var ErrNotRemote = errors.New("command cannot be run remotely")

// Runner executes commands one at a time against the desk.
type Runner struct {
	desk       Desk
	favourites command.Favourites
	logger     *logrus.Logger

	mu sync.Mutex
}

// NewRunner creates a runner. favourites may be nil.
func NewRunner(d Desk, favourites command.Favourites, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{desk: d, favourites: favourites, logger: logger}
}

// Run executes cmd and writes progress lines to out. It blocks while another command runs.
func (r *Runner) Run(ctx context.Context, cmd command.Command, out io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, cmd, out)
}

// RunRemote is Run for commands that arrived over the network.
func (r *Runner) RunRemote(ctx context.Context, cmd command.Command, out io.Writer) error {
	if !cmd.Kind.Forwardable() {
		return fmt.Errorf("%w: %s", ErrNotRemote, cmd.Kind)
	}
	return r.Run(ctx, cmd, out)
}

// Resolve converts a move_to value to a target height, rejecting values outside
// the range between the base height and the largest encodable position.
func (r *Runner) Resolve(value string) (command.Target, desk.Height, error) {
	target, err := command.ResolveTarget(value, r.favourites)
	if err != nil {
		return command.Target{}, 0, err
	}
	base := r.desk.BaseHeight()
	if target.MM < base {
		return command.Target{}, 0, &command.ValidationError{
			Field:  "height",
			Value:  value,
			Reason: fmt.Sprintf("below the base height %.0fmm", base),
		}
	}
	h := desk.HeightFromMM(target.MM, base)
	if !h.Valid() {
		return command.Target{}, 0, &command.ValidationError{
			Field:  "height",
			Value:  value,
			Reason: fmt.Sprintf("above the maximum height %.0fmm", desk.MaxHeight.MM(base)),
		}
	}
	return target, h, nil
}

func (r *Runner) run(ctx context.Context, cmd command.Command, out io.Writer) error {
	base := r.desk.BaseHeight()

	initial, _, err := r.desk.HeightSpeed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Height: %4.0fmm\n", initial.MM(base))

	switch cmd.Kind {
	case "":
		return nil
	case command.Watch:
		fmt.Fprintln(out, "Watching for changes to desk height and speed")
		return r.desk.Watch(ctx, func(h desk.Height, s desk.Speed) {
			fmt.Fprintf(out, "Height: %4.0fmm Speed: %2.0fmm/s\n", h.MM(base), s.MMPerSec())
		})
	case command.MoveTo:
	default:
		return fmt.Errorf("command %q is not handled by the runner", cmd.Kind)
	}

	target, height, err := r.Resolve(cmd.Value)
	if err != nil {
		fmt.Fprintf(out, "Not a valid height or favourite position: %s\n", cmd.Value)
		return err
	}
	if target.Favourite != "" {
		fmt.Fprintf(out, "Moving to favourite height: %s (%d mm)\n", target.Favourite, int(target.MM))
	} else {
		fmt.Fprintf(out, "Moving to height: %s\n", cmd.Value)
	}

	if height == initial {
		fmt.Fprintln(out, "Nothing to do - already at specified height")
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"target_mm": target.MM,
		"favourite": target.Favourite,
	}).Debug("Running move_to")

	err = r.desk.MoveTo(ctx, height, func(h desk.Height, s desk.Speed) {
		fmt.Fprintf(out, "Height: %4.0fmm Speed: %2.0fmm/s\n", h.MM(base), s.MMPerSec())
	})
	if err != nil {
		return err
	}

	final, _, err := r.desk.HeightSpeed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Final height: %.0fmm (Target: %.0fmm)\n", final.MM(base), target.MM)
	return nil
}
