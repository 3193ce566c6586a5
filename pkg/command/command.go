// Package command defines the command value exchanged between the CLI, the command
// server and forwarding clients.
package command

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind discriminates commands.
type Kind string

const (
	Watch       Kind = "watch"
	MoveTo      Kind = "move_to"
	ScanAdapter Kind = "scan_adapter"
	RunServer   Kind = "server"
	RunTCP      Kind = "tcp_server"
)

// Valid reports whether k is a known command kind.
func (k Kind) Valid() bool {
	switch k {
	case Watch, MoveTo, ScanAdapter, RunServer, RunTCP:
		return true
	}
	return false
}

// Forwardable reports whether a command of this kind may run on behalf of a remote peer.
func (k Kind) Forwardable() bool {
	return k == MoveTo || k == ""
}

// Command is a desk command. Over the network it is {"key": "...", "value": "..."}.
// An empty Kind only prints the current height.
type Command struct {
	Kind  Kind
	Value string
}

type wireCommand struct {
	Key   Kind            `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	w := wireCommand{Key: c.Kind}
	if c.Value != "" {
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		w.Value = v
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts a string or a number as value.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Kind = w.Key
	c.Value = ""

	raw := strings.TrimSpace(string(w.Value))
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		return json.Unmarshal(w.Value, &c.Value)
	}
	var n json.Number
	if err := json.Unmarshal(w.Value, &n); err != nil {
		return fmt.Errorf("command value must be a string or a number: %w", err)
	}
	c.Value = n.String()
	return nil
}

// Decode parses a wire command and validates its kind.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, &ValidationError{Field: "command", Value: string(data), Reason: err.Error()}
	}
	if c.Kind != "" && !c.Kind.Valid() {
		return Command{}, &ValidationError{Field: "key", Value: string(c.Kind), Reason: "unknown command"}
	}
	return c, nil
}

// Encode serialises c to its wire form.
func Encode(c Command) ([]byte, error) {
	return json.Marshal(c)
}

func (c Command) String() string {
	if c.Value == "" {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Value)
}

// ValidationError is returned for commands rejected before any device I/O.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

var favouriteName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidFavouriteName reports whether name can be used as a favourite.
func ValidFavouriteName(name string) bool {
	return favouriteName.MatchString(name)
}

// Favourites looks up a named preset height in mm.
type Favourites interface {
	Get(name string) (float64, bool)
}

// Target is a resolved move_to destination.
type Target struct {
	MM        float64
	Favourite string
}

// ResolveTarget turns a move_to value into a height in mm. Favourites win over numbers.
func ResolveTarget(value string, favourites Favourites) (Target, error) {
	value = strings.TrimSpace(value)
	if favourites != nil {
		if mm, ok := favourites.Get(value); ok {
			return Target{MM: mm, Favourite: value}, nil
		}
	}
	mm, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(mm) || math.IsInf(mm, 0) || mm <= 0 {
		return Target{}, &ValidationError{Field: "height", Value: value, Reason: "not a height or favourite"}
	}
	return Target{MM: mm}, nil
}
