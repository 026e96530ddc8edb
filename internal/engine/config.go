package engine

import (
	"errors"
	"fmt"

	"github.com/sweeney/engine-sync/internal/shaft"
	"github.com/sweeney/engine-sync/internal/trigger"
	"github.com/sweeney/engine-sync/internal/warning"
	"github.com/sweeney/engine-sync/internal/waveform"
)

// Trigger wheel types understood by TriggerConfig.
const (
	TypeToothed    = "toothed"
	TypeOneTooth   = "one"
	TypeOnePlusOne = "one-plus-one"
)

// ErrUnknownTrigger is returned for an unsupported trigger type.
var ErrUnknownTrigger = errors.New("unknown trigger type")

// TriggerConfig selects and shapes the trigger wheel.
type TriggerConfig struct {
	Type         string
	TotalTeeth   int
	SkippedTeeth int
	Mode         waveform.OperationMode
	RisingOnly   bool
}

// Build creates the waveform described by c.
func (c TriggerConfig) Build() (*waveform.Waveform, error) {
	var (
		w   *waveform.Waveform
		err error
	)
	switch c.Type {
	case TypeToothed:
		w, err = waveform.ToothedWheel(c.TotalTeeth, c.SkippedTeeth, c.Mode)
	case TypeOneTooth:
		w, err = waveform.OneTooth(c.Mode)
	case TypeOnePlusOne:
		w, err = waveform.OnePlusOne()
	default:
		return nil, fmt.Errorf("%q: %w", c.Type, ErrUnknownTrigger)
	}
	if err != nil {
		return nil, err
	}
	if c.RisingOnly {
		return w.RisingOnly()
	}
	return w, nil
}

func (c TriggerConfig) String() string {
	name := c.Type
	if c.Type == TypeToothed {
		name = fmt.Sprintf("%d-%d", c.TotalTeeth, c.SkippedTeeth)
	}
	if c.RisingOnly {
		name += "/rise"
	}
	return fmt.Sprintf("%s %s", name, c.Mode)
}

// Config holds everything needed to build an Engine.
type Config struct {
	Trigger  TriggerConfig
	Decoder  trigger.Config
	VVT      [trigger.Banks][trigger.CamsPerBank]trigger.VVTConfig
	Dispatch shaft.Config

	// PoolSize is the number of schedulable event records.
	PoolSize int
	// PendingSize bounds tooth-anchored angle requests.
	PendingSize int
	// WarningCapacity is the size of the recent-warnings ring.
	WarningCapacity int
}

// DefaultConfig is a 60-2 crank wheel with stock limits.
func DefaultConfig() Config {
	return Config{
		Trigger: TriggerConfig{
			Type:         TypeToothed,
			TotalTeeth:   60,
			SkippedTeeth: 2,
			Mode:         waveform.FourStrokeCrankSensor,
		},
		Decoder:         trigger.DefaultConfig(),
		PoolSize:        64,
		PendingSize:     16,
		WarningCapacity: warning.DefaultCapacity,
	}
}
