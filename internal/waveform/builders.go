package waveform

import "fmt"

// ToothedWheel builds a missing-tooth wheel with total tooth positions, of
// which skipped are absent just before the sync tooth. Each tooth rises at
// its position and falls half a tooth later. A wheel with nothing skipped
// has no signature and syncs by counting.
func ToothedWheel(total, skipped int, mode OperationMode) (*Waveform, error) {
	if total <= 0 || skipped < 0 || skipped >= total {
		return nil, fmt.Errorf("%d/%d wheel: %w", total, skipped, ErrBadToothCount)
	}
	step := mode.WheelAngle() / float64(total)
	events := make([]Event, 0, 2*(total-skipped))
	for i := 0; i < total-skipped; i++ {
		angle := step * float64(i)
		events = append(events,
			Event{Channel: Primary, Edge: Rise, Angle: angle},
			Event{Channel: Primary, Edge: Fall, Angle: angle + step/2},
		)
	}
	var opts []Option
	if skipped == 0 {
		opts = append(opts, WithCountSync())
	}
	return New(fmt.Sprintf("%d-%d", total, skipped), mode, events, opts...)
}

// OneTooth builds a wheel with a single tooth covering half a turn.
func OneTooth(mode OperationMode) (*Waveform, error) {
	half := mode.WheelAngle() / 2
	return New("one-tooth", mode, []Event{
		{Channel: Primary, Edge: Rise, Angle: 0},
		{Channel: Primary, Edge: Fall, Angle: half},
	})
}

// OnePlusOne builds a single crank tooth paired with a single cam tooth.
// The cam tooth is the sync point, so the wheel always covers a full
// four-stroke cycle.
func OnePlusOne() (*Waveform, error) {
	return New("one-plus-one", FourStrokeCamSensor, []Event{
		{Channel: Secondary, Edge: Rise, Angle: 0},
		{Channel: Primary, Edge: Rise, Angle: 180},
		{Channel: Primary, Edge: Fall, Angle: 270},
		{Channel: Secondary, Edge: Fall, Angle: 360},
		{Channel: Primary, Edge: Rise, Angle: 540},
		{Channel: Primary, Edge: Fall, Angle: 630},
	})
}
