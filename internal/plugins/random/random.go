// Package random implements the smoke test input: one random value per
// tick into the instance's default buffer.
package random

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"sluice/internal/input"
	"sluice/internal/record"
)

const defaultIntervalSec = 1

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return "random" }

func (*Plugin) Capabilities() []input.Capability { return nil }

type state struct {
	samples int
	emitted int
}

func (*Plugin) Init(ins *input.Instance) error {
	st := &state{}
	intervalSec := int64(defaultIntervalSec)
	var intervalNsec int64

	if v, ok := ins.GetProperty("interval_sec"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("random: invalid interval_sec %q", v)
		}
		intervalSec = n
	}
	if v, ok := ins.GetProperty("interval_nsec"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("random: invalid interval_nsec %q", v)
		}
		intervalNsec = n
	}
	if v, ok := ins.GetProperty("samples"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("random: invalid samples %q", v)
		}
		st.samples = n
	}

	ins.SetContext(st)
	_, err := ins.SetCollectorTime(st.collect, intervalSec, intervalNsec)
	return err
}

func (st *state) collect(ins *input.Instance) error {
	if st.samples > 0 && st.emitted >= st.samples {
		return nil
	}
	data, err := record.Encode(time.Now(), record.Record{"rand_value": rand.Uint64()})
	if err != nil {
		return err
	}
	ins.Append(data, 1)
	st.emitted++
	return nil
}

func (*Plugin) Exit(ctx any) error { return nil }
