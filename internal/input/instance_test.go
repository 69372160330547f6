package input

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/env"
	"sluice/internal/metrics"
)

func TestSetPropertyRecognizedKeys(t *testing.T) {
	ins := newBareInstance(t, newFakeLoop(), CapNetwork)

	require.NoError(t, ins.SetProperty("Tag", "app.logs"))
	require.NoError(t, ins.SetProperty("MEM_BUF_LIMIT", "2M"))
	require.NoError(t, ins.SetProperty("listen", "0.0.0.0"))
	require.NoError(t, ins.SetProperty("host", "backend"))
	require.NoError(t, ins.SetProperty("port", "5170"))
	require.NoError(t, ins.SetProperty("ipv6", "on"))

	assert.Equal(t, "app.logs", ins.Tag())
	assert.EqualValues(t, 2*1024*1024, ins.MemBufLimit())
	assert.Equal(t, "0.0.0.0", ins.Host.Listen)
	assert.Equal(t, "backend", ins.Host.Name)
	assert.Equal(t, 5170, ins.Host.Port)
	assert.True(t, ins.Host.IPv6)
	assert.Empty(t, ins.Properties(), "recognized keys stay out of the table")
}

func TestSetPropertyInvalidValues(t *testing.T) {
	ins := newBareInstance(t, newFakeLoop())

	assert.ErrorIs(t, ins.SetProperty("mem_buf_limit", "bogus"), ErrInvalidProperty)
	assert.EqualValues(t, 0, ins.MemBufLimit())

	assert.ErrorIs(t, ins.SetProperty("port", "http"), ErrInvalidProperty)
	assert.Equal(t, 0, ins.Host.Port)

	assert.ErrorIs(t, ins.SetProperty("ipv6", "maybe"), ErrInvalidProperty)
	assert.False(t, ins.Host.IPv6)
}

func TestSetPropertyKeepsOrderAndDuplicates(t *testing.T) {
	ins := newBareInstance(t, newFakeLoop())

	require.NoError(t, ins.SetProperty("path", "/var/log/a.log"))
	require.NoError(t, ins.SetProperty("refresh", "5"))
	require.NoError(t, ins.SetProperty("path", "/var/log/b.log"))

	assert.Equal(t, []Property{
		{Key: "path", Value: "/var/log/a.log"},
		{Key: "refresh", Value: "5"},
		{Key: "path", Value: "/var/log/b.log"},
	}, ins.Properties())

	got, ok := ins.GetProperty("PATH")
	require.True(t, ok)
	assert.Equal(t, "/var/log/a.log", got, "first match wins")

	_, ok = ins.GetProperty("missing")
	assert.False(t, ok)
}

func TestSetPropertyTranslatesEnvironment(t *testing.T) {
	tr := env.NewTranslator()
	tr.Set("SLUICE_TAG", "prod.syslog")
	r := New(newFakeLoop(), tr, nil, quietLogger())
	r.Register(&fakePlugin{name: "dummy"})
	ins, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)

	require.NoError(t, ins.SetProperty("tag", "${SLUICE_TAG}"))
	assert.Equal(t, "prod.syslog", ins.Tag())

	// A value translating to empty means the property was never set.
	require.NoError(t, ins.SetProperty("tag", "${SLUICE_UNSET}"))
	assert.Equal(t, "prod.syslog", ins.Tag())
	require.NoError(t, ins.SetProperty("whatever", "${SLUICE_UNSET}"))
	assert.Empty(t, ins.Properties())
}

func TestAppendFeedsDefaultBuffer(t *testing.T) {
	ins := newBareInstance(t, newFakeLoop())

	ins.Append([]byte("abc"), 2)
	ins.Append([]byte("de"), 1)
	assert.EqualValues(t, 5, ins.BufferTotal())
	assert.EqualValues(t, 3, ins.Metrics().Value(metrics.CounterRecords))
	assert.EqualValues(t, 5, ins.Metrics().Value(metrics.CounterBytes))

	data, n := ins.FlushDefault()
	assert.Equal(t, []byte("abcde"), data)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 0, ins.BufferTotal())

	data, n = ins.FlushDefault()
	assert.Nil(t, data)
	assert.Equal(t, 0, n)
}

func TestBufferLimitPausesInstance(t *testing.T) {
	loop := newFakeLoop()
	r := newTestRegistry(loop, nil)
	p := &pausablePlugin{fakePlugin: fakePlugin{name: "dummy"}}
	r.Register(p)
	ins, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	r.InitializeAll()

	_, err = ins.SetCollectorTime(noCollect, 1, 0)
	require.NoError(t, err)
	r.StartAll()
	require.NoError(t, ins.SetProperty("mem_buf_limit", "100"))

	ins.Append(bytes.Repeat([]byte("x"), 80), 1)
	assert.False(t, ins.Paused())

	ins.Append(bytes.Repeat([]byte("x"), 40), 1)
	assert.True(t, ins.Paused(), "crossing the limit pauses the instance")
	assert.Equal(t, 1, p.pauses)
	assert.False(t, ins.Collectors()[0].Running())

	// Draining alone does not resume; the engine decides that.
	ins.FlushDefault()
	assert.True(t, ins.Paused())

	ins.Resume()
	assert.False(t, ins.Paused())
	assert.True(t, ins.Collectors()[0].Running())
}

func TestBufferLimitAppliesToDyntags(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	p := &pausablePlugin{fakePlugin: fakePlugin{name: "dyn", caps: []Capability{CapDynamicTag}}}
	r.Register(p)
	ins, err := r.NewInstance("dyn", nil)
	require.NoError(t, err)
	r.InitializeAll()
	require.NoError(t, ins.SetProperty("mem_buf_limit", "64"))

	require.NoError(t, ins.DyntagAppendRaw("a", bytes.Repeat([]byte("x"), 65)))
	assert.True(t, ins.Paused())
	assert.Equal(t, 1, p.pauses)
}

func TestUnlimitedBufferNeverPauses(t *testing.T) {
	ins := newBareInstance(t, newFakeLoop())
	ins.Append(bytes.Repeat([]byte("x"), 1<<20), 1)
	assert.False(t, ins.Paused())
}
