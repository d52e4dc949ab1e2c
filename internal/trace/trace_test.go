package trace

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RoundTripGroupsEqualTimes(t *testing.T) {
	st := newMemStore()
	tr := writeTrace(t, st, "a", 0, [][2]int64{{1, 10}, {1, 11}, {3, 12}, {7, 13}})

	r, err := tr.OpenReader(context.Background())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []batch{
		{Time: 1, Items: []int64{10, 11}},
		{Time: 3, Items: []int64{12}},
		{Time: 7, Items: []int64{13}},
	}, collect(t, r))
	assert.Equal(t, PriorityDefault, r.Priority())
}

func TestWriter_DerivesTimeMetadata(t *testing.T) {
	st := newMemStore()
	tr := writeTrace(t, st, "a", 0, [][2]int64{{1, 10}, {1, 11}, {3, 12}, {7, 13}})

	minTime, err := tr.MinTime()
	require.NoError(t, err)
	maxTime, err := tr.MaxTime()
	require.NoError(t, err)
	minUpdate, err := tr.MinUpdateInterval()
	require.NoError(t, err)
	maxUpdate, err := tr.MaxUpdateInterval()
	require.NoError(t, err)

	assert.Equal(t, int64(1), minTime)
	assert.Equal(t, int64(7), maxTime)
	assert.Equal(t, int64(2), minUpdate)
	assert.Equal(t, int64(4), maxUpdate)
	assert.Equal(t, "ints", tr.Type())
	assert.Equal(t, "a", tr.Name())
}

func TestWriter_ReordersWithinWindow(t *testing.T) {
	st := newMemStore()
	tr := writeTrace(t, st, "a", 5, [][2]int64{{10, 1}, {8, 2}, {12, 3}, {9, 4}, {20, 5}})

	r, err := tr.OpenReader(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []batch{
		{Time: 8, Items: []int64{2}},
		{Time: 9, Items: []int64{4}},
		{Time: 10, Items: []int64{1}},
		{Time: 12, Items: []int64{3}},
		{Time: 20, Items: []int64{5}},
	}, collect(t, r))
}

func TestWriter_RejectsEventsBehindWindow(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	w, err := New[int64](st, "a", "ints", intCodec{}).OpenWriter(ctx, WithWindow(5))
	require.NoError(t, err)

	for _, ev := range [][2]int64{{10, 1}, {8, 2}, {12, 3}, {9, 4}, {20, 5}} {
		require.NoError(t, w.Queue(ev[0], ev[1]))
	}
	// 12 is the newest emitted time, so the bound is 7.
	err = w.Queue(6, 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfOrderWrite))

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrCodeOutOfOrderWrite, te.Code)
	assert.Equal(t, "a", te.Trace)

	require.NoError(t, w.Queue(7, 7))
	require.NoError(t, w.Close(ctx))

	tr, err := Load[int64](ctx, st, "a", intCodec{})
	require.NoError(t, err)

	// The late event was emitted after 12; readers absorb the disorder.
	maxUpdate, err := tr.MaxUpdateInterval()
	require.NoError(t, err)
	assert.Equal(t, int64(8), maxUpdate)
	minTime, err := tr.MinTime()
	require.NoError(t, err)
	assert.Equal(t, int64(7), minTime)

	r, err := tr.OpenReader(ctx)
	require.NoError(t, err)
	var times []int64
	for _, b := range collect(t, r) {
		times = append(times, b.Time)
	}
	assert.Equal(t, []int64{7, 8, 9, 10, 12, 20}, times)
}

func TestWriter_EmptyTrace(t *testing.T) {
	st := newMemStore()
	tr := writeTrace(t, st, "empty", 0, nil)

	minTime, err := tr.MinTime()
	require.NoError(t, err)
	maxTime, err := tr.MaxTime()
	require.NoError(t, err)
	assert.Equal(t, int64(0), minTime)
	assert.Equal(t, int64(0), maxTime)

	r, err := tr.OpenReader(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestWriter_ExplicitTimeBoundsWin(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	w, err := New[int64](st, "a", "ints", intCodec{}).OpenWriter(ctx)
	require.NoError(t, err)

	w.SetIntProperty(KeyMinTime, 0)
	w.SetIntProperty(KeyMaxTime, 100)
	w.SetProperty(KeyDescription, "bounded")
	require.NoError(t, w.Queue(5, 1))
	require.NoError(t, w.Queue(9, 2))
	require.NoError(t, w.Close(ctx))

	tr, err := Load[int64](ctx, st, "a", intCodec{})
	require.NoError(t, err)
	minTime, _ := tr.MinTime()
	maxTime, _ := tr.MaxTime()
	maxUpdate, _ := tr.MaxUpdateInterval()
	assert.Equal(t, int64(0), minTime)
	assert.Equal(t, int64(100), maxTime)
	assert.Equal(t, int64(4), maxUpdate)
	assert.Equal(t, "bounded", tr.Description())
}

func TestNew_SeedsDefaultTimeUnit(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	w, err := New[int64](st, "a", "ints", intCodec{}).OpenWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Queue(1, 1))
	require.NoError(t, w.Close(ctx))

	tr, err := Load[int64](ctx, st, "a", intCodec{})
	require.NoError(t, err)
	unit, err := tr.TimeUnit()
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeUnit, unit)
	tps, err := tr.TicsPerSecond()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), tps)
}

func TestWriter_ClosedWriterRejectsUse(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	w, err := New[int64](st, "a", "ints", intCodec{}).OpenWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	assert.ErrorIs(t, w.Queue(1, 1), ErrClosed)
	assert.ErrorIs(t, w.Close(ctx), ErrClosed)
}

func TestWriter_NegativeWindow(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	_, err := New[int64](st, "a", "ints", intCodec{}).OpenWriter(ctx, WithWindow(-1))
	require.Error(t, err)

	// The reservation was released.
	_, err = New[int64](st, "a", "ints", intCodec{}).OpenWriter(ctx)
	require.NoError(t, err)
}

func TestOpenWriter_Reservation(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	tr := New[int64](st, "a", "ints", intCodec{})

	w1, err := tr.OpenWriter(ctx)
	require.NoError(t, err)
	_, err = tr.OpenWriter(ctx, Overwrite())
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, w1.Abort(ctx))
	names, err := st.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "aborted trace must not be visible")

	w2, err := tr.OpenWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w2.Close(ctx))

	_, err = tr.OpenWriter(ctx)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	w3, err := tr.OpenWriter(ctx, Overwrite())
	require.NoError(t, err)
	require.NoError(t, w3.Abort(ctx))
}

func TestLoad_NoSuchTrace(t *testing.T) {
	_, err := Load[int64](context.Background(), newMemStore(), "missing", intCodec{})
	assert.ErrorIs(t, err, ErrNoSuchTrace)
}

func TestReader_Offset(t *testing.T) {
	st := newMemStore()
	tr := writeTrace(t, st, "a", 0, [][2]int64{{1, 10}, {3, 12}, {7, 13}})

	r, err := tr.OpenReader(context.Background(), WithOffset(100), WithPriority(PriorityHighest))
	require.NoError(t, err)
	assert.Equal(t, PriorityHighest, r.Priority())

	require.NoError(t, r.Seek(102))
	assert.Equal(t, []batch{
		{Time: 103, Items: []int64{12}},
		{Time: 107, Items: []int64{13}},
	}, collect(t, r))
}

func TestReader_Seek(t *testing.T) {
	st := newMemStore()
	tr := writeTrace(t, st, "a", 0, [][2]int64{{1, 10}, {3, 12}, {7, 13}})
	r, err := tr.OpenReader(context.Background())
	require.NoError(t, err)
	defer r.Close()

	tests := []struct {
		name  string
		to    int64
		times []int64
	}{
		{"before start", -5, []int64{1, 3, 7}},
		{"between frames", 2, []int64{3, 7}},
		{"exact frame", 7, []int64{7}},
		{"past end", 100, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, r.Seek(tt.to))
			var times []int64
			for _, b := range collect(t, r) {
				times = append(times, b.Time)
			}
			assert.Equal(t, tt.times, times)
		})
	}
}

func TestReader_CloseIsIdempotent(t *testing.T) {
	st := newMemStore()
	tr := writeTrace(t, st, "a", 0, [][2]int64{{1, 10}})
	r, err := tr.OpenReader(context.Background())
	require.NoError(t, err)
	require.True(t, r.Next())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.False(t, r.Next())
	assert.ErrorIs(t, r.Err(), ErrClosed)
	assert.ErrorIs(t, r.Seek(0), ErrClosed)
}

func rawInfo() Info {
	var info Info
	info.Set(KeyName, "raw")
	info.Set(KeyType, "ints")
	info.SetInt(KeyDefaultPriority, int64(PriorityDefault))
	info.SetInt(KeyMinUpdateInterval, 0)
	info.SetInt(KeyMaxUpdateInterval, 0)
	info.SetInt(KeyMinTime, 0)
	info.SetInt(KeyMaxTime, 10)
	return info
}

func rawFrame(t int64, items ...[]byte) []byte {
	buf := binary.AppendVarint(nil, t)
	buf = binary.AppendUvarint(buf, uint64(len(items)))
	for _, item := range items {
		buf = binary.AppendUvarint(buf, uint64(len(item)))
		buf = append(buf, item...)
	}
	return buf
}

func TestReader_CorruptFrameReportsOffset(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	var stream bytes.Buffer
	stream.Write(streamHeader)
	stream.Write(rawFrame(1, []byte{0x0a}))
	// Frame at offset 9 claims five payload bytes but carries two.
	stream.Write([]byte{0x04, 0x01, 0x05, 0x01, 0x02})
	st.put("raw", rawInfo(), map[string][]byte{StreamEvents: stream.Bytes()})

	tr, err := Load[int64](ctx, st, "raw", intCodec{})
	require.NoError(t, err)
	r, err := tr.OpenReader(ctx)
	require.NoError(t, err)

	for r.Next() {
	}
	require.Error(t, r.Err())
	assert.ErrorIs(t, r.Err(), ErrCorruptTrace)
	offset, ok := IsCorrupt(r.Err())
	require.True(t, ok)
	assert.Equal(t, int64(9), offset)
}

func TestReader_UndecodablePayload(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	var stream bytes.Buffer
	stream.Write(streamHeader)
	stream.Write(rawFrame(1, []byte{0x80}))
	st.put("raw", rawInfo(), map[string][]byte{StreamEvents: stream.Bytes()})

	tr, err := Load[int64](ctx, st, "raw", intCodec{})
	require.NoError(t, err)
	r, err := tr.OpenReader(ctx)
	require.NoError(t, err)

	assert.False(t, r.Next())
	offset, ok := IsCorrupt(r.Err())
	require.True(t, ok)
	assert.Equal(t, int64(len(streamHeader)), offset)
}

func TestReader_BadHeader(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.put("raw", rawInfo(), map[string][]byte{StreamEvents: []byte("NOPE!")})

	tr, err := Load[int64](ctx, st, "raw", intCodec{})
	require.NoError(t, err)
	r, err := tr.OpenReader(ctx)
	require.NoError(t, err)

	assert.False(t, r.Next())
	assert.ErrorIs(t, r.Err(), ErrCorruptTrace)
}

func TestReader_SeekThroughDamageFails(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	var stream bytes.Buffer
	stream.Write(streamHeader)
	stream.Write([]byte{0x02, 0x01, 0x05, 0x01, 0x02})
	st.put("raw", rawInfo(), map[string][]byte{StreamEvents: stream.Bytes()})

	tr, err := Load[int64](ctx, st, "raw", intCodec{})
	require.NoError(t, err)
	r, err := tr.OpenReader(ctx)
	require.NoError(t, err)

	err = r.Seek(10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeekFailure)
	assert.False(t, r.Next())
}

func TestTrace_MalformedMetadata(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	info := rawInfo()
	info.Set(KeyMaxUpdateInterval, "soon")
	info.Delete(KeyMinTime)
	info.Set(KeyDefaultPriority, "-3")
	st.put("raw", info, nil)

	tr, err := Load[int64](ctx, st, "raw", intCodec{})
	require.NoError(t, err)

	_, err = tr.MinTime()
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrCodeMalformedMetadata, te.Code)
	assert.Equal(t, KeyMinTime, te.Key)

	_, err = tr.MaxUpdateInterval()
	assert.ErrorIs(t, err, ErrMalformedMetadata)

	_, err = tr.DefaultPriority()
	assert.ErrorIs(t, err, ErrMalformedMetadata)

	_, err = tr.OpenReader(ctx)
	assert.ErrorIs(t, err, ErrMalformedMetadata)

	// An explicit priority does not need the default.
	_, err = tr.OpenReader(ctx, WithPriority(PriorityDefault))
	assert.ErrorIs(t, err, ErrMalformedMetadata, "the read-ahead bound is still required")

	_, err = tr.TimeUnit()
	assert.ErrorIs(t, err, ErrMalformedMetadata)
}

func TestTrace_IDMap(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	info := rawInfo()
	st.put("plain", info.Clone(), nil)
	info.Set(KeyIDMap, `{"alice":0,"bob":1}`)
	st.put("mapped", info.Clone(), nil)
	info.Set(KeyIDMap, `[1,2]`)
	st.put("broken", info, nil)

	plain, err := Load[int64](ctx, st, "plain", intCodec{})
	require.NoError(t, err)
	m, err := plain.IDMap()
	require.NoError(t, err)
	assert.Nil(t, m)

	mapped, err := Load[int64](ctx, st, "mapped", intCodec{})
	require.NoError(t, err)
	m, err = mapped.IDMap()
	require.NoError(t, err)
	assert.Equal(t, "bob", m.ExternalID(1))

	broken, err := Load[int64](ctx, st, "broken", intCodec{})
	require.NoError(t, err)
	_, err = broken.IDMap()
	assert.ErrorIs(t, err, ErrMalformedMetadata)
}

func TestUpgradeLegacyInfo(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	info := rawInfo()
	info.Set(keyTicsPerSecond, "1000")
	st.put("legacy", info, nil)

	tr, err := Load[int64](ctx, st, "legacy", intCodec{})
	require.NoError(t, err)
	unit, err := tr.TimeUnit()
	require.NoError(t, err)
	assert.Equal(t, "ms", unit)
	tps, err := tr.TicsPerSecond()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), tps)
	_, ok := tr.Value(keyTicsPerSecond)
	assert.False(t, ok)

	st2, err := LoadStateful[int64, int64](ctx, st, "legacy", intCodec{}, intCodec{}, newSetUpdater)
	require.NoError(t, err)
	last, err := st2.LastSnapshotTime()
	require.NoError(t, err)
	assert.Equal(t, Infinity, last)
}

func TestUpgradeLegacyInfo_KeepsExplicitUnit(t *testing.T) {
	var info Info
	info.Set(KeyTimeUnit, "us")
	info.Set(keyTicsPerSecond, "1")

	got := upgradeLegacyInfo(info, Stateless)
	unit, _ := got.Get(KeyTimeUnit)
	assert.Equal(t, "us", unit)
	_, ok := got.Get(KeyLastSnapshotTime)
	assert.False(t, ok)
}

func TestInfo_JSON(t *testing.T) {
	var info Info
	info.Set(KeyName, "x")
	info.SetInt(KeyMinTime, -4)

	data, err := info.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"min time":"-4","name":"x"}`, string(data))

	var back Info
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, info.Map(), back.Map())
	assert.Equal(t, []string{"min time", "name"}, back.Keys())
}
