package logstore

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/cardiotag/pkg/flash"
	"github.com/robotalks/cardiotag/pkg/telemetry"
)

func newHRStore(t *testing.T, segSize int64, segs int) *Store[telemetry.HeartRate] {
	s, err := New[telemetry.HeartRate](flash.NewMemFS(), Config{
		Name:         "hr",
		SegmentSize:  segSize,
		SegmentCount: segs,
	}, telemetry.HeartRateCodec{})
	require.NoError(t, err)
	require.NoError(t, s.Format())
	return s
}

func hr(i uint64) telemetry.HeartRate {
	return telemetry.HeartRate{Time: uint32(i), BPM: uint8(i % 200)}
}

func drain(t *testing.T, s *Store[telemetry.HeartRate]) []telemetry.HeartRate {
	var out []telemetry.HeartRate
	for {
		r, ok, err := s.TryTake()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func TestInvalidConfig(t *testing.T) {
	cases := []Config{
		{Name: "one", SegmentSize: 64, SegmentCount: 1},
		{Name: "tiny", SegmentSize: 4, SegmentCount: 4},
	}
	for _, cfg := range cases {
		t.Run(cfg.Name, func(t *testing.T) {
			_, err := New[telemetry.HeartRate](flash.NewMemFS(), cfg, telemetry.HeartRateCodec{})
			require.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestSegmentFiles(t *testing.T) {
	fs := flash.NewMemFS()
	_, err := New[telemetry.HeartRate](fs, Config{Name: "hr", SegmentSize: 64, SegmentCount: 3}, telemetry.HeartRateCodec{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"hr-00", "hr-01", "hr-02"}, fs.Names())
}

func TestFIFO(t *testing.T) {
	s := newHRStore(t, 64, 4)
	require.Equal(t, uint64(32), s.Capacity())

	_, ok, err := s.TryTake()
	require.NoError(t, err)
	require.False(t, ok)

	for i := uint64(0); i < 20; i++ {
		require.NoError(t, s.Append(hr(i)))
	}
	out := drain(t, s)
	require.Len(t, out, 20)
	for i, r := range out {
		require.Equal(t, hr(uint64(i)), r)
	}
	require.Equal(t, Pointers{Write: 20, Read: 20, Ack: 0}, s.Pointers())
	require.Equal(t, uint64(20), s.Unacked())
	s.AdvanceAck()
	require.Equal(t, uint64(0), s.Unacked())
}

func TestIsCaughtUp(t *testing.T) {
	s := newHRStore(t, 64, 4)
	require.True(t, s.IsCaughtUp())
	for i := uint64(0); i < 3; i++ {
		require.NoError(t, s.Append(hr(i)))
	}
	require.True(t, s.IsCaughtUp())
	require.NoError(t, s.Append(hr(3)))
	require.False(t, s.IsCaughtUp())
	_, _, err := s.TryTake()
	require.NoError(t, err)
	require.True(t, s.IsCaughtUp())
}

func TestRevertReadToAck(t *testing.T) {
	s := newHRStore(t, 64, 4)
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, s.Append(hr(i)))
	}
	require.Len(t, drain(t, s), 10)
	s.RevertReadToAck()
	s.RevertReadToAck()
	require.Equal(t, Pointers{Write: 10, Read: 0, Ack: 0}, s.Pointers())

	for i := uint64(0); i < 4; i++ {
		r, ok, err := s.TryTake()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, hr(i), r)
	}
	s.AdvanceAck()
	drain(t, s)
	s.RevertReadToAck()
	out := drain(t, s)
	require.Len(t, out, 6)
	require.Equal(t, hr(4), out[0])
	require.Equal(t, uint64(10+6), s.Stats().Reverted)
}

func TestPointerInvariants(t *testing.T) {
	s := newHRStore(t, 64, 3)
	rnd := rand.New(rand.NewSource(7))
	var next uint64
	for n := 0; n < 5000; n++ {
		switch rnd.Intn(5) {
		case 0, 1:
			require.NoError(t, s.Append(hr(next)))
			next++
		case 2:
			_, _, err := s.TryTake()
			require.NoError(t, err)
		case 3:
			s.AdvanceAck()
		case 4:
			s.RevertReadToAck()
		}
		p := s.Pointers()
		require.True(t, p.Ack <= p.Read)
		require.True(t, p.Read <= p.Write)
		require.True(t, p.Write-p.Ack <= s.Capacity())
		require.Equal(t, p.Write-p.Read < DefaultLiveThreshold, s.IsCaughtUp())
	}
}

func TestNoOverwriteWhileAcked(t *testing.T) {
	s := newHRStore(t, 64, 3)
	var expected uint64
	for i := uint64(0); i < 1000; i++ {
		require.NoError(t, s.Append(hr(i)))
		if i%5 == 4 {
			for _, r := range drain(t, s) {
				require.Equal(t, hr(expected), r)
				expected++
			}
			s.AdvanceAck()
		}
	}
	require.Equal(t, uint64(1000), expected)
	require.Zero(t, s.Stats().Evicted)
}

func TestEvictionWithinReadSegment(t *testing.T) {
	// 8 slots per segment, 2 segments
	s := newHRStore(t, 64, 2)
	for i := uint64(0); i < 16; i++ {
		require.NoError(t, s.Append(hr(i)))
	}
	for i := 0; i < 3; i++ {
		_, _, err := s.TryTake()
		require.NoError(t, err)
	}
	// reusing segment 0 evicts indices 0..7, read follows ack
	require.NoError(t, s.Append(hr(16)))
	require.Equal(t, Pointers{Write: 17, Read: 8, Ack: 8}, s.Pointers())
	require.Equal(t, uint64(8), s.Stats().Evicted)

	out := drain(t, s)
	require.Len(t, out, 9)
	require.Equal(t, hr(8), out[0])
	require.Equal(t, hr(16), out[8])
}

func TestEvictionKeepsReadAhead(t *testing.T) {
	s := newHRStore(t, 64, 2)
	for i := uint64(0); i < 16; i++ {
		require.NoError(t, s.Append(hr(i)))
	}
	for i := 0; i < 12; i++ {
		_, _, err := s.TryTake()
		require.NoError(t, err)
	}
	require.NoError(t, s.Append(hr(16)))
	require.Equal(t, Pointers{Write: 17, Read: 12, Ack: 8}, s.Pointers())
}

func TestHeartRateGeometry(t *testing.T) {
	if testing.Short() {
		t.Skip("fills the full heart-rate log")
	}
	const segSize, segs = 128000, 11
	total := uint64(segSize/telemetry.HeartRateSlotSize*segs) + 5

	t.Run("no ack", func(t *testing.T) {
		s := newHRStore(t, segSize, segs)
		require.Equal(t, uint64(176000), s.Capacity())
		for i := uint64(0); i < total; i++ {
			require.NoError(t, s.Append(hr(i)))
		}
		// the first segment is evicted as a whole
		require.Equal(t, Pointers{Write: total, Read: 16000, Ack: 16000}, s.Pointers())
		require.Equal(t, uint64(16000), s.Stats().Evicted)
		out := drain(t, s)
		require.Len(t, out, int(total-16000))
		for i, r := range out {
			require.Equal(t, hr(uint64(i)+16000), r)
		}
	})

	t.Run("acked", func(t *testing.T) {
		s := newHRStore(t, segSize, segs)
		var i uint64
		for ; i < 20000; i++ {
			require.NoError(t, s.Append(hr(i)))
		}
		require.Len(t, drain(t, s), 20000)
		s.AdvanceAck()
		for ; i < total; i++ {
			require.NoError(t, s.Append(hr(i)))
		}
		require.Zero(t, s.Stats().Evicted)
		out := drain(t, s)
		require.Len(t, out, int(total-20000))
		require.Equal(t, hr(20000), out[0])
		require.Equal(t, hr(total-1), out[len(out)-1])
	})
}

func TestExcursionActiveSlots(t *testing.T) {
	codec := telemetry.ExcursionCodec{ActiveTime: true}
	s, err := New[telemetry.Excursion](flash.NewMemFS(), Config{
		Name:         "activity",
		SegmentSize:  128000,
		SegmentCount: 3,
	}, codec)
	require.NoError(t, err)
	require.NoError(t, s.Format())
	require.Equal(t, uint64(12800), s.SlotsPerSegment())

	rec := telemetry.Excursion{Start: 1000, Offset: 20, Steps: 3, ActiveSeconds: 20}
	require.NoError(t, s.Append(rec))
	r, ok, err := s.TryTake()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, r)

	raw, err := s.Peek(0)
	require.NoError(t, err)
	require.Equal(t, rec, raw)
	erased, err := s.Peek(1)
	require.NoError(t, err)
	require.Equal(t, uint32(0xffffffff), erased.Start)
	_, err = s.Peek(s.Capacity())
	require.True(t, errors.Is(err, flash.ErrOutOfRange))
}

func TestDirBacked(t *testing.T) {
	fs, err := flash.NewDirFS(t.TempDir())
	require.NoError(t, err)
	s, err := New[telemetry.HeartRate](fs, Config{Name: "hr", SegmentSize: 64, SegmentCount: 2}, telemetry.HeartRateCodec{})
	require.NoError(t, err)
	require.NoError(t, s.Format())
	for i := uint64(0); i < 20; i++ {
		require.NoError(t, s.Append(hr(i)))
	}
	out := drain(t, s)
	require.Len(t, out, 12)
	require.Equal(t, hr(8), out[0])
	require.NoError(t, s.Close())
}
