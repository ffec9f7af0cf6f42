package link

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/cardiotag/pkg/telemetry"
)

func TestSeq(t *testing.T) {
	for s := byte(0xff); s >= byte(0xf0); s-- {
		require.False(t, Seq(s).IsValid())
		require.Equal(t, Seq(1), Seq(s).Next())
	}
	for s := byte(1); s < byte(0xf0); s++ {
		require.True(t, Seq(s).IsValid())
		if s+1 < 0xf0 {
			require.Equal(t, Seq(s+1), Seq(s).Next())
		} else {
			require.Equal(t, Seq(1), Seq(s).Next())
		}
	}
	require.False(t, Seq(0).IsValid())
	require.True(t, NewSeq().IsValid())
}

func TestFrame(t *testing.T) {
	testCases := []struct {
		name   string
		frame  Frame
		expect []byte
	}{
		{"time request", Frame{Seq: 1, Channel: telemetry.ChannelCheckin}, []byte{1, 0x06}},
		{"steps", Frame{Seq: 2, Channel: telemetry.ChannelSteps, Data: []byte{0, 9}}, []byte{2, 0x25, 0, 9}},
		{"heart rate", Frame{Seq: 3, Channel: telemetry.ChannelHeartRate, Data: []byte{1, 2, 3, 4, 72}},
			[]byte{3, 0x51, 1, 2, 3, 4, 72}},
		{"batch", Frame{Seq: 4, Channel: telemetry.ChannelHeartRateBatch, Data: make([]byte, 20)},
			append([]byte{4, 0x72, 20}, make([]byte, 20)...)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, tc.frame.Bytes())
			var buf bytes.Buffer
			n, err := tc.frame.WriteTo(&buf)
			require.NoError(t, err)
			require.Equal(t, tc.expect, buf.Bytes())
			require.Equal(t, int64(len(tc.expect)), n)
		})
	}

	f := Frame{Seq: 1, Channel: telemetry.ChannelECGBlock, Data: make([]byte, MaxPayload+1)}
	_, err := f.WriteTo(&bytes.Buffer{})
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

type parserStep struct {
	in     []byte
	expect Result
	final  Result
}

type parserScript struct {
	steps []parserStep
}

func script() *parserScript {
	return &parserScript{}
}

func (s *parserScript) on(state State, in ...byte) *parserScript {
	st := parserStep{in: in, expect: Result{State: state}}
	st.final = st.expect
	s.steps = append(s.steps, st)
	return s
}

func (s *parserScript) onSyncing(in ...byte) *parserScript {
	return s.on(StateSyncing|StateReceiving, in...)
}

func (s *parserScript) onReceiving(in ...byte) *parserScript {
	return s.on(StateReady|StateReceiving, in...)
}

func (s *parserScript) timeout() *parserScript {
	s.steps = append(s.steps, parserStep{})
	return s
}

func (s *parserScript) final(r Result) *parserScript {
	s.steps[len(s.steps)-1].final = r
	return s
}

func (s *parserScript) synced() *parserScript {
	return s.final(Result{State: StateReady})
}

func (s *parserScript) syncedWithAck() *parserScript {
	return s.final(Result{Sync: syncACK, State: StateReady})
}

func (s *parserScript) frame(seq byte, ch telemetry.Channel, data ...byte) *parserScript {
	return s.final(Result{State: StateReady, Frame: &Frame{Seq: Seq(seq), Channel: ch, Data: data}})
}

func (s *parserScript) resync() *parserScript {
	return s.final(Result{Sync: syncREQ, State: StateSyncing})
}

// withoutTimer drops the timer hint which has its own test.
func withoutTimer(r Result) Result {
	r.Rearm = false
	return r
}

func TestParser(t *testing.T) {
	testCases := []struct {
		name  string
		steps []parserStep
	}{
		{
			name: "sync and receive",
			steps: script().
				onSyncing(syncACK, 1).synced().
				onReceiving(1, 0x06).frame(1, telemetry.ChannelCheckin).
				onReceiving(2, 0x76, 0).frame(2, telemetry.ChannelCheckin).
				onReceiving(3, 0x25, 0, 7).frame(3, telemetry.ChannelSteps, 0, 7).
				onReceiving(4, 0x73, 0x08, 1, 2, 3, 4, 5, 6, 7, 8).frame(4, telemetry.ChannelECGBlock, 1, 2, 3, 4, 5, 6, 7, 8).
				steps,
		},
		{
			name: "sync timeout",
			steps: script().
				timeout().resync().
				onSyncing(syncACK).
				timeout().resync().
				steps,
		},
		{
			name: "sync skips noise",
			steps: script().
				on(StateSyncing, 1, 2, 3, 4, 0x80, 0x81, 0xf0, 0xf1).
				onSyncing(syncACK, 1).synced().
				steps,
		},
		{
			name: "request while syncing",
			steps: script().
				onSyncing(syncREQ, 1).syncedWithAck().
				steps,
		},
		{
			name: "request with invalid seq",
			steps: script().
				onSyncing(syncREQ, syncREQ).resync().
				onSyncing(syncACK, 1).synced().
				steps,
		},
		{
			name: "request after sync",
			steps: script().
				onSyncing(syncACK, 1).synced().
				onSyncing(syncREQ, 5).syncedWithAck().
				onReceiving(5, 0x01).frame(5, telemetry.ChannelHeartRate).
				steps,
		},
		{
			name: "late ack after sync",
			steps: script().
				onSyncing(syncACK, 1).synced().
				onReceiving(syncACK, 1).synced().
				onReceiving(1, 0x05).frame(1, telemetry.ChannelSteps).
				steps,
		},
		{
			name: "late ack with wrong seq",
			steps: script().
				onSyncing(syncACK, 1).synced().
				onReceiving(syncACK, 2).resync().
				onSyncing(syncACK, 2).synced().
				steps,
		},
		{
			name: "unexpected seq",
			steps: script().
				onSyncing(syncACK, 1).synced().
				onReceiving(1, 0x06).frame(1, telemetry.ChannelCheckin).
				onSyncing(1).resync().
				on(StateSyncing, 0x95, 3).
				onSyncing(syncACK, 3).synced().
				steps,
		},
		{
			name: "oversized length",
			steps: script().
				onSyncing(syncACK, 1).synced().
				onReceiving(1, 0x70, 0x80).resync().
				steps,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var p Parser
			for n, st := range tc.steps {
				var r Result
				if len(st.in) == 0 {
					r = p.Timeout()
				} else {
					for i, b := range st.in {
						r = p.Feed(b)
						if i+1 < len(st.in) {
							require.Equalf(t, st.expect, withoutTimer(r), "steps[%d][%d]", n, i)
						}
					}
				}
				require.Equalf(t, st.final, withoutTimer(r), "steps[%d] final", n)
			}
		})
	}
}

func TestParserTimer(t *testing.T) {
	var p Parser
	r := p.Reset()
	require.Equal(t, syncREQ, r.Sync)
	require.Equal(t, StateSyncing, r.State)
	require.True(t, r.Rearm)

	r = p.Feed(syncACK)
	require.True(t, r.Rearm)
	r = p.Feed(1)
	require.False(t, r.Rearm)
	require.True(t, r.State.IsReady())

	// idle link ignores the timer
	r = p.Timeout()
	require.Equal(t, Result{State: StateReady}, r)

	r = p.Feed(1)
	require.True(t, r.Rearm)
	r = p.Timeout()
	require.Equal(t, syncREQ, r.Sync)
	require.True(t, r.Rearm)
}

func TestState(t *testing.T) {
	require.False(t, StateSyncing.IsReady())
	require.False(t, StateSyncing.IsReceiving())
	require.True(t, StateReady.IsReady())
	require.False(t, StateReady.IsReceiving())
	require.True(t, (StateReady | StateReceiving).IsReady())
	require.True(t, (StateReady | StateReceiving).IsReceiving())
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "syncing", StateSyncing.String())
}
