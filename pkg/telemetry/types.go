// Package telemetry defines the records produced on the device, how they are
// laid out in flash slots, and how they are encoded on the wireless link.
package telemetry

// HeartRate is an averaged heart-rate reading stamped with wall-clock time.
type HeartRate struct {
	// BPM is the averaged beats per minute.
	BPM uint8
	// Time is absolute time in epoch seconds.
	Time uint32
}

// Excursion is one continuous bout of walking activity.
type Excursion struct {
	// Start is absolute time in epoch seconds of the first step.
	Start uint32
	// Offset is the number of seconds from Start to the last step.
	Offset uint16
	// Steps counted during the excursion.
	Steps uint16
	// ActiveSeconds is only populated when active-time accounting is enabled.
	ActiveSeconds uint16
}

// Channel identifies a logical channel on the wireless link.
// The value is used as the frame code, so it must stay below 0x10.
type Channel byte

// Logical channels.
const (
	ChannelHeartRate      Channel = 0x01
	ChannelHeartRateBatch Channel = 0x02
	ChannelECGBlock       Channel = 0x03
	ChannelActivity       Channel = 0x04
	ChannelSteps          Channel = 0x05
	ChannelCheckin        Channel = 0x06
)

var channelNames = map[Channel]string{
	ChannelHeartRate:      "hr",
	ChannelHeartRateBatch: "hr-batch",
	ChannelECGBlock:       "ecg",
	ChannelActivity:       "activity",
	ChannelSteps:          "steps",
	ChannelCheckin:        "checkin",
}

// String implements fmt.Stringer.
func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return "unknown"
}

// Payload sizes of the logical channels.
const (
	HeartRateWireSize = 5
	BatchRecords      = 4
	BatchWireSize     = BatchRecords * HeartRateWireSize
	ECGBlockSize      = 20
	StepsWireSize     = 2
	CheckinSize       = 4
	CheckinReplySize  = CheckinSize + 1
	// CheckinReplyExtSize also carries the start of the newest excursion
	// the peer received.
	CheckinReplyExtSize = CheckinReplySize + 4
)

// Checkin reply status bytes appended by the peer.
const (
	CheckinGap      byte = 0
	CheckinCaughtUp byte = 1
)
