// Package cardio contains the messages published by the companion. They
// mirror cardio.proto.
package cardio

import (
	"github.com/golang/protobuf/proto"
)

// HeartRate is an averaged reading.
type HeartRate struct {
	DeviceID   string `protobuf:"bytes,1,opt,name=device_id,proto3" json:"device_id,omitempty"`
	Bpm        uint32 `protobuf:"varint,2,opt,name=bpm,proto3" json:"bpm,omitempty"`
	Time       uint32 `protobuf:"varint,3,opt,name=time,proto3" json:"time,omitempty"`
	ReceivedAt int64  `protobuf:"varint,4,opt,name=received_at,proto3" json:"received_at,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *HeartRate) ProtoMessage() {}

// Reset implements proto.Message.
func (m *HeartRate) Reset() { *m = HeartRate{} }

// String implements proto.Message.
func (m *HeartRate) String() string { return proto.CompactTextString(m) }

// Excursion is one bout of walking.
type Excursion struct {
	DeviceID      string `protobuf:"bytes,1,opt,name=device_id,proto3" json:"device_id,omitempty"`
	Start         uint32 `protobuf:"varint,2,opt,name=start,proto3" json:"start,omitempty"`
	Offset        uint32 `protobuf:"varint,3,opt,name=offset,proto3" json:"offset,omitempty"`
	Steps         uint32 `protobuf:"varint,4,opt,name=steps,proto3" json:"steps,omitempty"`
	ActiveSeconds uint32 `protobuf:"varint,5,opt,name=active_seconds,proto3" json:"active_seconds,omitempty"`
	ReceivedAt    int64  `protobuf:"varint,6,opt,name=received_at,proto3" json:"received_at,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Excursion) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Excursion) Reset() { *m = Excursion{} }

// String implements proto.Message.
func (m *Excursion) String() string { return proto.CompactTextString(m) }

// Steps is the live step count of the ongoing excursion.
type Steps struct {
	DeviceID   string `protobuf:"bytes,1,opt,name=device_id,proto3" json:"device_id,omitempty"`
	Count      uint32 `protobuf:"varint,2,opt,name=count,proto3" json:"count,omitempty"`
	ReceivedAt int64  `protobuf:"varint,3,opt,name=received_at,proto3" json:"received_at,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Steps) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Steps) Reset() { *m = Steps{} }

// String implements proto.Message.
func (m *Steps) String() string { return proto.CompactTextString(m) }

// ECGBlock carries raw samples scaled into bytes.
type ECGBlock struct {
	DeviceID   string `protobuf:"bytes,1,opt,name=device_id,proto3" json:"device_id,omitempty"`
	Samples    []byte `protobuf:"bytes,2,opt,name=samples,proto3" json:"samples,omitempty"`
	ReceivedAt int64  `protobuf:"varint,3,opt,name=received_at,proto3" json:"received_at,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *ECGBlock) ProtoMessage() {}

// Reset implements proto.Message.
func (m *ECGBlock) Reset() { *m = ECGBlock{} }

// String implements proto.Message.
func (m *ECGBlock) String() string { return proto.CompactTextString(m) }

// Topic suffixes, a topic is "<device>/<suffix>".
const (
	TopicHeartRate = "hr"
	TopicActivity  = "activity"
	TopicSteps     = "steps"
	TopicECG       = "ecg"
)

// Topic builds the topic of a device.
func Topic(deviceID, suffix string) string {
	return deviceID + "/" + suffix
}
