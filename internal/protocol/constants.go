package protocol

type MessageType uint16

const (
	MsgNickname       MessageType = 0x0001
	MsgRequestDevices MessageType = 0x0010
	MsgDevicesList    MessageType = 0x0011
	MsgNewDevice      MessageType = 0x0012
	MsgDeviceLeft     MessageType = 0x0013
	MsgHeartbeat      MessageType = 0x0020
	MsgFileMeta       MessageType = 0x0030
	MsgFileChunk      MessageType = 0x0031
	MsgFileComplete   MessageType = 0x0032
	MsgFileCancelled  MessageType = 0x0033
	MsgChat           MessageType = 0x0040
)

func (t MessageType) String() string {
	switch t {
	case MsgNickname:
		return "nickname"
	case MsgRequestDevices:
		return "request-devices"
	case MsgDevicesList:
		return "devices-list"
	case MsgNewDevice:
		return "new-device"
	case MsgDeviceLeft:
		return "device-left"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgFileMeta:
		return "file-meta"
	case MsgFileChunk:
		return "file-chunk"
	case MsgFileComplete:
		return "file-complete"
	case MsgFileCancelled:
		return "file-cancelled"
	case MsgChat:
		return "message"
	default:
		return "unknown"
	}
}
