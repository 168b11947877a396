package protocol

// Message is one row of the data-channel wire taxonomy. Receivers switch on
// the concrete pointer type.
type Message interface {
	Type() MessageType
}

type DeviceInfo struct {
	ID       string
	Nickname string
}

type Nickname struct {
	Nickname string
	From     string
}

func (Nickname) Type() MessageType { return MsgNickname }

type RequestDevices struct {
	From string
}

func (RequestDevices) Type() MessageType { return MsgRequestDevices }

type DevicesList struct {
	Devices []DeviceInfo
}

func (DevicesList) Type() MessageType { return MsgDevicesList }

type NewDevice struct {
	DeviceID        string
	Nickname        string
	ExistingDevices []DeviceInfo
}

func (NewDevice) Type() MessageType { return MsgNewDevice }

type DeviceLeft struct {
	DeviceID string
	Nickname string
}

func (DeviceLeft) Type() MessageType { return MsgDeviceLeft }

type Heartbeat struct {
	Time int64
}

func (Heartbeat) Type() MessageType { return MsgHeartbeat }

type FileMeta struct {
	TransferID     string
	FileName       string
	FileSize       int64
	TotalChunks    int
	SenderNickname string
}

func (FileMeta) Type() MessageType { return MsgFileMeta }

type FileChunk struct {
	TransferID  string
	ChunkIndex  int
	Chunk       []byte
	TotalChunks int
}

func (FileChunk) Type() MessageType { return MsgFileChunk }

type FileComplete struct {
	TransferID string
	FileSize   int64
}

func (FileComplete) Type() MessageType { return MsgFileComplete }

type FileCancelled struct {
	TransferID string
	FileName   string
}

func (FileCancelled) Type() MessageType { return MsgFileCancelled }

// Chat is the "message" row: free text addressed to everyone or a subset.
type Chat struct {
	Content        string
	SenderNickname string
	Time           int64
}

func (Chat) Type() MessageType { return MsgChat }
