// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "fmt"

// ProtocolVersion is carried in InitRequest and InitResponse.
const ProtocolVersion = 1

// Role names reported in InitResponse.
const (
	RoleClientDaemon = "client-daemon"
	RoleServerDaemon = "server-daemon"
)

// MessageType is the discriminant in the first position of every
// encoded message.
type MessageType uint64

const (
	TypeInitRequest     MessageType = 1
	TypeInitResponse    MessageType = 2
	TypeIndexRequest    MessageType = 3
	TypeIndexResponse   MessageType = 4
	TypeLsRequest       MessageType = 5
	TypeLsResponse      MessageType = 6
	TypeShellRequest    MessageType = 7
	TypeShellResponse   MessageType = 8
	TypeExitRequest     MessageType = 9
	TypeExitResponse    MessageType = 10
	TypeErrorResponse   MessageType = 11
	TypePayloadRequest  MessageType = 12
	TypePayloadResponse MessageType = 13
	TypeGetFileRequest  MessageType = 14
	TypeGetFileResponse MessageType = 15
)

var typeNames = map[MessageType]string{
	TypeInitRequest:     "InitRequest",
	TypeInitResponse:    "InitResponse",
	TypeIndexRequest:    "IndexRequest",
	TypeIndexResponse:   "IndexResponse",
	TypeLsRequest:       "LsRequest",
	TypeLsResponse:      "LsResponse",
	TypeShellRequest:    "ShellRequest",
	TypeShellResponse:   "ShellResponse",
	TypeExitRequest:     "ExitRequest",
	TypeExitResponse:    "ExitResponse",
	TypeErrorResponse:   "ErrorResponse",
	TypePayloadRequest:  "PayloadRequest",
	TypePayloadResponse: "PayloadResponse",
	TypeGetFileRequest:  "GetFileRequest",
	TypeGetFileResponse: "GetFileResponse",
}

// Known reports whether t is in the discriminant table.
func (t MessageType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint64(t))
}

// Message is implemented by pointers to the wire structs below. The
// unexported method keeps the set closed to this package.
type Message interface {
	// MessageType returns the discriminant assigned to the concrete
	// type, independent of what the Type field currently holds.
	MessageType() MessageType

	// tag points at the Type field so Encode can stamp it and Decode
	// can check it.
	tag() *MessageType
}

// New returns a zero message of the given type.
func New(t MessageType) (Message, error) {
	switch t {
	case TypeInitRequest:
		return &InitRequest{}, nil
	case TypeInitResponse:
		return &InitResponse{}, nil
	case TypeIndexRequest:
		return &IndexRequest{}, nil
	case TypeIndexResponse:
		return &IndexResponse{}, nil
	case TypeLsRequest:
		return &LsRequest{}, nil
	case TypeLsResponse:
		return &LsResponse{}, nil
	case TypeShellRequest:
		return &ShellRequest{}, nil
	case TypeShellResponse:
		return &ShellResponse{}, nil
	case TypeExitRequest:
		return &ExitRequest{}, nil
	case TypeExitResponse:
		return &ExitResponse{}, nil
	case TypeErrorResponse:
		return &ErrorResponse{}, nil
	case TypePayloadRequest:
		return &PayloadRequest{}, nil
	case TypePayloadResponse:
		return &PayloadResponse{}, nil
	case TypeGetFileRequest:
		return &GetFileRequest{}, nil
	case TypeGetFileResponse:
		return &GetFileResponse{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedMessageType, uint64(t))
}

// InitRequest opens a session with a daemon and checks protocol
// compatibility. The client daemon sends it through the tunnel right
// after the tunnel comes up.
type InitRequest struct {
	_         struct{} `cbor:",toarray"`
	Type      MessageType
	Version   uint64
	Workspace string
}

// InitResponse reports the responder's role and the workspace it
// serves. IndexHash is the last index hash the responder knows of, or
// zero.
type InitResponse struct {
	_         struct{} `cbor:",toarray"`
	Type      MessageType
	Version   uint64
	Role      string
	Workspace string
	IndexHash uint64
}

// IndexRequest asks for the workspace file index. PrevHash is the hash
// the caller already holds; IndexPath is the directory (relative to the
// workspace root, empty for the root itself) to index.
type IndexRequest struct {
	_         struct{} `cbor:",toarray"`
	Type      MessageType
	PrevHash  uint64
	IndexPath string
}

// IndexResponse names the index file written by the responder. Changed
// is false when Hash equals the request's PrevHash.
type IndexResponse struct {
	_         struct{} `cbor:",toarray"`
	Type      MessageType
	Hash      uint64
	IndexFile string
	Changed   bool
	FileCount uint64
}

// LsRequest asks for the entries of one directory.
type LsRequest struct {
	_        struct{} `cbor:",toarray"`
	Type     MessageType
	LsPath   string
	PrevHash uint64
}

// LsResponse lists a directory. Entries is nil when Changed is false,
// since the requester already holds them.
type LsResponse struct {
	_       struct{} `cbor:",toarray"`
	Type    MessageType
	Hash    uint64
	Entries []string
	Changed bool
}

// ShellRequest runs Args through the shell in Directory. On the
// loopback channel, Remote asks the client daemon to forward the
// request through the tunnel instead of running it locally.
type ShellRequest struct {
	_         struct{} `cbor:",toarray"`
	Type      MessageType
	Directory string
	Args      []string
	Remote    bool
}

// ShellResponse carries the command's exit status and captured output.
type ShellResponse struct {
	_      struct{} `cbor:",toarray"`
	Type   MessageType
	Status int64
	Stdout []byte
	Stderr []byte
}

// GetFileRequest fetches one file from the workspace. FilePath is
// relative to the workspace root, or absolute within it.
type GetFileRequest struct {
	_        struct{} `cbor:",toarray"`
	Type     MessageType
	FilePath string
	PrevHash uint64
}

// GetFileResponse carries a file's contents. Contents is nil when
// Changed is false. Files that do not fit in one message are refused.
type GetFileResponse struct {
	_        struct{} `cbor:",toarray"`
	Type     MessageType
	FilePath string
	Hash     uint64
	Contents []byte
	Changed  bool
	Mode     uint32
}

// ExitRequest asks a daemon to shut down cleanly.
type ExitRequest struct {
	_    struct{} `cbor:",toarray"`
	Type MessageType
}

// ExitResponse acknowledges an ExitRequest. The daemon begins shutdown
// after writing it.
type ExitResponse struct {
	_      struct{} `cbor:",toarray"`
	Type   MessageType
	Status int64
}

// ErrorResponse reports a handler failure. Protocol failures (bad
// framing, unknown types) get no response at all.
type ErrorResponse struct {
	_       struct{} `cbor:",toarray"`
	Type    MessageType
	Message string
}

// PayloadRequest wraps a command for the client daemon's loopback
// channel. Body is a complete encoded message whose discriminant equals
// Command.
type PayloadRequest struct {
	_       struct{} `cbor:",toarray"`
	Type    MessageType
	Command MessageType
	Body    []byte
}

// PayloadResponse wraps the reply to a PayloadRequest the same way.
type PayloadResponse struct {
	_       struct{} `cbor:",toarray"`
	Type    MessageType
	Command MessageType
	Body    []byte
}

func (*InitRequest) MessageType() MessageType     { return TypeInitRequest }
func (*InitResponse) MessageType() MessageType    { return TypeInitResponse }
func (*IndexRequest) MessageType() MessageType    { return TypeIndexRequest }
func (*IndexResponse) MessageType() MessageType   { return TypeIndexResponse }
func (*LsRequest) MessageType() MessageType       { return TypeLsRequest }
func (*LsResponse) MessageType() MessageType      { return TypeLsResponse }
func (*ShellRequest) MessageType() MessageType    { return TypeShellRequest }
func (*ShellResponse) MessageType() MessageType   { return TypeShellResponse }
func (*ExitRequest) MessageType() MessageType     { return TypeExitRequest }
func (*ExitResponse) MessageType() MessageType    { return TypeExitResponse }
func (*ErrorResponse) MessageType() MessageType   { return TypeErrorResponse }
func (*PayloadRequest) MessageType() MessageType  { return TypePayloadRequest }
func (*PayloadResponse) MessageType() MessageType { return TypePayloadResponse }
func (*GetFileRequest) MessageType() MessageType  { return TypeGetFileRequest }
func (*GetFileResponse) MessageType() MessageType { return TypeGetFileResponse }

func (m *InitRequest) tag() *MessageType     { return &m.Type }
func (m *InitResponse) tag() *MessageType    { return &m.Type }
func (m *IndexRequest) tag() *MessageType    { return &m.Type }
func (m *IndexResponse) tag() *MessageType   { return &m.Type }
func (m *LsRequest) tag() *MessageType       { return &m.Type }
func (m *LsResponse) tag() *MessageType      { return &m.Type }
func (m *ShellRequest) tag() *MessageType    { return &m.Type }
func (m *ShellResponse) tag() *MessageType   { return &m.Type }
func (m *ExitRequest) tag() *MessageType     { return &m.Type }
func (m *ExitResponse) tag() *MessageType    { return &m.Type }
func (m *ErrorResponse) tag() *MessageType   { return &m.Type }
func (m *PayloadRequest) tag() *MessageType  { return &m.Type }
func (m *PayloadResponse) tag() *MessageType { return &m.Type }
func (m *GetFileRequest) tag() *MessageType  { return &m.Type }
func (m *GetFileResponse) tag() *MessageType { return &m.Type }
