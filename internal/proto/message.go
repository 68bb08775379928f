package proto

import "time"

// Protocol constants shared by client and server.
const (
	ProtocolVersion = "1.0"

	MaxMessageLength  = 1024
	MaxNicknameLength = 32
	MaxChannelLength  = 32

	// MaxEnvelopeSize bounds one encoded envelope line, newline excluded.
	MaxEnvelopeSize = 64 * 1024

	// DefaultChannel is joined by a JOIN without arguments.
	DefaultChannel = "#general"
)

// Kind discriminates the three envelope variants on the wire.
type Kind string

const (
	KindCommand  Kind = "command"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// CommandType names a client request.
type CommandType string

const (
	CommandConnect CommandType = "CONNECT"
	CommandNick    CommandType = "NICK"
	CommandList    CommandType = "LIST"
	CommandJoin    CommandType = "JOIN"
	CommandLeave   CommandType = "LEAVE"
	CommandMessage CommandType = "MESSAGE"
	CommandQuit    CommandType = "QUIT"
	CommandHelp    CommandType = "HELP"
)

// EventType names a server notification.
type EventType string

const (
	EventUserJoined       EventType = "USER_JOINED"
	EventUserLeft         EventType = "USER_LEFT"
	EventMessageBroadcast EventType = "MESSAGE_BROADCAST"
	EventChannelCreated   EventType = "CHANNEL_CREATED"
	EventChannelDeleted   EventType = "CHANNEL_DELETED"
	EventNickChanged      EventType = "NICK_CHANGED"
)

// ResponseType names the shape of a reply to the originating client.
type ResponseType string

const (
	ResponseSuccess     ResponseType = "SUCCESS"
	ResponseError       ResponseType = "ERROR"
	ResponseChannelList ResponseType = "CHANNEL_LIST"
	ResponseHelpText    ResponseType = "HELP_TEXT"
)

// ErrorCode classifies a failed request. The zero value means "no code".
type ErrorCode string

const (
	ErrInvalidCommand   ErrorCode = "INVALID_COMMAND"
	ErrNicknameInUse    ErrorCode = "NICKNAME_IN_USE"
	ErrChannelNotFound  ErrorCode = "CHANNEL_NOT_FOUND"
	ErrNotInChannel     ErrorCode = "NOT_IN_CHANNEL"
	ErrAlreadyInChannel ErrorCode = "ALREADY_IN_CHANNEL"
	ErrServerFull       ErrorCode = "SERVER_FULL"
	ErrConnectionError  ErrorCode = "CONNECTION_ERROR"
)

var commandTypes = map[CommandType]struct{}{
	CommandConnect: {}, CommandNick: {}, CommandList: {}, CommandJoin: {},
	CommandLeave: {}, CommandMessage: {}, CommandQuit: {}, CommandHelp: {},
}

var eventTypes = map[EventType]struct{}{
	EventUserJoined: {}, EventUserLeft: {}, EventMessageBroadcast: {},
	EventChannelCreated: {}, EventChannelDeleted: {}, EventNickChanged: {},
}

var responseTypes = map[ResponseType]struct{}{
	ResponseSuccess: {}, ResponseError: {}, ResponseChannelList: {}, ResponseHelpText: {},
}

var errorCodes = map[ErrorCode]struct{}{
	ErrInvalidCommand: {}, ErrNicknameInUse: {}, ErrChannelNotFound: {}, ErrNotInChannel: {},
	ErrAlreadyInChannel: {}, ErrServerFull: {}, ErrConnectionError: {},
}

// Valid reports whether t is a known command tag.
func (t CommandType) Valid() bool {
	_, ok := commandTypes[t]
	return ok
}

// Valid reports whether t is a known event tag.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Valid reports whether t is a known response tag.
func (t ResponseType) Valid() bool {
	_, ok := responseTypes[t]
	return ok
}

// Valid reports whether c is a known error code. The empty code is not valid.
func (c ErrorCode) Valid() bool {
	_, ok := errorCodes[c]
	return ok
}

// Envelope is one protocol message: a Command, Response or Event.
type Envelope interface {
	Kind() Kind
	Time() float64
}

// Command is sent by a client.
type Command struct {
	Type      CommandType
	Params    []string
	Timestamp float64
}

// Response answers the command of the originating client.
type Response struct {
	Type      ResponseType
	Success   bool
	Message   string
	ErrorCode ErrorCode
	Data      ResponseData
	Timestamp float64
}

// Event notifies one or more clients about a state change.
type Event struct {
	Type      EventType
	Data      EventData
	Timestamp float64
}

func (Command) Kind() Kind  { return KindCommand }
func (Response) Kind() Kind { return KindResponse }
func (Event) Kind() Kind    { return KindEvent }

func (c Command) Time() float64  { return c.Timestamp }
func (r Response) Time() float64 { return r.Timestamp }
func (e Event) Time() float64    { return e.Timestamp }

// ResponseData is the closed set of response payloads.
type ResponseData interface{ responseData() }

// EventData is the closed set of event payloads.
type EventData interface{ eventData() }

// ResultData accompanies SUCCESS responses.
type ResultData struct {
	Nickname    string `json:"nickname,omitempty"`
	Channel     string `json:"channel,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
	Created     bool   `json:"created,omitempty"`
}

// ChannelInfo is one row of a channel listing.
type ChannelInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// ChannelListData accompanies CHANNEL_LIST responses.
type ChannelListData struct {
	Channels []ChannelInfo `json:"channels"`
}

// CommandDoc documents one command in the help catalog.
type CommandDoc struct {
	Name        CommandType `json:"name"`
	Usage       string      `json:"usage"`
	Description string      `json:"description"`
}

// HelpData accompanies HELP_TEXT responses.
type HelpData struct {
	Version  string       `json:"version"`
	Commands []CommandDoc `json:"commands"`
}

// MembershipData accompanies USER_JOINED and USER_LEFT.
type MembershipData struct {
	Channel     string `json:"channel"`
	Nickname    string `json:"nickname"`
	MemberCount int    `json:"member_count"`
}

// MessageData accompanies MESSAGE_BROADCAST.
type MessageData struct {
	Channel  string  `json:"channel"`
	Nickname string  `json:"nickname"`
	Text     string  `json:"text"`
	SentAt   float64 `json:"sent_at"`
}

// ChannelData accompanies CHANNEL_CREATED and CHANNEL_DELETED.
type ChannelData struct {
	Channel string `json:"channel"`
}

// NickChangeData accompanies NICK_CHANGED.
type NickChangeData struct {
	Channel     string `json:"channel"`
	OldNickname string `json:"old_nickname"`
	Nickname    string `json:"nickname"`
}

func (ResultData) responseData()      {}
func (ChannelListData) responseData() {}
func (HelpData) responseData()        {}

func (MembershipData) eventData() {}
func (MessageData) eventData()    {}
func (ChannelData) eventData()    {}
func (NickChangeData) eventData() {}

// Timestamp converts t to fractional seconds since the epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Now returns the current time as an envelope timestamp.
func Now() float64 {
	return Timestamp(time.Now())
}

// NewCommand builds a command stamped with the current time.
func NewCommand(t CommandType, params ...string) Command {
	if len(params) == 0 {
		params = nil
	}
	return Command{Type: t, Params: params, Timestamp: Now()}
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, data EventData) Event {
	return Event{Type: t, Data: data, Timestamp: Now()}
}

// Success builds a SUCCESS response.
func Success(message string, data *ResultData) Response {
	r := Response{Type: ResponseSuccess, Success: true, Message: message, Timestamp: Now()}
	if data != nil {
		r.Data = *data
	}
	return r
}

// Failure builds an ERROR response. code may be empty for internal failures.
func Failure(code ErrorCode, message string) Response {
	return Response{Type: ResponseError, Message: message, ErrorCode: code, Timestamp: Now()}
}

// ChannelList builds a CHANNEL_LIST response.
func ChannelList(channels []ChannelInfo) Response {
	return Response{
		Type:      ResponseChannelList,
		Success:   true,
		Message:   "Channel list",
		Data:      ChannelListData{Channels: channels},
		Timestamp: Now(),
	}
}

// HelpText builds a HELP_TEXT response.
func HelpText(help HelpData) Response {
	return Response{Type: ResponseHelpText, Success: true, Message: "Available commands", Data: help, Timestamp: Now()}
}
