package model

import (
	"time"
)

type EventType string

const (
	EventTypeText     EventType = "text"
	EventTypeImage    EventType = "image"
	EventTypePostback EventType = "postback"
	EventTypeUnknown  EventType = "unknown"
)

// InboundMessage is a transport-neutral inbound event. The transport layer
// normalizes its own payload into this shape before handing it to the
// dispatcher.
type InboundMessage struct {
	UserID       string
	ChannelID    string
	Text         string
	EventType    EventType
	PostbackData string
	Timestamp    time.Time
}

// OutboundMessage is the reply emitted by the dispatcher. When ChannelID is
// empty the transport addresses the user directly.
type OutboundMessage struct {
	UserID    string
	ChannelID string
	Text      string
	Citations []Citation
}
