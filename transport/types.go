// Package transport defines the pull/push surface a sync controller uses to
// reach a server, plus an HTTP/JSON reference client and an in-process
// reference implementation for tests and single-process deployments.
package transport

import (
	"context"

	"github.com/hashledger/hashledger/chain"
)

// AuthTokenProvider mints a bearer token on demand. The core never inspects
// its contents.
type AuthTokenProvider func(ctx context.Context) (string, error)

// AppendChainLogRequest is the body of POST /self/logs/{db}.
type AppendChainLogRequest struct {
	Entry chain.PersonalEntry `json:"entry"`
}

// AppendGroupChainLogRequest is the body of POST /groups/{groupId}/logs/{db}.
type AppendGroupChainLogRequest struct {
	Entry chain.GroupEntry `json:"entry"`
}

// CreateGroupRequest is the body of POST /groups.
type CreateGroupRequest struct {
	GroupID          string `json:"groupId"`
	GroupPublicKey   string `json:"groupPublicKey"`
	InitialAccessKey string `json:"initialAccessKey"`
}

// HeadResponse is the body of GET /self/logs/{db}/head.
type HeadResponse struct {
	Head *chain.PersonalEntry `json:"head"`
}

// ListResponse is the body of GET /self/logs/{db}.
type ListResponse struct {
	Logs    []chain.PersonalEntry `json:"logs"`
	HasMore bool                  `json:"hasMore"`
}

// GroupHeadResponse is the body of GET /groups/{groupId}/logs/{db}/head.
type GroupHeadResponse struct {
	Head *chain.GroupEntry `json:"head"`
}

// GroupListResponse is the body of GET /groups/{groupId}/logs/{db}.
type GroupListResponse struct {
	Logs    []chain.GroupEntry `json:"logs"`
	HasMore bool                `json:"hasMore"`
}

// PullTransport is the request/response half of the server surface: heads,
// paged history, single entries, and appends, for both personal and group
// log families.
type PullTransport interface {
	PersonalHead(ctx context.Context, db string) (*chain.PersonalEntry, error)
	PersonalList(ctx context.Context, db string, startIndex int64, limit int) (entries []chain.PersonalEntry, hasMore bool, err error)
	PersonalAt(ctx context.Context, db string, index int64) (*chain.PersonalEntry, error)
	AppendPersonal(ctx context.Context, db string, entry chain.PersonalEntry) (*chain.PersonalEntry, error)

	GroupHead(ctx context.Context, groupID, db string) (*chain.GroupEntry, error)
	GroupList(ctx context.Context, groupID, db string, startIndex int64, limit int) (entries []chain.GroupEntry, hasMore bool, err error)
	GroupAt(ctx context.Context, groupID, db string, index int64) (*chain.GroupEntry, error)
	AppendGroup(ctx context.Context, groupID, db string, entry chain.GroupEntry) (*chain.GroupEntry, error)

	CreateGroup(ctx context.Context, req CreateGroupRequest) error
}

// EventType tags the push channel's server-originated event union.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventNewLog            EventType = "new_log"
	EventLogStreamEnd      EventType = "log_stream_end"
	EventNewGroupLog       EventType = "new_group_log"
	EventGroupLogStreamEnd EventType = "group_log_stream_end"
)

// Event is one server-to-client push message.
type Event struct {
	Type       EventType            `json:"type"`
	Address    string               `json:"address,omitempty"`
	Entry      *chain.PersonalEntry `json:"entry,omitempty"`
	GroupID    string               `json:"groupId,omitempty"`
	GroupEntry *chain.GroupEntry    `json:"groupEntry,omitempty"`
	LastIndex  int64                `json:"lastIndex,omitempty"`
}

// ControlFrameType tags the client-to-server control frame union.
type ControlFrameType string

const (
	ControlStreamLogs       ControlFrameType = "stream_logs"
	ControlSubscribeGroup   ControlFrameType = "subscribe_group"
	ControlUnsubscribeGroup ControlFrameType = "unsubscribe_group"
	ControlStreamGroupLogs  ControlFrameType = "stream_group_logs"
)

// ControlFrame is one client-to-server control message on the push stream.
type ControlFrame struct {
	Type      ControlFrameType `json:"type"`
	FromIndex *int64           `json:"fromIndex,omitempty"`
	GroupID   string           `json:"groupId,omitempty"`
}

// PushStream is the bidirectional event stream: Send delivers client control
// frames, Events yields server-originated events until the stream closes.
type PushStream interface {
	Send(ctx context.Context, frame ControlFrame) error
	Events() <-chan Event
	Close() error
}
