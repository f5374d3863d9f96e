package gateway

import "github.com/supalytics/streamgate/wire"

// Frame is an outbound wire frame: {type, streamId, payload}. The protocol
// front-end owns JSON encoding; gateway only constructs the closed set of
// frame shapes the wire protocol defines.
type Frame struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// StatusPayload is the payload of a "status" frame.
type StatusPayload struct {
	Status string `json:"status"`
}

// MetadataPayload is the payload of a "metadata" frame.
type MetadataPayload struct {
	Metadata struct {
		Columns   []string `json:"columns"`
		TotalRows int      `json:"totalRows"`
	} `json:"metadata"`
}

// RowPayload is the payload of a "row" frame.
type RowPayload struct {
	Data []wire.Value `json:"data"`
}

// CompletePayload is the payload of a "complete" frame.
type CompletePayload struct {
	TotalRows int `json:"totalRows"`
}

// ErrorPayload is the payload of an "error" frame.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func statusFrame(streamID string, status Status) Frame {
	return Frame{Type: "status", StreamID: streamID, Payload: StatusPayload{Status: status.String()}}
}

func metadataFrame(streamID string, columns []string) Frame {
	p := MetadataPayload{}
	p.Metadata.Columns = columns
	p.Metadata.TotalRows = 0
	return Frame{Type: "metadata", StreamID: streamID, Payload: p}
}

func rowFrame(streamID string, data []wire.Value) Frame {
	return Frame{Type: "row", StreamID: streamID, Payload: RowPayload{Data: data}}
}

func completeFrame(streamID string, totalRows int) Frame {
	return Frame{Type: "complete", StreamID: streamID, Payload: CompletePayload{TotalRows: totalRows}}
}

func errorFrame(streamID, message, code string) Frame {
	return Frame{Type: "error", StreamID: streamID, Payload: ErrorPayload{Error: message, Code: code}}
}

// Sink is the write side of a transport: one outbound frame at a time. The
// protocol front-end implements Sink over a websocket connection; Connection
// never writes to it without holding its own write lock.
type Sink interface {
	Send(f Frame) error
}
