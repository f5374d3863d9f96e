// Package shell is an interactive debug client for the gateway's wire
// protocol: a liner-backed prompt that dials a running gateway over /ws
// and prints what comes back.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/peterh/liner"
	"github.com/pkg/errors"
)

// Run dials url (the gateway's /ws endpoint) and drives an interactive
// REPL on stdin/stdout until the user quits or the connection drops.
func Run(ctx context.Context, url string, opts ...Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", url)
	}
	defer conn.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn, o.Format)
	}()

	var streamSeq int64

	for {
		input, err := line.Prompt(o.Prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "read command")
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == "quit" || input == "exit" {
			return nil
		}

		if err := dispatch(conn, input, &streamSeq); err != nil {
			fmt.Println("error:", err)
		}

		select {
		case <-done:
			return nil
		default:
		}
	}
}

// dispatch parses one REPL command and writes the corresponding inbound
// frame: "query <queryId> [json-params]" or "cancel <streamId>".
func dispatch(conn *websocket.Conn, input string, streamSeq *int64) error {
	fields := strings.SplitN(input, " ", 2)
	switch fields[0] {
	case "query":
		if len(fields) < 2 {
			return errors.New("usage: query <queryId> [json-params]")
		}
		rest := strings.SplitN(strings.TrimSpace(fields[1]), " ", 2)
		queryID := rest[0]

		var templateData map[string]any
		if len(rest) == 2 && strings.TrimSpace(rest[1]) != "" {
			if err := json.Unmarshal([]byte(rest[1]), &templateData); err != nil {
				return errors.Wrap(err, "parse json-params")
			}
		}

		streamID := "s" + strconv.FormatInt(atomic.AddInt64(streamSeq, 1), 10)
		frame := map[string]any{
			"type":     "query",
			"streamId": streamID,
			"queryId":  queryID,
		}
		if templateData != nil {
			frame["templateData"] = templateData
		}
		fmt.Printf("-> query %s as %s\n", queryID, streamID)
		return conn.WriteJSON(frame)

	case "cancel":
		if len(fields) < 2 {
			return errors.New("usage: cancel <streamId>")
		}
		streamID := strings.TrimSpace(fields[1])
		return conn.WriteJSON(map[string]any{"type": "cancel", "streamId": streamID})

	default:
		return fmt.Errorf("unknown command %q (try: query, cancel, quit)", fields[0])
	}
}

// readLoop prints every inbound frame until the connection closes.
func readLoop(conn *websocket.Conn, format string) {
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			fmt.Println("connection closed:", err)
			return
		}
		printFrame(frame, format)
	}
}

func printFrame(frame map[string]any, format string) {
	if format == formatJSON {
		raw, _ := json.Marshal(frame)
		fmt.Println(string(raw))
		return
	}

	streamID, _ := frame["streamId"].(string)
	switch frame["type"] {
	case "status":
		payload, _ := frame["payload"].(map[string]any)
		fmt.Printf("[%s] status: %v\n", streamID, payload["status"])
	case "metadata":
		payload, _ := frame["payload"].(map[string]any)
		metadata, _ := payload["metadata"].(map[string]any)
		fmt.Printf("[%s] columns: %v\n", streamID, metadata["columns"])
	case "row":
		payload, _ := frame["payload"].(map[string]any)
		fmt.Printf("[%s] row: %v\n", streamID, payload["data"])
	case "complete":
		payload, _ := frame["payload"].(map[string]any)
		fmt.Printf("[%s] complete: %v total rows\n", streamID, payload["totalRows"])
	case "error":
		payload, _ := frame["payload"].(map[string]any)
		fmt.Printf("[%s] error: %v (%v)\n", streamID, payload["error"], payload["code"])
	default:
		fmt.Printf("[%s] %v: %v\n", streamID, frame["type"], frame["payload"])
	}
}
