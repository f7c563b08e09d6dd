package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
)

// EventStream upgrades to a websocket and forwards every bus event to the
// client as a JSON text message, in publish order. The subscription starts
// before the first write, so a client that snapshots transcripts after
// connecting observes no gap.
func EventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host presentation layer
	})
	if err != nil {
		log.Printf("events: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub, cancel := Bus.Subscribe()
	defer cancel()

	ctx := r.Context()

	// Drain client frames so pings and close frames are processed.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("events: marshal event %s: %v", ev.Type, err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-ctx.Done():
			return
		}
	}
}
