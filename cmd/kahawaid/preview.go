package main

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/keahilabs/kahawai/internal/media"
)

var upgrader = websocket.Upgrader{
	// The preview is same-box tooling; any origin may attach.
	CheckOrigin: func(*http.Request) bool { return true },
}

// servePreview publishes the encoded byte-stream to WebSocket clients on
// addr. A client receives every stream unit from its subscription onward,
// so decoding begins at the next keyframe.
func servePreview(addr string, fan *media.Fanout) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("preview upgrade:", err)
			return
		}
		defer conn.Close()

		sub := fan.Subscribe(32)
		defer fan.Unsubscribe(sub)

		for unit := range sub {
			if err := conn.WriteMessage(websocket.BinaryMessage, unit); err != nil {
				return
			}
		}
	})

	log.Println("preview listening on", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Println("preview server:", err)
		}
	}()
}
