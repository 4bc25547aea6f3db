package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mastercactapus/hotplate/engine"
)

var errUnknownAction = errors.New("unknown action")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEvent is a progress event with its display text.
type wsEvent struct {
	engine.Event
	Text string `json:"text"`
}

type wsCommand struct {
	Action string `json:"action"`
}

type wsReply struct {
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// serveWS pushes progress events to the client and accepts stop/continue commands.
func (a *api) serveWS(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("ERROR: upgrade:", err)
		return
	}

	events, unsub := a.Runner.Subscribe()
	defer unsub()

	replies := make(chan wsReply, 16)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(done)
		a.wsReadLoop(ws, replies, stopped)
	}()
	a.wsWriteLoop(ws, events, replies, done)
	close(stopped)
	<-done
}

func (a *api) wsReadLoop(ws *websocket.Conn, replies chan<- wsReply, stopped <-chan struct{}) {
	reply := func(r wsReply) bool {
		select {
		case replies <- r:
			return true
		case <-stopped:
			return false
		}
	}

	ws.SetReadLimit(4096)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Println("ERROR: read:", err)
			}
			return
		}

		var cmd wsCommand
		err = json.Unmarshal(data, &cmd)
		if err != nil {
			if !reply(wsReply{Error: err.Error()}) {
				return
			}
			continue
		}
		r := wsReply{Action: cmd.Action}
		switch cmd.Action {
		case "stop":
			err = a.Runner.Stop()
		case "continue":
			err = a.Runner.Continue()
		default:
			err = errUnknownAction
		}
		if err != nil {
			r.Error = err.Error()
		}
		if !reply(r) {
			return
		}
	}
}

func (a *api) wsWriteLoop(ws *websocket.Conn, events <-chan engine.Event, replies <-chan wsReply, done <-chan struct{}) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	defer ws.Close()

	write := func(v interface{}) error {
		ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return ws.WriteJSON(v)
	}

	for {
		var err error
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			err = write(wsEvent{Event: ev, Text: ev.String()})
		case reply := <-replies:
			err = write(reply)
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err = ws.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			log.Println("ERROR: write:", err)
			return
		}
	}
}

