// Command client is a websocket smoke-test client. It creates or joins a
// game, prints every frame it receives and sends lines typed on stdin as
// intents: "<type> <json payload>", e.g. `form_team {"name":"Red"}`.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slopgame/slop/network"
)

func send(c *websocket.Conn, typ string, data json.RawMessage) error {
	f, err := network.NewFrame(typ, data)
	if err != nil {
		return err
	}
	return c.WriteJSON(f)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	name := flag.String("name", "Tester", "player name")
	room := flag.String("room", "", "room code to join; empty creates a game")
	token := flag.String("token", "", "reconnect token")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f network.Frame
			if err := c.ReadJSON(&f); err != nil {
				log.Println("Read error:", err)
				return
			}
			log.Printf("<- %s %s", f.Type, string(f.Data))
		}
	}()

	var first error
	switch {
	case *token != "":
		first = send(c, network.MsgReconnect, mustJSON(map[string]string{"token": *token}))
	case *room != "":
		first = send(c, network.MsgJoinGame, mustJSON(map[string]string{"room_code": *room, "name": *name}))
	default:
		first = send(c, network.MsgCreateGame, mustJSON(map[string]string{"name": *name}))
	}
	if first != nil {
		log.Fatalf("Write error: %v", first)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := send(c, network.MsgHeartbeat, nil); err != nil {
				log.Println("Write error:", err)
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			typ, payload, _ := strings.Cut(strings.TrimSpace(line), " ")
			if typ == "" {
				continue
			}
			var data json.RawMessage
			if payload = strings.TrimSpace(payload); payload != "" {
				if !json.Valid([]byte(payload)) {
					log.Printf("payload is not JSON: %s", payload)
					continue
				}
				data = json.RawMessage(payload)
			}
			if err := send(c, typ, data); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> %s %s", typ, payload)
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	return data
}
