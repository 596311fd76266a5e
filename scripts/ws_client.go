// Package main runs a demo live-preview WebSocket client against a local API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Lenient bool            `json:"lenient,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const token = "Bearer t_demo:planner"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	var mission struct {
		ID string `json:"id"`
	}
	call(http.MethodPost, base+"/v1/missions", `{"name":"demo"}`, &mission)
	var leg struct {
		ID string `json:"id"`
	}
	dep := time.Now().UTC().Truncate(time.Hour)
	call(http.MethodPost, base+"/v1/missions/"+mission.ID+"/legs", fmt.Sprintf(`{"name":"outbound","departure_time":%q}`, dep.Format(time.RFC3339)), &leg)
	call(http.MethodPut, base+"/v1/legs/"+leg.ID+"/route", `{"waypoints":[
		{"sequence":1,"name":"KADW","latitude":38.81,"longitude":-76.87,"elapsed_seconds":0},
		{"sequence":2,"name":"AR-1","latitude":40.1,"longitude":-60.2,"elapsed_seconds":5400},
		{"sequence":3,"name":"ETAR","latitude":49.44,"longitude":7.6,"elapsed_seconds":28800}]}`, nil)
	log.Printf("Leg ID: %s", leg.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/legs/" + leg.ID + "/preview/ws"}
	hdr := http.Header{}
	hdr.Set("Authorization", token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s [%s]: %s", m.Type, m.ID, string(m.Payload))
		}
	}()

	// two rapid edits; only the reply to id 2 matters to a UI
	outage := fmt.Sprintf(`{"transports":{"ka_outages":[{"start_time":%q,"duration_seconds":1800}]}}`, dep.Add(time.Hour).Format(time.RFC3339))
	for i, body := range []string{`{}`, outage} {
		msg := wsMessage{Type: "preview", ID: fmt.Sprint(i + 1), Payload: json.RawMessage(body)}
		if err := c.WriteJSON(msg); err != nil {
			log.Fatal(err)
		}
	}

	// commit so the session also receives timeline.committed
	time.Sleep(500 * time.Millisecond)
	call(http.MethodPut, base+"/v1/legs/"+leg.ID+"/transports", outage, nil)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func call(method, u, body string, out any) {
	req, _ := http.NewRequest(method, u, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: %s", method, u, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatal(err)
		}
	}
}
