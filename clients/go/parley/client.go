// Package parley provides a client for the parley chat server.
package parley

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a parley API client.
type Client struct {
	BaseURL string
	// Sender is used by Send when no sender is given.
	Sender     string
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Message is a persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Body      string    `json:"message"`
	RoomID    int64     `json:"room_id"`
}

// Room is a chat room.
type Room struct {
	ID           int64    `json:"id"`
	Participants []string `json:"participants"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("parley error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Send posts a message to a room as sender, or as c.Sender when sender is empty.
func (c *Client) Send(ctx context.Context, sender, body string, roomID int64) (*Message, error) {
	if sender == "" {
		sender = c.Sender
	}
	req := map[string]interface{}{"sender": sender, "message": body, "room_id": roomID}
	var msg Message
	if err := c.doRequest(ctx, http.MethodPost, "/chat/send", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// History returns a room's messages, oldest first.
func (c *Client) History(ctx context.Context, roomID int64) ([]Message, error) {
	var msgs []Message
	err := c.doRequest(ctx, http.MethodGet, "/chat?room_id="+strconv.FormatInt(roomID, 10), nil, &msgs)
	return msgs, err
}

// ListRooms returns every room.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	err := c.doRequest(ctx, http.MethodGet, "/room", nil, &rooms)
	return rooms, err
}

// CreateRoom creates a room with the given participants.
func (c *Client) CreateRoom(ctx context.Context, participants ...string) (*Room, error) {
	if participants == nil {
		participants = []string{}
	}
	var room Room
	if err := c.doRequest(ctx, http.MethodPost, "/room", map[string][]string{"participants": participants}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoom fetches one room.
func (c *Client) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	var room Room
	if err := c.doRequest(ctx, http.MethodGet, "/room/"+strconv.FormatInt(roomID, 10), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Join adds identity to a room.
func (c *Client) Join(ctx context.Context, roomID int64, identity string) (*Room, error) {
	var room Room
	path := "/room/" + strconv.FormatInt(roomID, 10) + "/participants"
	if err := c.doRequest(ctx, http.MethodPut, path, map[string]string{"identity": identity}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom deletes a room and its messages.
func (c *Client) DeleteRoom(ctx context.Context, roomID int64) error {
	return c.doRequest(ctx, http.MethodDelete, "/room/"+strconv.FormatInt(roomID, 10), nil, nil)
}

// Health returns the raw health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.doRequest(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Event is one item of a live subscription. Message is set for "message"
// events; Skipped is set for "lagged" events.
type Event struct {
	Type    string
	Message *Message
	Skipped uint64
}

// Subscribe streams live messages until ctx is done or fn returns an error.
// A roomID of 0 subscribes to every room.
func (c *Client) Subscribe(ctx context.Context, roomID int64, fn func(Event) error) error {
	path := "/chat/subscribe"
	if roomID > 0 {
		path += "?" + url.Values{"room_id": {strconv.FormatInt(roomID, 10)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The client-wide timeout would cut the stream.
	streamClient := *c.HTTPClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return readEvents(resp.Body, fn)
}

// readEvents parses a server-sent event stream. Comments are skipped.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				ev, err := decodeEvent(event, data.String())
				if err != nil {
					return err
				}
				if err := fn(ev); err != nil {
					return err
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func decodeEvent(event, data string) (Event, error) {
	if event == "" {
		event = "message"
	}
	ev := Event{Type: event}
	switch event {
	case "message":
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return ev, fmt.Errorf("decode message event: %w", err)
		}
		ev.Message = &msg
	case "lagged":
		var lag struct {
			Skipped uint64 `json:"skipped"`
		}
		if err := json.Unmarshal([]byte(data), &lag); err != nil {
			return ev, fmt.Errorf("decode lagged event: %w", err)
		}
		ev.Skipped = lag.Skipped
	}
	return ev, nil
}
