package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrAlreadyDeleted reports that a delete targeted a room that no longer
// exists. Callers treat it as success.
var ErrAlreadyDeleted = errors.New("daily: room already deleted")

// Role scopes a meeting token to one of the two room participants.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

type Room struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Client is the room provider consumed by the orchestrator.
type Client interface {
	CreateRoom(ctx context.Context, name, privacy string, ttl time.Duration) (Room, error)
	CreateMeetingToken(ctx context.Context, roomName string, role Role, exp int64) (string, error)
	DeleteRoom(ctx context.Context, roomName string) error
}

type HTTPClient struct {
	http   *http.Client
	apiKey string
	base   string
}

func NewClient(apiKey string) *HTTPClient {
	return &HTTPClient{
		http:   &http.Client{Timeout: 15 * time.Second},
		apiKey: apiKey,
		base:   "https://api.daily.co/v1",
	}
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name, privacy string, ttl time.Duration) (Room, error) {
	body := map[string]any{
		"name":    name,
		"privacy": privacy,
		"properties": map[string]any{
			"exp":               time.Now().Add(ttl).Unix(),
			"max_participants":  2,
			"eject_at_room_exp": true,
		},
	}
	var room Room
	if err := c.do(ctx, http.MethodPost, "/rooms", body, &room); err != nil {
		return Room{}, fmt.Errorf("daily CreateRoom: %w", err)
	}
	if room.URL == "" {
		return Room{}, fmt.Errorf("daily CreateRoom: empty room url")
	}
	return room, nil
}

func (c *HTTPClient) CreateMeetingToken(ctx context.Context, roomName string, role Role, exp int64) (string, error) {
	body := map[string]any{
		"properties": map[string]any{
			"room_name": roomName,
			"user_name": string(role),
			"exp":       exp,
			"is_owner":  role == RoleBot,
		},
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/meeting-tokens", body, &parsed); err != nil {
		return "", fmt.Errorf("daily CreateMeetingToken: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("daily CreateMeetingToken: empty token")
	}
	return parsed.Token, nil
}

func (c *HTTPClient) DeleteRoom(ctx context.Context, roomName string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/rooms/"+roomName, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daily DeleteRoom: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrAlreadyDeleted
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daily DeleteRoom: %s: %s", resp.Status, string(b))
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
