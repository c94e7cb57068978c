// ABOUTME: Streaming query support decoding newline-delimited JSON events
// ABOUTME: A failed stream delivers its error as the final event on the channel

package vertexai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Part is one fragment of model output within an event.
type Part struct {
	Text string `json:"text,omitempty"`
}

// Content is the authored payload of one event.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Event is one element of a streaming query response. When the stream dies
// mid-turn the final event on the channel carries Err and nothing else.
type Event struct {
	Author  string  `json:"author,omitempty"`
	Content Content `json:"content"`
	Err     error   `json:"-"`
}

// Texts returns the event's non-empty text parts in order.
func (e Event) Texts() []string {
	var out []string
	for _, p := range e.Content.Parts {
		if p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return out
}

// StreamQuery sends message into a session and streams the agent's response
// events. The returned channel closes when the model turn completes, the
// stream fails, or ctx is canceled. Undecodable lines are logged and
// skipped; a transport failure mid-stream arrives as a final Event with Err
// set.
func (c *Client) StreamQuery(ctx context.Context, engineID, userID, sessionID, message string) (<-chan Event, error) {
	url := fmt.Sprintf("%s/%s:streamQuery", c.baseURL, c.engineName(engineID))
	body := map[string]any{
		"class_method": "stream_query",
		"input": map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
			"message":    message,
		},
	}

	resp, err := c.send(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		// a single model turn routinely exceeds the default 64K token limit
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				c.logger.Warn("skipping undecodable stream line", "engine", engineID, "error", err)
				continue
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case events <- Event{Err: fmt.Errorf("reading event stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return events, nil
}
