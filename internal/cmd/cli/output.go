package cli

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/rzbill/flobus/internal/message"
)

// decodedContent returns one of content_json, content_text or content_b64.
func decodedContent(content []byte) map[string]any {
	out := map[string]any{}
	if len(content) == 0 {
		return out
	}
	if content[0] == '{' || content[0] == '[' {
		var v any
		if json.Unmarshal(content, &v) == nil {
			out["content_json"] = v
			return out
		}
	}
	if utf8.Valid(content) {
		out["content_text"] = string(content)
		return out
	}
	out["content_b64"] = base64.StdEncoding.EncodeToString(content)
	return out
}

// writeMessage prints one JSON line describing msg plus extra fields.
func writeMessage(w io.Writer, msg message.Message, extra map[string]any) error {
	out := decodedContent(msg.Content)
	out["headers"] = msg.Headers
	for k, v := range extra {
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// buildMessage assembles a message from command flags. Headers are given as
// key=value pairs.
func buildMessage(name, data string, headers []string) (*message.Message, error) {
	if name == "" {
		return nil, fmt.Errorf("--name is required")
	}
	msg := message.New(name, []byte(data))
	for _, h := range headers {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --header %q; use key=value", h)
		}
		msg.Headers.Set(strings.TrimSpace(k), v)
	}
	return msg, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
