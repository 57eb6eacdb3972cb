package engine

import (
	"encoding/json"
	"strings"
)

// Reply is the canonical structured reply the model is instructed to emit.
// Version 1 is a single JSON object; anything else the model produces is
// treated as one plain-text segment.
type Reply struct {
	Messages      []string `json:"messages"`
	SaleConfirmed bool     `json:"sale_confirmed"`
	OrderReport   string   `json:"order_report,omitempty"`
}

const maxReplySegments = 3

// ParseReply decodes a raw model completion into a Reply. Malformed or
// non-JSON output degrades to a single segment holding the raw text with no
// sale signal, so a confused model can never mark a sale. Segments are
// clamped to the bot's per-segment character limits.
func ParseReply(raw string, limits [3]int) Reply {
	text := stripCodeFence(strings.TrimSpace(raw))

	var reply Reply
	if err := json.Unmarshal([]byte(text), &reply); err != nil || len(reply.Messages) == 0 {
		reply = Reply{Messages: []string{text}, SaleConfirmed: false, OrderReport: ""}
	}

	if len(reply.Messages) > maxReplySegments {
		reply.Messages = reply.Messages[:maxReplySegments]
	}

	out := reply.Messages[:0]
	for i, seg := range reply.Messages {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if limit := limits[min(i, len(limits)-1)]; limit > 0 {
			seg = truncateRunes(seg, limit)
		}
		out = append(out, seg)
	}
	reply.Messages = out

	if !reply.SaleConfirmed {
		reply.OrderReport = ""
	}
	return reply
}

// stripCodeFence unwraps ```json ... ``` fences models habitually add even
// when told not to.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.ContainsAny(s[:idx], "{[") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
