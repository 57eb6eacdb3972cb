package engine

import (
	"encoding/json"
	"strings"
)

// RecoverOrderReport extracts an order report from a historical assistant
// payload written before the canonical reply schema existed. It is a
// data-migration helper for backfilling old rows and is not called on the
// steady-state message path.
//
// Strategies, in order:
//  1. canonical schema ("order_report")
//  2. legacy JSON keys ("relatorio", "report", "pedido")
//  3. a marker line ("RELATORIO"/"RELATÓRIO"/"PEDIDO CONFIRMADO") followed by
//     free text
func RecoverOrderReport(payload string) (string, bool) {
	payload = stripCodeFence(strings.TrimSpace(payload))
	if payload == "" {
		return "", false
	}

	var canonical Reply
	if err := json.Unmarshal([]byte(payload), &canonical); err == nil && canonical.OrderReport != "" {
		return canonical.OrderReport, true
	}

	var legacy map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &legacy); err == nil {
		for _, key := range []string{"relatorio", "report", "pedido"} {
			raw, ok := legacy[key]
			if !ok {
				continue
			}
			var value string
			if err := json.Unmarshal(raw, &value); err == nil && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value), true
			}
		}
	}

	upper := strings.ToUpper(payload)
	for _, marker := range []string{"RELATÓRIO", "RELATORIO", "PEDIDO CONFIRMADO"} {
		idx := strings.Index(upper, marker)
		if idx < 0 {
			continue
		}
		rest := payload[idx+len(marker):]
		rest = strings.TrimLeft(rest, ":-– \t\r\n")
		if rest = strings.TrimSpace(rest); rest != "" {
			return rest, true
		}
	}

	return "", false
}
