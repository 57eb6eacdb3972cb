package engine

import (
	"fmt"
	"strings"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/convo"
)

// replyFormatInstruction tells the model how to answer. Kept separate from
// the per-bot sales script so bots can change personality without touching
// the wire contract.
const replyFormatInstruction = `Responda SEMPRE com um único objeto JSON, sem texto fora dele, no formato:
{"messages": ["..."], "sale_confirmed": false, "order_report": ""}
- "messages": de 1 a 3 mensagens curtas, enviadas em sequência como mensagens separadas.
- "sale_confirmed": true somente quando o cliente confirmou explicitamente a compra nesta conversa.
- "order_report": quando sale_confirmed for true, um resumo do pedido com produto, quantidade, nome e telefone do cliente; caso contrário, string vazia.`

// buildPrompt assembles the full model request for one conversation turn:
// the bot's sales script, the reply-format contract, segment limits, the
// current stage, and the bounded history window ending in the new inbound
// message.
func buildPrompt(bot *bots.Bot, state *convo.State, history []convo.CachedMessage, inbound string) LLMRequest {
	system := []string{strings.TrimSpace(bot.SystemPrompt), replyFormatInstruction}

	limits := fmt.Sprintf("Limite de caracteres por mensagem: %d, %d e %d respectivamente.",
		bot.SegmentLimit(0), bot.SegmentLimit(1), bot.SegmentLimit(2))
	system = append(system, limits)

	if state != nil && state.Stage > 0 {
		system = append(system, fmt.Sprintf("Estágio atual da conversa: %d.", state.Stage))
	}

	messages := make([]ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		role := ChatRoleUser
		if msg.Role == convo.RoleAssistant {
			role = ChatRoleAssistant
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, ChatMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: inbound})

	return LLMRequest{
		System:      system,
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}
