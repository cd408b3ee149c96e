package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// twimlEmpty is the no-instruction TwiML document. The provider treats any
// non-2xx or malformed response as a delivery failure and retries, so the
// webhook answers with this regardless of what happened inside.
const twimlEmpty = "<Response></Response>"

type inboundMessage struct {
	From            string
	ConversationSid string
	Author          string
}

// httpProviderInbound receives message webhooks from the provider. A
// conversation-scoped payload routes to the conversation sink, a plain SMS
// payload to the contact sink; anything unrecognized is acknowledged and
// dropped.
func (h *TaskHandlers) httpProviderInbound(c *gin.Context) {
	msg := h.parseInbound(c)

	ctx := c.Request.Context()
	switch {
	case msg.ConversationSid != "":
		h.service.MarkActivityByConversation(ctx, msg.ConversationSid, msg.Author)
	case msg.From != "":
		h.service.MarkActivityByContact(ctx, msg.From)
	default:
		h.logger.Debug("inbound webhook without sender fields")
	}

	c.Data(http.StatusOK, "text/xml", []byte(twimlEmpty))
}

// parseInbound reads the webhook payload. The provider posts
// form-urlencoded with capitalized field names; JSON test clients tend to
// lowercase the first letter, so both spellings are accepted.
func (h *TaskHandlers) parseInbound(c *gin.Context) inboundMessage {
	if strings.Contains(c.ContentType(), "json") {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			h.logger.Debug("unparseable inbound payload", zap.Error(err))
			return inboundMessage{}
		}
		return inboundMessage{
			From:            jsonField(body, "From", "from"),
			ConversationSid: jsonField(body, "ConversationSid", "conversationSid"),
			Author:          jsonField(body, "Author", "author"),
		}
	}
	return inboundMessage{
		From:            formField(c, "From", "from"),
		ConversationSid: formField(c, "ConversationSid", "conversationSid"),
		Author:          formField(c, "Author", "author"),
	}
}

func jsonField(body map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := body[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func formField(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if value := c.PostForm(key); value != "" {
			return value
		}
	}
	return ""
}
