package ingress

import (
	"encoding/json"
	"net/http"

	"PRelay/logger"
	"PRelay/middleware"
	midsec "PRelay/middleware/security"
	"PRelay/service/relay"
	"PRelay/tools/errs"

	"github.com/gin-gonic/gin"
)

// WebhookBody is what the gateway posts for each instance event.
type WebhookBody struct {
	Event    string          `json:"event" binding:"required"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// Routes mounts the webhook ingress and its stats view, both behind the gate.
func (s *Sink) Routes(r gin.IRouter, gate midsec.Admitter) {
	opt := middleware.RouteOpt{IsAuth: true, Gate: gate}
	middleware.POST(r, "/webhook", s.HandleWebhook, opt)
	middleware.POST(r, "/webhook/:instance", s.HandleWebhook, opt)
	middleware.GET(r, "/webhook/:instance/stats", s.HandleStats, opt)
}

func (s *Sink) HandleWebhook(c *gin.Context) {
	var body WebhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		logger.Infof("[Webhook] bad body remote=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": err.Error()})
		return
	}
	room := c.Param("instance")
	if room == "" {
		room = body.Instance
	}

	n, err := s.Deliver(c.Request.Context(), SourceWebhook, room, relay.Envelope{Event: body.Event, Data: body.Data})
	if err != nil {
		status := http.StatusBadRequest
		if errs.Code(err) == errs.RoomRequiredCode {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": errs.Kind(err), "detail": errs.Detail(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

func (s *Sink) HandleStats(c *gin.Context) {
	st, err := s.log.Stats(c.Request.Context(), c.Param("instance"))
	if err != nil {
		logger.Errorf("[Webhook] stats err instance=%s err=%v", c.Param("instance"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, st)
}
