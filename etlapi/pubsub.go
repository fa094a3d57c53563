package etlapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imperiopatitas/bsale_etl/appctx"
	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/sirupsen/logrus"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PubSubPushHandler executes queued sync requests. It always acknowledges
// with 204; failed runs are only logged.
func (h *Handler) PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			h.logger.WithError(err).Warn("invalid pubsub envelope")
			c.Status(http.StatusNoContent)
			return
		}
		var req config.SyncRequest
		if err := json.Unmarshal(envelope.Message.Data, &req); err != nil {
			h.logger.WithError(err).WithField("messageId", envelope.Message.ID).Warn("invalid sync request payload")
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		cid := req.CorrelationId
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx = appctx.Set(ctx, appctx.ContextKeyCorrelationId, cid)
		ctx = appctx.Set(ctx, appctx.ContextKeyTrigger, "pubsub")
		log := h.logger.WithFields(appctx.Fields(ctx)).WithFields(logrus.Fields{
			"messageId": envelope.Message.ID,
			"entity":    req.Entity,
		})

		if req.CleanReload {
			if _, err := h.syncer.CleanAndReload(ctx); err != nil {
				config.LogError(log, "etlapi", "PubSubPushHandler", "queued clean and reload failed", req, err)
			}
			c.Status(http.StatusNoContent)
			return
		}

		entity, err := workflow.ParseEntity(req.Entity)
		if err != nil {
			log.WithError(err).Warn("queued sync for unknown entity dropped")
			c.Status(http.StatusNoContent)
			return
		}
		if _, err := h.syncer.Sync(ctx, entity, req.Since); err != nil {
			config.LogError(log, "etlapi", "PubSubPushHandler", "queued sync failed", req, err)
		} else {
			log.Info("queued sync finished")
		}
		c.Status(http.StatusNoContent)
	}
}
