// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callmanager

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/callbridge/internal/carrier"
	"github.com/rapidaai/callbridge/internal/webhookauth"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router builds the gin engine exposing the webhook, media-stream, SMS
// (stub), and health endpoints.
func (m *Manager) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/twiml", m.handleWebhook)
	engine.POST("/sms", m.handleSMS)
	engine.GET("/health", m.handleHealth)
	engine.GET("/media-stream", m.handleMediaStream)
	return engine
}

func (m *Manager) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "activeCalls": m.ActiveCallCount()})
}

func (m *Manager) handleSMS(c *gin.Context) {
	// Out of scope: acknowledge without acting so carriers retrying
	// delivery receipts don't see a hard failure.
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (m *Manager) handleWebhook(c *gin.Context) {
	switch m.carrierKind {
	case carrier.KindA:
		m.handleWebhookA(c)
	case carrier.KindB:
		m.handleWebhookB(c)
	default:
		c.Status(http.StatusInternalServerError)
	}
}

func (m *Manager) handleWebhookA(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	fields := make(map[string]string, len(c.Request.PostForm))
	for k := range c.Request.PostForm {
		fields[k] = c.Request.PostForm.Get(k)
	}

	sig := c.GetHeader("X-Twilio-Signature")
	if !webhookauth.VerifyCarrierA(m.carrierAuthToken, sig, m.webhookURL, fields) {
		c.Status(http.StatusUnauthorized)
		return
	}

	event, err := carrier.ParseCarrierA(fields)
	if err != nil {
		c.Status(http.StatusOK) // malformed but authenticated; don't retry-storm the carrier
		return
	}

	session, found := m.lookupByCarrierRef(event.CarrierCallRef)

	switch event.Status {
	case carrier.StatusRinging, carrier.StatusInProgress:
		if !found {
			c.Status(http.StatusOK)
			return
		}
		wsURL := m.mediaStreamURLFor(session.CallID())
		c.Data(http.StatusOK, "application/xml", m.carrierPort.MediaConnectDirective(wsURL))
		return
	case carrier.StatusCompleted, carrier.StatusBusy, carrier.StatusNoAnswer, carrier.StatusFailed:
		if found {
			session.NotifyCarrierHangup()
		}
	}
	c.Status(http.StatusOK)
}

func (m *Manager) handleWebhookB(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	sig := c.GetHeader("Telnyx-Signature-Ed25519")
	ts := c.GetHeader("Telnyx-Timestamp")
	if !webhookauth.VerifyCarrierB(m.carrierEd25519PubKey, sig, ts, raw) {
		c.Status(http.StatusUnauthorized)
		return
	}

	// Carrier B always gets an immediate 200 regardless of what the event
	// turns out to mean.
	c.JSON(http.StatusOK, gin.H{"status": "ok"})

	event, err := carrier.ParseCarrierB(raw)
	if err != nil {
		return
	}
	session, found := m.lookupByCarrierRef(event.CarrierCallRef)
	if !found {
		return
	}

	switch event.Status {
	case carrier.StatusInProgress:
		wsURL := m.mediaStreamURLFor(session.CallID())
		if err := m.carrierPort.StartMediaStream(context.Background(), event.CarrierCallRef, wsURL); err != nil {
			m.logger.Warnw("start media stream failed", "callId", session.CallID(), "error", err.Error())
		}
	case carrier.StatusCompleted, carrier.StatusStreamingStop:
		session.NotifyCarrierHangup()
	}
}

func (m *Manager) mediaStreamURLFor(callID string) string {
	m.mu.Lock()
	e := m.byCallID[callID]
	m.mu.Unlock()
	token := ""
	if e != nil {
		token = e.wsToken
	}
	return m.webSocketBaseURL + "/media-stream?token=" + token
}

func (m *Manager) handleMediaStream(c *gin.Context) {
	token := c.Query("token")
	session, ok := m.takeMediaToken(token)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}

	conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warnw("media stream upgrade failed", "error", err.Error())
		return
	}
	go session.AttachMediaSocket(context.Background(), conn)
}
