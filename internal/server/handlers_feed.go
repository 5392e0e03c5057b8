package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
)

type eventPayload struct {
	EventID     string          `json:"event_id"`
	DocumentID  string          `json:"document_id"`
	IdentityRef string          `json:"identity_ref"`
	Kind        string          `json:"kind"`
	VersionNo   *int64          `json:"version_no,omitempty"`
	Timestamp   string          `json:"ts"`
	Context     json.RawMessage `json:"context,omitempty"`
}

func toEventPayload(event audit.Event) eventPayload {
	payload := eventPayload{
		EventID:     event.EventID,
		DocumentID:  event.DocumentID,
		IdentityRef: event.IdentityRef,
		Kind:        string(event.Kind),
		VersionNo:   event.VersionNo,
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if event.ContextJSON != "" {
		payload.Context = json.RawMessage(event.ContextJSON)
	}
	return payload
}

// handleListAudit returns the full trail, oldest first. The trail names every
// identity that touched the document, so review is owner-level access.
func (h *httpHandler) handleListAudit(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}
	events, err := h.audit.List(c.Request.Context(), doc.DocumentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]eventPayload, 0, len(events))
	for _, event := range events {
		payload = append(payload, toEventPayload(event))
	}
	c.JSON(http.StatusOK, gin.H{"events": payload})
}

type pollResponsePayload struct {
	Events     []eventPayload `json:"events"`
	ServerTime string         `json:"server_time"`
	HasMore    bool           `json:"has_more"`
}

// handlePollEvents serves the change feed cursor. Every poll re-checks VIEW:
// a revoked client gets a terminal 403 instead of an empty page, so it knows
// to stop polling. With wait=true the request parks on the dispatcher until
// an event lands or the long-poll window closes.
func (h *httpHandler) handlePollEvents(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	documentID := c.Param("documentID")

	since := time.Time{}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
			return
		}
		since = parsed
	}
	wait := c.Query("wait") == "true"

	var signals <-chan ChangeSignal
	if wait {
		// Subscribe before the first read so a write between read and park
		// cannot be missed.
		stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), documentID)
		defer cleanup()
		signals = stream
	}

	result, terminal, ok := h.pollOnce(c, requestIdentity, documentID, since)
	if !ok {
		return
	}
	if terminal {
		return
	}

	if wait && len(result.Events) == 0 {
		deadline := time.NewTimer(h.longPollMax)
		defer deadline.Stop()
		select {
		case <-signals:
			result, terminal, ok = h.pollOnce(c, requestIdentity, documentID, since)
			if !ok || terminal {
				return
			}
		case <-deadline.C:
		case <-c.Request.Context().Done():
			return
		}
	}

	h.metrics.RecordPoll(false)
	payload := pollResponsePayload{
		Events:     make([]eventPayload, 0, len(result.Events)),
		ServerTime: result.ServerTime.UTC().Format(time.RFC3339Nano),
		HasMore:    result.HasMore,
	}
	for _, event := range result.Events {
		payload.Events = append(payload.Events, toEventPayload(event))
	}
	c.JSON(http.StatusOK, payload)
}

// pollOnce re-authorizes and reads one feed page. The bool result reports
// whether the caller should continue; a terminal revocation has already been
// written to the response.
func (h *httpHandler) pollOnce(c *gin.Context, requestIdentity access.Identity, documentID string, since time.Time) (audit.PollResult, bool, bool) {
	_, terminal, err := h.documents.PollAccess(c.Request.Context(), requestIdentity, documentID)
	if err != nil {
		h.respondError(c, err)
		return audit.PollResult{}, false, false
	}
	if terminal {
		h.metrics.RecordPoll(true)
		c.JSON(http.StatusForbidden, gin.H{"error": "access_revoked", "terminal": true})
		return audit.PollResult{}, true, true
	}

	result, err := h.feed.Poll(c.Request.Context(), documentID, since, requestIdentity.AuditRef())
	if err != nil {
		h.respondError(c, err)
		return audit.PollResult{}, false, false
	}
	return result, false, true
}
