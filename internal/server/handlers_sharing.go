package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
	"github.com/inkline-hq/inkline/backend/internal/sharing"
)

type shareLinkPayload struct {
	LinkID           string `json:"link_id"`
	DocumentID       string `json:"document_id"`
	Role             string `json:"role"`
	Token            string `json:"token"`
	ExpiresAtSeconds *int64 `json:"expires_at_s,omitempty"`
	Revoked          bool   `json:"revoked"`
	CreatedBy        string `json:"created_by"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toShareLinkPayload(link sharing.ShareLink) shareLinkPayload {
	payload := shareLinkPayload{
		LinkID:           link.LinkID,
		DocumentID:       link.DocumentID,
		Role:             string(link.Role),
		Token:            link.Token,
		Revoked:          link.RevokedAt != nil,
		CreatedBy:        link.CreatedBy,
		CreatedAtSeconds: link.CreatedAt.UTC().Unix(),
	}
	if link.ExpiresAt != nil {
		seconds := link.ExpiresAt.UTC().Unix()
		payload.ExpiresAtSeconds = &seconds
	}
	return payload
}

type qrLinkPayload struct {
	QRID             string `json:"qr_id"`
	DocumentID       string `json:"document_id"`
	VersionNo        *int64 `json:"version_no,omitempty"`
	Code             string `json:"code"`
	Active           bool   `json:"active"`
	ExpiresAtSeconds *int64 `json:"expires_at_s,omitempty"`
	CreatedBy        string `json:"created_by"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toQRLinkPayload(link sharing.QRLink) qrLinkPayload {
	payload := qrLinkPayload{
		QRID:             link.QRID,
		DocumentID:       link.DocumentID,
		VersionNo:        link.VersionNo,
		Code:             link.Code,
		Active:           link.Active,
		CreatedBy:        link.CreatedBy,
		CreatedAtSeconds: link.CreatedAt.UTC().Unix(),
	}
	if link.ExpiresAt != nil {
		seconds := link.ExpiresAt.UTC().Unix()
		payload.ExpiresAtSeconds = &seconds
	}
	return payload
}

func (h *httpHandler) recordShareAudit(c *gin.Context, documentID string, requestIdentity access.Identity, context map[string]any) error {
	_, err := h.audit.Record(c.Request.Context(), audit.Entry{
		DocumentID:  documentID,
		IdentityRef: requestIdentity.AuditRef(),
		Kind:        audit.KindShare,
		Context:     context,
	})
	return err
}

type issueShareLinkPayload struct {
	ExpiresInSeconds *int64 `json:"expires_in_s"`
}

// handleIssueShareLink issues an anonymous view link. Links carry VIEWER
// regardless of the issuer's own role; edit access is never granted to an
// unattributed bearer.
func (h *httpHandler) handleIssueShareLink(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request issueShareLinkPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		request = issueShareLinkPayload{}
	}

	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}

	ttl := h.shareTTL
	if request.ExpiresInSeconds != nil && *request.ExpiresInSeconds > 0 {
		ttl = time.Duration(*request.ExpiresInSeconds) * time.Second
	}
	expiresAt := h.clock().UTC().Add(ttl)

	link, err := h.sharing.IssueShareLink(c.Request.Context(), doc.DocumentID, access.RoleViewer, &expiresAt, requestIdentity.AuditRef())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ShareLinksIssuedTotal.Inc()
	if err := h.recordShareAudit(c, doc.DocumentID, requestIdentity, map[string]any{"share_link": link.LinkID}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toShareLinkPayload(link))
}

func (h *httpHandler) handleListShareLinks(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}
	links, err := h.sharing.ListShareLinks(c.Request.Context(), doc.DocumentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]shareLinkPayload, 0, len(links))
	for _, link := range links {
		payload = append(payload, toShareLinkPayload(link))
	}
	c.JSON(http.StatusOK, gin.H{"links": payload})
}

func (h *httpHandler) handleRevokeShareLink(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}
	link, err := h.sharing.RevokeShareLink(c.Request.Context(), c.Param("linkID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if link.DocumentID != doc.DocumentID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err := h.recordShareAudit(c, doc.DocumentID, requestIdentity, map[string]any{"share_link": link.LinkID, "revoked": true}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toShareLinkPayload(link))
}

// handleOpenShareLink is the anonymous entry point: the raw token is the only
// credential, and the response is scoped to exactly the linked document.
func (h *httpHandler) handleOpenShareLink(c *gin.Context) {
	link, err := h.sharing.ResolveShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	tokenIdentity := access.TokenIdentity(link.AuditRef(), link.DocumentID, link.Role)
	doc, err := h.documents.Get(c.Request.Context(), tokenIdentity, link.DocumentID)
	h.observeGateOutcome(access.ActionView, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document": toDocumentPayload(doc),
		"role":     string(link.Role),
	})
}

type issueQRLinkPayload struct {
	VersionNo        *int64 `json:"version_no"`
	ExpiresInSeconds *int64 `json:"expires_in_s"`
}

func (h *httpHandler) handleIssueQRLink(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request issueQRLinkPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		request = issueQRLinkPayload{}
	}
	if request.VersionNo != nil && *request.VersionNo < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_no"})
		return
	}

	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}

	var expiresAt *time.Time
	if request.ExpiresInSeconds != nil && *request.ExpiresInSeconds > 0 {
		expiry := h.clock().UTC().Add(time.Duration(*request.ExpiresInSeconds) * time.Second)
		expiresAt = &expiry
	}

	link, err := h.sharing.IssueQRLink(c.Request.Context(), doc.DocumentID, request.VersionNo, expiresAt, requestIdentity.AuditRef())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.QRLinksIssuedTotal.Inc()
	if err := h.recordShareAudit(c, doc.DocumentID, requestIdentity, map[string]any{"qr_link": link.QRID}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toQRLinkPayload(link))
}

func (h *httpHandler) handleDeactivateQRLink(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}
	link, err := h.sharing.DeactivateQRLink(c.Request.Context(), c.Param("qrID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if link.DocumentID != doc.DocumentID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err := h.recordShareAudit(c, doc.DocumentID, requestIdentity, map[string]any{"qr_link": link.QRID, "deactivated": true}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toQRLinkPayload(link))
}

// handleOpenQRLink resolves a scanned code anonymously. A version-pinned code
// serves that exact snapshot; an unpinned one serves the live document.
func (h *httpHandler) handleOpenQRLink(c *gin.Context) {
	link, err := h.sharing.ResolveQRCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	tokenIdentity := access.TokenIdentity(link.AuditRef(), link.DocumentID, access.RoleViewer)
	if link.VersionNo != nil {
		version, err := h.documents.GetVersion(c.Request.Context(), tokenIdentity, link.DocumentID, *link.VersionNo)
		h.observeGateOutcome(access.ActionView, err)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"version": toVersionPayload(version), "document_id": link.DocumentID})
		return
	}

	doc, err := h.documents.Get(c.Request.Context(), tokenIdentity, link.DocumentID)
	h.observeGateOutcome(access.ActionView, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": toDocumentPayload(doc)})
}
