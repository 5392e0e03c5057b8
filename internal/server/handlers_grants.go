package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inkline-hq/inkline/backend/internal/access"
)

type grantPayload struct {
	GrantID          string `json:"grant_id"`
	DocumentID       string `json:"document_id"`
	SubjectKind      string `json:"subject_kind"`
	SubjectID        string `json:"subject_id"`
	Role             string `json:"role"`
	ExpiresAtSeconds *int64 `json:"expires_at_s,omitempty"`
	CreatedBy        string `json:"created_by"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toGrantPayload(grant access.Grant) grantPayload {
	payload := grantPayload{
		GrantID:          grant.GrantID,
		DocumentID:       grant.DocumentID,
		SubjectKind:      string(grant.SubjectKind),
		SubjectID:        grant.SubjectID,
		Role:             string(grant.Role),
		CreatedBy:        grant.CreatedBy,
		CreatedAtSeconds: grant.CreatedAt.UTC().Unix(),
	}
	if grant.ExpiresAt != nil {
		seconds := grant.ExpiresAt.UTC().Unix()
		payload.ExpiresAtSeconds = &seconds
	}
	return payload
}

func parseSubjectKind(raw string) (access.SubjectKind, bool) {
	switch access.SubjectKind(strings.ToLower(strings.TrimSpace(raw))) {
	case access.SubjectKindUser:
		return access.SubjectKindUser, true
	case access.SubjectKindGroup:
		return access.SubjectKindGroup, true
	default:
		// Anonymous bearers are never grant subjects; tokens are issued
		// through the sharing endpoints instead.
		return "", false
	}
}

type createGrantPayload struct {
	SubjectKind      string `json:"subject_kind"`
	SubjectID        string `json:"subject_id"`
	Role             string `json:"role"`
	ExpiresAtSeconds *int64 `json:"expires_at_s"`
}

func (h *httpHandler) handleCreateGrant(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request createGrantPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.SubjectID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	subjectKind, ok := parseSubjectKind(request.SubjectKind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subject_kind"})
		return
	}
	role, err := access.ParseRole(request.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}

	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}

	var expiresAt *time.Time
	if request.ExpiresAtSeconds != nil {
		expiry := time.Unix(*request.ExpiresAtSeconds, 0).UTC()
		expiresAt = &expiry
	}

	grant, err := h.grants.Create(c.Request.Context(), access.CreateGrantRequest{
		DocumentID:  doc.DocumentID,
		SubjectKind: subjectKind,
		SubjectID:   request.SubjectID,
		Role:        role,
		ExpiresAt:   expiresAt,
		CreatedBy:   requestIdentity.AuditRef(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.recordShareAudit(c, doc.DocumentID, requestIdentity, map[string]any{
		"grant_id":     grant.GrantID,
		"subject_kind": string(grant.SubjectKind),
		"subject_id":   grant.SubjectID,
		"role":         string(grant.Role),
	}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toGrantPayload(grant))
}

func (h *httpHandler) handleListGrants(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	doc, ok := h.authorizeDocumentAction(c, requestIdentity, c.Param("documentID"), access.ActionShare)
	if !ok {
		return
	}
	grants, err := h.grants.List(c.Request.Context(), doc.DocumentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]grantPayload, 0, len(grants))
	for _, grant := range grants {
		payload = append(payload, toGrantPayload(grant))
	}
	c.JSON(http.StatusOK, gin.H{"grants": payload})
}

type updateGrantPayload struct {
	Role string `json:"role"`
}

func (h *httpHandler) handleUpdateGrant(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request updateGrantPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role, err := access.ParseRole(request.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}

	grant, err := h.grants.Get(c.Request.Context(), c.Param("grantID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	doc, ok := h.authorizeDocumentAction(c, requestIdentity, grant.DocumentID, access.ActionShare)
	if !ok {
		return
	}

	updated, err := h.grants.UpdateRole(c.Request.Context(), grant.GrantID, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.recordShareAudit(c, doc.DocumentID, requestIdentity, map[string]any{
		"grant_id": updated.GrantID,
		"role":     string(updated.Role),
		"updated":  true,
	}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toGrantPayload(updated))
}

func (h *httpHandler) handleDeleteGrant(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	grant, err := h.grants.Get(c.Request.Context(), c.Param("grantID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	doc, ok := h.authorizeDocumentAction(c, requestIdentity, grant.DocumentID, access.ActionShare)
	if !ok {
		return
	}

	removed, err := h.grants.Delete(c.Request.Context(), grant.GrantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.recordShareAudit(c, doc.DocumentID, requestIdentity, map[string]any{
		"grant_id": removed.GrantID,
		"revoked":  true,
	}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type createGroupPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request createGroupPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	group, err := h.identities.CreateGroup(c.Request.Context(), request.Name, requestIdentity.AuditRef())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"group_id": group.GroupID, "name": group.Name})
}

func (h *httpHandler) handleListGroupMembers(c *gin.Context) {
	if _, ok := h.requestIdentity(c); !ok {
		return
	}
	members, err := h.identities.ListMembers(c.Request.Context(), c.Param("groupID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type addMemberPayload struct {
	ActorID string `json:"actor_id"`
}

func (h *httpHandler) handleAddGroupMember(c *gin.Context) {
	if _, ok := h.requestIdentity(c); !ok {
		return
	}
	var request addMemberPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ActorID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.identities.AddMember(c.Request.Context(), c.Param("groupID"), request.ActorID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": true})
}

func (h *httpHandler) handleRemoveGroupMember(c *gin.Context) {
	if _, ok := h.requestIdentity(c); !ok {
		return
	}
	if err := h.identities.RemoveMember(c.Request.Context(), c.Param("groupID"), c.Param("actorID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}
