package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/documents"
)

type documentPayload struct {
	DocumentID       string `json:"document_id"`
	OwnerID          string `json:"owner_id"`
	Title            string `json:"title"`
	HTML             string `json:"html"`
	Text             string `json:"text"`
	CurrentVersionNo int64  `json:"current_version_no"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type documentSummaryPayload struct {
	DocumentID       string `json:"document_id"`
	OwnerID          string `json:"owner_id"`
	Title            string `json:"title"`
	CurrentVersionNo int64  `json:"current_version_no"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type versionPayload struct {
	VersionNo        int64  `json:"version_no"`
	HTML             string `json:"html"`
	Text             string `json:"text"`
	Hash             string `json:"hash"`
	AuthorRef        string `json:"author_ref"`
	ChangeNote       string `json:"change_note"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

type editOutcomePayload struct {
	Recorded  bool  `json:"recorded"`
	VersionNo int64 `json:"version_no"`
}

func toDocumentPayload(doc documents.Document) documentPayload {
	return documentPayload{
		DocumentID:       doc.DocumentID,
		OwnerID:          doc.OwnerID,
		Title:            doc.Title,
		HTML:             doc.HTML,
		Text:             doc.Text,
		CurrentVersionNo: doc.CurrentVersionNo,
		CreatedAtSeconds: doc.CreatedAt.UTC().Unix(),
		UpdatedAtSeconds: doc.UpdatedAt.UTC().Unix(),
	}
}

func toVersionPayload(version documents.Version) versionPayload {
	return versionPayload{
		VersionNo:        version.VersionNo,
		HTML:             version.HTML,
		Text:             version.Text,
		Hash:             version.Hash,
		AuthorRef:        version.AuthorRef,
		ChangeNote:       version.ChangeNote,
		CreatedAtSeconds: version.CreatedAt.UTC().Unix(),
	}
}

// observeGateOutcome feeds the authorization counter from a service call
// outcome. The documents service gates internally, so the handler only sees
// the decision through the returned error.
func (h *httpHandler) observeGateOutcome(action access.Action, err error) {
	if err == nil {
		h.metrics.RecordAuthorization(string(action), true)
		return
	}
	if errors.Is(err, access.ErrDenied) {
		h.metrics.RecordAuthorization(string(action), false)
	}
}

type createDocumentPayload struct {
	Title string `json:"title"`
	HTML  string `json:"html"`
	Text  string `json:"text"`
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request createDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	doc, err := h.documents.Create(c.Request.Context(), requestIdentity, request.Title, documents.Content{HTML: request.HTML, Text: request.Text})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.VersionsRecordedTotal.Inc()
	c.JSON(http.StatusCreated, toDocumentPayload(doc))
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), requestIdentity, c.Param("documentID"))
	h.observeGateOutcome(access.ActionView, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(doc))
}

type updateDocumentPayload struct {
	HTML       string `json:"html"`
	Text       string `json:"text"`
	ChangeNote string `json:"change_note"`
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request updateDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.documents.Update(c.Request.Context(), requestIdentity, c.Param("documentID"), documents.Content{HTML: request.HTML, Text: request.Text}, request.ChangeNote)
	h.observeGateOutcome(access.ActionEdit, err)
	if err != nil {
		if errors.Is(err, documents.ErrVersionConflict) {
			h.metrics.EditConflictsTotal.Inc()
		}
		h.respondError(c, err)
		return
	}
	if outcome.Recorded {
		h.metrics.VersionsRecordedTotal.Inc()
	}
	c.JSON(http.StatusOK, editOutcomePayload{Recorded: outcome.Recorded, VersionNo: outcome.VersionNo})
}

type renameDocumentPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleRenameDocument(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	var request renameDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	doc, err := h.documents.Rename(c.Request.Context(), requestIdentity, c.Param("documentID"), request.Title)
	h.observeGateOutcome(access.ActionEdit, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(doc))
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	err := h.documents.Delete(c.Request.Context(), requestIdentity, c.Param("documentID"))
	h.observeGateOutcome(access.ActionDelete, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleExportDocument(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	doc, err := h.documents.Export(c.Request.Context(), requestIdentity, c.Param("documentID"))
	h.observeGateOutcome(access.ActionExport, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.DocumentID+`.html"`)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc.HTML))
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	versions, err := h.documents.ListVersions(c.Request.Context(), requestIdentity, c.Param("documentID"))
	h.observeGateOutcome(access.ActionView, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]versionPayload, 0, len(versions))
	for _, version := range versions {
		payload = append(payload, toVersionPayload(version))
	}
	c.JSON(http.StatusOK, gin.H{"versions": payload})
}

func parseVersionNo(raw string) (int64, bool) {
	versionNo, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || versionNo < 1 {
		return 0, false
	}
	return versionNo, true
}

func (h *httpHandler) handleGetVersion(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	versionNo, ok := parseVersionNo(c.Param("versionNo"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_no"})
		return
	}
	version, err := h.documents.GetVersion(c.Request.Context(), requestIdentity, c.Param("documentID"), versionNo)
	h.observeGateOutcome(access.ActionView, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionPayload(version))
}

type restoreVersionPayload struct {
	ChangeNote string `json:"change_note"`
}

func (h *httpHandler) handleRestoreVersion(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	versionNo, ok := parseVersionNo(c.Param("versionNo"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_no"})
		return
	}
	// The body is optional; restores without a note are common.
	var request restoreVersionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		request = restoreVersionPayload{}
	}

	outcome, err := h.documents.Restore(c.Request.Context(), requestIdentity, c.Param("documentID"), versionNo, request.ChangeNote)
	h.observeGateOutcome(access.ActionEdit, err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if outcome.Recorded {
		h.metrics.VersionsRecordedTotal.Inc()
	}
	c.JSON(http.StatusOK, editOutcomePayload{Recorded: outcome.Recorded, VersionNo: outcome.VersionNo})
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	requestIdentity, ok := h.requestIdentity(c)
	if !ok {
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_query"})
		return
	}

	results, err := h.documents.Search(c.Request.Context(), requestIdentity, query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]documentSummaryPayload, 0, len(results))
	for _, doc := range results {
		payload = append(payload, documentSummaryPayload{
			DocumentID:       doc.DocumentID,
			OwnerID:          doc.OwnerID,
			Title:            doc.Title,
			CurrentVersionNo: doc.CurrentVersionNo,
			UpdatedAtSeconds: doc.UpdatedAt.UTC().Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": payload})
}
