package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
	"github.com/inkline-hq/inkline/backend/internal/documents"
	"github.com/inkline-hq/inkline/backend/internal/identity"
	"github.com/inkline-hq/inkline/backend/internal/metrics"
	"github.com/inkline-hq/inkline/backend/internal/sharing"
)

const (
	identityContextKey = "inkline_identity"

	defaultLongPollTimeout = 25 * time.Second
	defaultShareTokenTTL   = 24 * time.Hour
)

var (
	errMissingSessionManager   = errors.New("session manager dependency required")
	errMissingIdentityService  = errors.New("identity service dependency required")
	errMissingDocumentsService = errors.New("documents service dependency required")
	errMissingGrantStore       = errors.New("grant store dependency required")
	errMissingGate             = errors.New("access gate dependency required")
	errMissingSharingService   = errors.New("sharing service dependency required")
	errMissingAuditRecorder    = errors.New("audit recorder dependency required")
	errMissingChangeFeed       = errors.New("change feed dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionManager issues and validates the backend's session tokens.
type SessionManager interface {
	IssueSession(ctx context.Context, actorID string) (string, int64, error)
	ValidateSession(token string) (string, error)
}

type Dependencies struct {
	Sessions    SessionManager
	Identities  *identity.Service
	Documents   *documents.Service
	Grants      *access.GrantStore
	Gate        *access.Gate
	Sharing     *sharing.Service
	Audit       *audit.Recorder
	Feed        *audit.Feed
	Dispatcher  *ChangeDispatcher
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
	LongPollMax time.Duration
	ShareTTL    time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentsService
	}
	if deps.Grants == nil {
		return nil, errMissingGrantStore
	}
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	if deps.Sharing == nil {
		return nil, errMissingSharingService
	}
	if deps.Audit == nil {
		return nil, errMissingAuditRecorder
	}
	if deps.Feed == nil {
		return nil, errMissingChangeFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewChangeDispatcher()
	}
	meters := deps.Metrics
	if meters == nil {
		meters = metrics.NewMetrics()
	}
	longPollMax := deps.LongPollMax
	if longPollMax <= 0 {
		longPollMax = defaultLongPollTimeout
	}
	shareTTL := deps.ShareTTL
	if shareTTL <= 0 {
		shareTTL = defaultShareTokenTTL
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:    deps.Sessions,
		identities:  deps.Identities,
		documents:   deps.Documents,
		grants:      deps.Grants,
		gate:        deps.Gate,
		sharing:     deps.Sharing,
		audit:       deps.Audit,
		feed:        deps.Feed,
		dispatcher:  dispatcher,
		metrics:     meters,
		logger:      logger,
		clock:       clock,
		longPollMax: longPollMax,
		shareTTL:    shareTTL,
	}

	router.Use(handler.observeRequest)

	router.POST("/auth/session", handler.handleCreateSession)
	router.GET("/links/:token", handler.handleOpenShareLink)
	router.GET("/qr/:code", handler.handleOpenQRLink)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(meters.Registry(), promhttp.HandlerOpts{})))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents/:documentID", handler.handleGetDocument)
	protected.PUT("/documents/:documentID", handler.handleUpdateDocument)
	protected.PUT("/documents/:documentID/title", handler.handleRenameDocument)
	protected.DELETE("/documents/:documentID", handler.handleDeleteDocument)
	protected.GET("/documents/:documentID/export", handler.handleExportDocument)
	protected.GET("/documents/:documentID/versions", handler.handleListVersions)
	protected.GET("/documents/:documentID/versions/:versionNo", handler.handleGetVersion)
	protected.POST("/documents/:documentID/versions/:versionNo/restore", handler.handleRestoreVersion)
	protected.GET("/documents/:documentID/audit", handler.handleListAudit)
	protected.GET("/documents/:documentID/events", handler.handlePollEvents)
	protected.GET("/search", handler.handleSearch)

	protected.POST("/documents/:documentID/grants", handler.handleCreateGrant)
	protected.GET("/documents/:documentID/grants", handler.handleListGrants)
	protected.PUT("/grants/:grantID", handler.handleUpdateGrant)
	protected.DELETE("/grants/:grantID", handler.handleDeleteGrant)

	protected.POST("/documents/:documentID/links", handler.handleIssueShareLink)
	protected.GET("/documents/:documentID/links", handler.handleListShareLinks)
	protected.POST("/documents/:documentID/links/:linkID/revoke", handler.handleRevokeShareLink)
	protected.POST("/documents/:documentID/qr", handler.handleIssueQRLink)
	protected.POST("/documents/:documentID/qr/:qrID/deactivate", handler.handleDeactivateQRLink)

	protected.POST("/groups", handler.handleCreateGroup)
	protected.GET("/groups/:groupID/members", handler.handleListGroupMembers)
	protected.POST("/groups/:groupID/members", handler.handleAddGroupMember)
	protected.DELETE("/groups/:groupID/members/:actorID", handler.handleRemoveGroupMember)

	return router, nil
}

type httpHandler struct {
	sessions    SessionManager
	identities  *identity.Service
	documents   *documents.Service
	grants      *access.GrantStore
	gate        *access.Gate
	sharing     *sharing.Service
	audit       *audit.Recorder
	feed        *audit.Feed
	dispatcher  *ChangeDispatcher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	clock       func() time.Time
	longPollMax time.Duration
	shareTTL    time.Duration
}

type sessionRequestPayload struct {
	ActorID     string `json:"actor_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ActorID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if _, err := h.identities.EnsureActor(c.Request.Context(), request.ActorID, request.Email, request.DisplayName); err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresIn, err := h.sessions.IssueSession(c.Request.Context(), request.ActorID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.sessions.ValidateSession(token)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	requestIdentity, err := h.identities.Lookup(c.Request.Context(), subject)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownActor) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(identityContextKey, requestIdentity)
	c.Next()
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	start := h.clock()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	h.metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), h.clock().Sub(start))
}

func (h *httpHandler) requestIdentity(c *gin.Context) (access.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return access.Identity{}, false
	}
	requestIdentity, ok := value.(access.Identity)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return access.Identity{}, false
	}
	return requestIdentity, true
}

// authorizeDocumentAction gates a handler-level action (grant and link
// management) and audits denials the same way the documents service does.
func (h *httpHandler) authorizeDocumentAction(c *gin.Context, requestIdentity access.Identity, documentID string, action access.Action) (documents.Document, bool) {
	doc, err := h.documents.Load(c.Request.Context(), documentID)
	if err != nil {
		h.respondError(c, err)
		return documents.Document{}, false
	}
	decision, err := h.gate.Authorize(c.Request.Context(), requestIdentity, access.DocumentRef{ID: doc.DocumentID, OwnerID: doc.OwnerID}, action)
	if err != nil {
		h.respondError(c, err)
		return documents.Document{}, false
	}
	h.metrics.RecordAuthorization(string(action), decision.Allowed)
	if !decision.Allowed {
		if _, err := h.audit.Record(c.Request.Context(), audit.Entry{
			DocumentID:  doc.DocumentID,
			IdentityRef: requestIdentity.AuditRef(),
			Kind:        audit.KindAccessDenied,
			Context:     map[string]any{"action": string(action), "reason": string(decision.Reason)},
		}); err != nil {
			h.respondError(c, err)
			return documents.Document{}, false
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return documents.Document{}, false
	}
	return doc, true
}

type coded interface {
	error
	Code() string
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, access.ErrDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, documents.ErrDocumentNotFound),
		errors.Is(err, documents.ErrVersionNotFound),
		errors.Is(err, access.ErrGrantNotFound),
		errors.Is(err, sharing.ErrLinkNotFound),
		errors.Is(err, identity.ErrGroupNotFound),
		errors.Is(err, identity.ErrUnknownActor):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, sharing.ErrInvalidToken):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_token"})
	case errors.Is(err, documents.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version_conflict"})
	case errors.Is(err, access.ErrInvalidRole),
		errors.Is(err, access.ErrInvalidAction),
		errors.Is(err, identity.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		var codedErr coded
		if errors.As(err, &codedErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": codedErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
