package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"valora/api/internal/auth"
	"valora/api/internal/authpw"
	"valora/api/internal/blob"
	"valora/api/internal/config"
	"valora/api/internal/rbac"
	"valora/api/internal/search"
	"valora/api/internal/store"
	"valora/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         rbac.Role
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertRequest(context.Context, store.ValuationRequest) error
	GetRequest(context.Context, string) (store.ValuationRequest, error)
	ListRequestsByOwner(context.Context, string) ([]store.ValuationRequest, error)
	ListRequestsForExpert(context.Context, string) ([]store.ValuationRequest, error)
	ClaimRequest(context.Context, string, string) (bool, error)
	UpdateRequestAddress(context.Context, string, string) (bool, error)
	AppendRequestImages(context.Context, string, []string) (bool, error)
	UpdateRequestStatus(context.Context, string, string) error
	DeleteRequest(context.Context, string) (bool, error)
	InsertMessage(context.Context, store.Message) error
	ListMessages(context.Context, string) ([]store.Message, error)
	MarkThreadRead(context.Context, string, string) (int64, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions; Redis when configured, otherwise the
// primary store.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type blobStore interface {
	PutAll(ctx context.Context, scope string, files []blob.File) ([]string, error)
	Remove(context.Context, string) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexRequest(search.RequestRecord)
	RemoveRequest(string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blobs    blobStore
	search   searchIndex
	authpw   *authpw.Service
}

func New(cfg config.Config, store dataStore, blobs blobStore, search searchIndex) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		sessions: store,
		blobs:    blobs,
		search:   search,
		authpw:   authpw.NewService(store),
	}
}

func NewWithSessionStore(cfg config.Config, store dataStore, sessions sessionStore, blobs blobStore, search searchIndex) *Service {
	service := New(cfg, store, blobs, search)
	service.sessions = sessions
	return service
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues an access token and a refresh token for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refreshToken := util.NewID("rt")
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         rbac.Normalize(user.Role),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and rejects revoked jtis.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Role:      rbac.Normalize(claims.Role),
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token: the old session is revoked and a new
// access/refresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	sessionUser, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, sessionUser.ID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Logout revokes the refresh session and the access token's jti.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("logout: revoke refresh session: %v", err)
		}
	}
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRequest stores a new valuation request. Images are uploaded first,
// all-or-nothing; the row is only inserted once every blob is durable.
func (s *Service) CreateRequest(ctx context.Context, actor Session, address string, files []blob.File) (map[string]any, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errValidation("address is required")
	}
	if len(files) > s.cfg.MaxImagesPerUpload {
		return nil, errValidation(fmt.Sprintf("at most %d images per request", s.cfg.MaxImagesPerUpload))
	}

	requestID := util.NewID("req")
	locators, err := s.uploadImages(ctx, requestID, files)
	if err != nil {
		return nil, err
	}

	request := store.ValuationRequest{
		ID:      requestID,
		OwnerID: actor.UserID,
		Address: address,
		Images:  locators,
		Status:  store.StatusOpen,
	}
	if err := s.store.InsertRequest(ctx, request); err != nil {
		s.removeBlobs(ctx, locators)
		return nil, err
	}

	created, err := s.store.GetRequest(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	s.search.IndexRequest(search.RequestRecord{ID: created.ID, Address: created.Address, Status: created.Status})
	return requestPayload(created), nil
}

// ListRequests returns what the actor may see: experts get every unclaimed
// request plus their own assignments, everyone else their own requests.
func (s *Service) ListRequests(ctx context.Context, actor Session) ([]map[string]any, error) {
	var items []store.ValuationRequest
	var err error
	if actor.Role == rbac.RoleExpert {
		items, err = s.store.ListRequestsForExpert(ctx, actor.UserID)
	} else {
		items, err = s.store.ListRequestsByOwner(ctx, actor.UserID)
	}
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, requestPayload(item))
	}
	return payload, nil
}

// SearchRequests runs an address search over claimable requests.
func (s *Service) SearchRequests(query string, limit int) search.Response {
	return s.search.Search(search.Query{Text: query, Limit: limit})
}

// GetRequest loads a request the actor is allowed to read.
func (s *Service) GetRequest(ctx context.Context, actor Session, requestID string) (map[string]any, error) {
	request, err := s.authorizedRequest(ctx, actor, requestID, OpRead)
	if err != nil {
		return nil, err
	}
	return requestPayload(request), nil
}

// Claim atomically assigns an unclaimed request to the calling expert.
// Claiming is terminal; a second claim by anyone, the winner included,
// conflicts.
func (s *Service) Claim(ctx context.Context, actor Session, requestID string) (map[string]any, error) {
	if !rbac.Can(actor.Role, rbac.ActionClaim) {
		return nil, errForbiddenRole("Only experts may claim requests")
	}

	claimed, err := s.store.ClaimRequest(ctx, requestID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if _, err := s.store.GetRequest(ctx, requestID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errNotFound()
			}
			return nil, err
		}
		return nil, errAlreadyAssigned()
	}

	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	s.search.RemoveRequest(requestID)
	return requestPayload(request), nil
}

// UpdateAddress changes the request address. Owner only; the assigned expert
// may message and delete but not edit the listing itself.
func (s *Service) UpdateAddress(ctx context.Context, actor Session, requestID, address string) (map[string]any, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errValidation("address is required")
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != request.OwnerID {
		return nil, errAccessDenied()
	}

	// The row can vanish between the load and the update.
	changed, err := s.store.UpdateRequestAddress(ctx, requestID, address)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errNotFound()
	}
	updated, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if updated.ExpertID == nil {
		s.search.IndexRequest(search.RequestRecord{ID: updated.ID, Address: updated.Address, Status: updated.Status})
	}
	return requestPayload(updated), nil
}

// AppendImages uploads attachments and appends their locators to the request.
func (s *Service) AppendImages(ctx context.Context, actor Session, requestID string, files []blob.File) (map[string]any, error) {
	if len(files) == 0 {
		return nil, errValidation("at least one image is required")
	}
	if len(files) > s.cfg.MaxImagesPerUpload {
		return nil, errValidation(fmt.Sprintf("at most %d images per upload", s.cfg.MaxImagesPerUpload))
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != request.OwnerID {
		return nil, errAccessDenied()
	}

	// Each batch gets a fresh scope so cleanup of a failed append can never
	// touch an object an earlier upload already references.
	locators, err := s.uploadImages(ctx, util.NewID("att"), files)
	if err != nil {
		return nil, err
	}
	appended, err := s.store.AppendRequestImages(ctx, requestID, locators)
	if err != nil {
		s.removeBlobs(ctx, locators)
		return nil, err
	}
	if !appended {
		s.removeBlobs(ctx, locators)
		return nil, errNotFound()
	}

	updated, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return requestPayload(updated), nil
}

// Delete removes a request and, transactionally, its whole message thread.
// Blobs are cleaned up best-effort afterwards; the rows are the system of
// record.
func (s *Service) Delete(ctx context.Context, actor Session, requestID string) error {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !Authorize(request, actor.UserID, actor.Role, OpDelete) {
		return errAccessDenied()
	}

	orphaned := append([]string{}, request.Images...)
	messages, err := s.store.ListMessages(ctx, requestID)
	if err != nil {
		return err
	}
	for _, message := range messages {
		orphaned = append(orphaned, message.Images...)
	}

	deleted, err := s.store.DeleteRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound()
	}

	s.removeBlobs(ctx, orphaned)
	s.search.RemoveRequest(requestID)
	return nil
}

// ListMessages returns the thread in creation order. Viewing marks every
// message from the other party as read; that write is deliberate and happens
// before the read so the response reflects it.
func (s *Service) ListMessages(ctx context.Context, actor Session, requestID string) ([]map[string]any, error) {
	if _, err := s.authorizedRequest(ctx, actor, requestID, OpRead); err != nil {
		return nil, err
	}

	if _, err := s.store.MarkThreadRead(ctx, requestID, actor.UserID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, requestID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		payload = append(payload, messagePayload(message))
	}
	return payload, nil
}

// PostMessage appends a message to the thread. Body and images cannot both be
// empty, regardless of who asks.
func (s *Service) PostMessage(ctx context.Context, actor Session, requestID, body string, files []blob.File) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" && len(files) == 0 {
		return nil, errValidation("message body or images required")
	}
	if len(files) > s.cfg.MaxImagesPerUpload {
		return nil, errValidation(fmt.Sprintf("at most %d images per message", s.cfg.MaxImagesPerUpload))
	}

	request, err := s.authorizedRequest(ctx, actor, requestID, OpWrite)
	if err != nil {
		return nil, err
	}

	messageID := util.NewID("msg")
	locators, err := s.uploadImages(ctx, messageID, files)
	if err != nil {
		return nil, err
	}

	message := store.Message{
		ID:        messageID,
		RequestID: requestID,
		SenderID:  actor.UserID,
		Body:      body,
		Images:    locators,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		s.removeBlobs(ctx, locators)
		return nil, err
	}

	if s.cfg.ExpertReplyInProgress &&
		request.ExpertID != nil && *request.ExpertID == actor.UserID &&
		request.Status == store.StatusClaimed {
		if err := s.store.UpdateRequestStatus(ctx, requestID, store.StatusInProgress); err != nil {
			log.Printf("post message: move request %s to %s: %v", requestID, store.StatusInProgress, err)
		}
	}

	created, err := s.store.ListMessages(ctx, requestID)
	if err != nil {
		return messagePayload(message), nil
	}
	for _, item := range created {
		if item.ID == message.ID {
			return messagePayload(item), nil
		}
	}
	return messagePayload(message), nil
}

func (s *Service) loadRequest(ctx context.Context, requestID string) (store.ValuationRequest, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ValuationRequest{}, errNotFound()
		}
		return store.ValuationRequest{}, err
	}
	return request, nil
}

func (s *Service) authorizedRequest(ctx context.Context, actor Session, requestID string, op Operation) (store.ValuationRequest, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return store.ValuationRequest{}, err
	}
	if !Authorize(request, actor.UserID, actor.Role, op) {
		return store.ValuationRequest{}, errAccessDenied()
	}
	return request, nil
}

func (s *Service) uploadImages(ctx context.Context, scope string, files []blob.File) ([]string, error) {
	if len(files) == 0 {
		return []string{}, nil
	}
	locators, err := s.blobs.PutAll(ctx, scope, files)
	if err != nil {
		if errors.Is(err, blob.ErrUnsupportedMediaType) {
			return nil, domainError(415, "UNSUPPORTED_MEDIA_TYPE", err.Error(), nil)
		}
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, domainError(413, "FILE_TOO_LARGE", err.Error(), nil)
		}
		return nil, domainError(502, "STORAGE_ERROR", "Image upload failed", nil)
	}
	return locators, nil
}

func (s *Service) removeBlobs(ctx context.Context, locators []string) {
	for _, locator := range locators {
		if err := s.blobs.Remove(ctx, locator); err != nil {
			log.Printf("blob cleanup: %v", err)
		}
	}
}

func requestPayload(item store.ValuationRequest) map[string]any {
	var expertID any
	if item.ExpertID != nil {
		expertID = *item.ExpertID
	}
	return map[string]any{
		"id":        item.ID,
		"ownerId":   item.OwnerID,
		"expertId":  expertID,
		"address":   item.Address,
		"images":    item.Images,
		"status":    item.Status,
		"createdAt": item.CreatedAt,
		"updatedAt": item.UpdatedAt,
	}
}

func messagePayload(item store.Message) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"requestId": item.RequestID,
		"senderId":  item.SenderID,
		"body":      item.Body,
		"images":    item.Images,
		"isRead":    item.IsRead,
		"createdAt": item.CreatedAt,
	}
}
