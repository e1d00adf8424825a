package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"valora/api/internal/blob"
	"valora/api/internal/config"
	"valora/api/internal/rbac"
	"valora/api/internal/search"
	"valora/api/internal/store"
)

type fakeStore struct {
	createUserFn            func(context.Context, store.User) error
	getUserByEmailFn        func(context.Context, string) (store.User, error)
	getUserByIDFn           func(context.Context, string) (store.User, error)
	saveRefreshSessionFn    func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn  func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn  func(context.Context, string) error
	revokeAccessTokenFn     func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn  func(context.Context, string) (bool, error)
	insertRequestFn         func(context.Context, store.ValuationRequest) error
	getRequestFn            func(context.Context, string) (store.ValuationRequest, error)
	listRequestsByOwnerFn   func(context.Context, string) ([]store.ValuationRequest, error)
	listRequestsForExpertFn func(context.Context, string) ([]store.ValuationRequest, error)
	claimRequestFn          func(context.Context, string, string) (bool, error)
	updateRequestAddressFn  func(context.Context, string, string) (bool, error)
	appendRequestImagesFn   func(context.Context, string, []string) (bool, error)
	updateRequestStatusFn   func(context.Context, string, string) error
	deleteRequestFn         func(context.Context, string) (bool, error)
	insertMessageFn         func(context.Context, store.Message) error
	listMessagesFn          func(context.Context, string) ([]store.Message, error)
	markThreadReadFn        func(context.Context, string, string) (int64, error)
}

func (f *fakeStore) CreateUser(ctx context.Context, u store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, u)
	}
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: "Test User", Role: "user"}, nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, hash, userID string, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, hash, userID, expiresAt)
	}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, hash)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, hash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, hash)
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, expiresAt)
	}
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) InsertRequest(ctx context.Context, r store.ValuationRequest) error {
	if f.insertRequestFn != nil {
		return f.insertRequestFn(ctx, r)
	}
	return nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id string) (store.ValuationRequest, error) {
	if f.getRequestFn != nil {
		return f.getRequestFn(ctx, id)
	}
	return store.ValuationRequest{}, sql.ErrNoRows
}

func (f *fakeStore) ListRequestsByOwner(ctx context.Context, ownerID string) ([]store.ValuationRequest, error) {
	if f.listRequestsByOwnerFn != nil {
		return f.listRequestsByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (f *fakeStore) ListRequestsForExpert(ctx context.Context, expertID string) ([]store.ValuationRequest, error) {
	if f.listRequestsForExpertFn != nil {
		return f.listRequestsForExpertFn(ctx, expertID)
	}
	return nil, nil
}

func (f *fakeStore) ClaimRequest(ctx context.Context, requestID, expertID string) (bool, error) {
	if f.claimRequestFn != nil {
		return f.claimRequestFn(ctx, requestID, expertID)
	}
	return false, nil
}

func (f *fakeStore) UpdateRequestAddress(ctx context.Context, requestID, address string) (bool, error) {
	if f.updateRequestAddressFn != nil {
		return f.updateRequestAddressFn(ctx, requestID, address)
	}
	return true, nil
}

func (f *fakeStore) AppendRequestImages(ctx context.Context, requestID string, locators []string) (bool, error) {
	if f.appendRequestImagesFn != nil {
		return f.appendRequestImagesFn(ctx, requestID, locators)
	}
	return true, nil
}

func (f *fakeStore) UpdateRequestStatus(ctx context.Context, requestID, status string) error {
	if f.updateRequestStatusFn != nil {
		return f.updateRequestStatusFn(ctx, requestID, status)
	}
	return nil
}

func (f *fakeStore) DeleteRequest(ctx context.Context, requestID string) (bool, error) {
	if f.deleteRequestFn != nil {
		return f.deleteRequestFn(ctx, requestID)
	}
	return true, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, m store.Message) error {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, m)
	}
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, requestID string) ([]store.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, requestID)
	}
	return nil, nil
}

func (f *fakeStore) MarkThreadRead(ctx context.Context, requestID, readerID string) (int64, error) {
	if f.markThreadReadFn != nil {
		return f.markThreadReadFn(ctx, requestID, readerID)
	}
	return 0, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeBlobs struct {
	putAllFn func(context.Context, string, []blob.File) ([]string, error)
	scopes   []string
	removed  []string
}

func (f *fakeBlobs) PutAll(ctx context.Context, scope string, files []blob.File) ([]string, error) {
	f.scopes = append(f.scopes, scope)
	if f.putAllFn != nil {
		return f.putAllFn(ctx, scope, files)
	}
	locators := make([]string, len(files))
	for i := range files {
		locators[i] = "https://cdn.test/valora/" + scope + "/blob-" + string(rune('a'+i))
	}
	return locators, nil
}

func (f *fakeBlobs) Remove(ctx context.Context, locator string) error {
	f.removed = append(f.removed, locator)
	return nil
}

type fakeIndex struct {
	indexed []search.RequestRecord
	removed []string
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}}
}

func (f *fakeIndex) IndexRequest(record search.RequestRecord) {
	f.indexed = append(f.indexed, record)
}

func (f *fakeIndex) RemoveRequest(id string) {
	f.removed = append(f.removed, id)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:             "test-secret",
		AccessTTL:             15 * time.Minute,
		RefreshTTL:            24 * time.Hour,
		MaxImagesPerUpload:    10,
		ExpertReplyInProgress: true,
	}
}

func newTestService(fs *fakeStore) (*Service, *fakeBlobs, *fakeIndex) {
	blobs := &fakeBlobs{}
	index := &fakeIndex{}
	return New(testConfig(), fs, blobs, index), blobs, index
}

func domainStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status, domainErr.Code
}

func TestCreateRequestRequiresAddress(t *testing.T) {
	service, _, _ := newTestService(&fakeStore{})
	actor := Session{UserID: "usr_1", Role: rbac.RoleUser}

	_, err := service.CreateRequest(context.Background(), actor, "   ", nil)
	status, code := domainStatus(t, err)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestCreateRequestIndexesOpenRequest(t *testing.T) {
	var inserted store.ValuationRequest
	fs := &fakeStore{
		insertRequestFn: func(_ context.Context, r store.ValuationRequest) error {
			inserted = r
			return nil
		},
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return inserted, nil
		},
	}
	service, _, index := newTestService(fs)
	actor := Session{UserID: "usr_1", Role: rbac.RoleUser}

	payload, err := service.CreateRequest(context.Background(), actor, "12 Elm St", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if payload["status"] != store.StatusOpen {
		t.Fatalf("status = %v", payload["status"])
	}
	if inserted.OwnerID != "usr_1" {
		t.Fatalf("owner = %s", inserted.OwnerID)
	}
	if len(index.indexed) != 1 || index.indexed[0].Address != "12 Elm St" {
		t.Fatalf("indexed = %+v", index.indexed)
	}
}

func TestCreateRequestCleansBlobsOnInsertFailure(t *testing.T) {
	fs := &fakeStore{
		insertRequestFn: func(context.Context, store.ValuationRequest) error {
			return errors.New("insert request: connection reset")
		},
	}
	service, blobs, _ := newTestService(fs)
	actor := Session{UserID: "usr_1", Role: rbac.RoleUser}

	files := []blob.File{{Data: []byte{0xFF, 0xD8}, ContentType: "image/jpeg"}}
	_, err := service.CreateRequest(context.Background(), actor, "12 Elm St", files)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(blobs.removed) != 1 {
		t.Fatalf("removed %d blobs, want 1", len(blobs.removed))
	}
}

func TestClaimRequiresExpertRole(t *testing.T) {
	service, _, _ := newTestService(&fakeStore{})

	for _, role := range []rbac.Role{rbac.RoleUser, rbac.RoleAgent} {
		_, err := service.Claim(context.Background(), Session{UserID: "usr_1", Role: role}, "req_1")
		status, _ := domainStatus(t, err)
		if status != http.StatusForbidden {
			t.Fatalf("role %s: status %d", role, status)
		}
	}
}

func TestClaimWinner(t *testing.T) {
	expert := "usr_e1"
	fs := &fakeStore{
		claimRequestFn: func(_ context.Context, requestID, expertID string) (bool, error) {
			return expertID == expert, nil
		},
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", ExpertID: &expert, Status: store.StatusClaimed}, nil
		},
	}
	service, _, index := newTestService(fs)

	payload, err := service.Claim(context.Background(), Session{UserID: expert, Role: rbac.RoleExpert}, "req_1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payload["status"] != store.StatusClaimed || payload["expertId"] != expert {
		t.Fatalf("payload = %+v", payload)
	}
	if len(index.removed) != 1 || index.removed[0] != "req_1" {
		t.Fatalf("index removals = %v", index.removed)
	}
}

func TestClaimLoserGetsConflict(t *testing.T) {
	winner := "usr_e1"
	fs := &fakeStore{
		claimRequestFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", ExpertID: &winner, Status: store.StatusClaimed}, nil
		},
	}
	service, _, _ := newTestService(fs)

	_, err := service.Claim(context.Background(), Session{UserID: "usr_e2", Role: rbac.RoleExpert}, "req_1")
	status, code := domainStatus(t, err)
	if status != http.StatusConflict || code != "ALREADY_ASSIGNED" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestClaimMissingRequest(t *testing.T) {
	service, _, _ := newTestService(&fakeStore{})

	_, err := service.Claim(context.Background(), Session{UserID: "usr_e1", Role: rbac.RoleExpert}, "req_gone")
	status, _ := domainStatus(t, err)
	if status != http.StatusNotFound {
		t.Fatalf("status %d, want 404", status)
	}
}

func TestClaimIsTerminalEvenForWinner(t *testing.T) {
	winner := "usr_e1"
	fs := &fakeStore{
		claimRequestFn: func(context.Context, string, string) (bool, error) {
			// Row already has an expert; the conditional update matches nothing.
			return false, nil
		},
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", ExpertID: &winner, Status: store.StatusClaimed}, nil
		},
	}
	service, _, _ := newTestService(fs)

	_, err := service.Claim(context.Background(), Session{UserID: winner, Role: rbac.RoleExpert}, "req_1")
	status, code := domainStatus(t, err)
	if status != http.StatusConflict || code != "ALREADY_ASSIGNED" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestUpdateAddressOwnerOnly(t *testing.T) {
	expert := "usr_e1"
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", ExpertID: &expert}, nil
		},
	}
	service, _, _ := newTestService(fs)

	// Even the assigned expert cannot edit the listing.
	_, err := service.UpdateAddress(context.Background(), Session{UserID: expert, Role: rbac.RoleExpert}, "req_1", "1 New Rd")
	status, code := domainStatus(t, err)
	if status != http.StatusForbidden || code != "ACCESS_DENIED" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestPostMessageValidationBeforeAuthorization(t *testing.T) {
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner"}, nil
		},
	}
	service, _, _ := newTestService(fs)

	// A stranger posting an empty message sees the validation error, not the
	// access denial.
	_, err := service.PostMessage(context.Background(), Session{UserID: "usr_stranger", Role: rbac.RoleUser}, "req_1", "  ", nil)
	status, code := domainStatus(t, err)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestPostMessageStrangerDenied(t *testing.T) {
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner"}, nil
		},
	}
	service, _, _ := newTestService(fs)

	_, err := service.PostMessage(context.Background(), Session{UserID: "usr_stranger", Role: rbac.RoleUser}, "req_1", "hello", nil)
	status, code := domainStatus(t, err)
	if status != http.StatusForbidden || code != "ACCESS_DENIED" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestPostMessageExpertReplyMovesToInProgress(t *testing.T) {
	expert := "usr_e1"
	var statusUpdate string
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", ExpertID: &expert, Status: store.StatusClaimed}, nil
		},
		updateRequestStatusFn: func(_ context.Context, _, status string) error {
			statusUpdate = status
			return nil
		},
	}
	service, _, _ := newTestService(fs)

	_, err := service.PostMessage(context.Background(), Session{UserID: expert, Role: rbac.RoleExpert}, "req_1", "On my way", nil)
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if statusUpdate != store.StatusInProgress {
		t.Fatalf("status update = %q, want %q", statusUpdate, store.StatusInProgress)
	}
}

func TestPostMessageOwnerReplyKeepsStatus(t *testing.T) {
	expert := "usr_e1"
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", ExpertID: &expert, Status: store.StatusClaimed}, nil
		},
		updateRequestStatusFn: func(context.Context, string, string) error {
			t.Fatal("owner reply must not change status")
			return nil
		},
	}
	service, _, _ := newTestService(fs)

	if _, err := service.PostMessage(context.Background(), Session{UserID: "usr_owner", Role: rbac.RoleUser}, "req_1", "Any update?", nil); err != nil {
		t.Fatalf("post message: %v", err)
	}
}

func TestPostMessageStatusFlipDisabled(t *testing.T) {
	expert := "usr_e1"
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", ExpertID: &expert, Status: store.StatusClaimed}, nil
		},
		updateRequestStatusFn: func(context.Context, string, string) error {
			t.Fatal("status flip disabled in config")
			return nil
		},
	}
	cfg := testConfig()
	cfg.ExpertReplyInProgress = false
	service := New(cfg, fs, &fakeBlobs{}, &fakeIndex{})

	if _, err := service.PostMessage(context.Background(), Session{UserID: expert, Role: rbac.RoleExpert}, "req_1", "On it", nil); err != nil {
		t.Fatalf("post message: %v", err)
	}
}

func TestListMessagesMarksThreadRead(t *testing.T) {
	var marked bool
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner"}, nil
		},
		markThreadReadFn: func(_ context.Context, requestID, readerID string) (int64, error) {
			if readerID != "usr_owner" {
				t.Fatalf("reader = %s", readerID)
			}
			marked = true
			return 1, nil
		},
		listMessagesFn: func(context.Context, string) ([]store.Message, error) {
			if !marked {
				t.Fatal("thread listed before marking read")
			}
			return []store.Message{{ID: "msg_1", SenderID: "usr_e1", Body: "hi", IsRead: true}}, nil
		},
	}
	service, _, _ := newTestService(fs)

	items, err := service.ListMessages(context.Background(), Session{UserID: "usr_owner", Role: rbac.RoleUser}, "req_1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(items) != 1 || items[0]["isRead"] != true {
		t.Fatalf("items = %+v", items)
	}
}

func TestDeleteCleansUpThreadBlobs(t *testing.T) {
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner", Images: []string{"loc-a"}}, nil
		},
		listMessagesFn: func(context.Context, string) ([]store.Message, error) {
			return []store.Message{
				{ID: "msg_1", Images: []string{"loc-b", "loc-c"}},
				{ID: "msg_2"},
			}, nil
		},
	}
	service, blobs, index := newTestService(fs)

	if err := service.Delete(context.Background(), Session{UserID: "usr_owner", Role: rbac.RoleUser}, "req_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(blobs.removed) != 3 {
		t.Fatalf("removed %d blobs, want 3", len(blobs.removed))
	}
	if len(index.removed) != 1 {
		t.Fatalf("index removals = %v", index.removed)
	}
}

func TestDeleteStrangerDenied(t *testing.T) {
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner"}, nil
		},
		deleteRequestFn: func(context.Context, string) (bool, error) {
			t.Fatal("delete must not reach the store")
			return false, nil
		},
	}
	service, _, _ := newTestService(fs)

	err := service.Delete(context.Background(), Session{UserID: "usr_stranger", Role: rbac.RoleUser}, "req_1")
	status, _ := domainStatus(t, err)
	if status != http.StatusForbidden {
		t.Fatalf("status %d, want 403", status)
	}
}

func TestListRequestsByRole(t *testing.T) {
	fs := &fakeStore{
		listRequestsByOwnerFn: func(_ context.Context, ownerID string) ([]store.ValuationRequest, error) {
			return []store.ValuationRequest{{ID: "req_mine", OwnerID: ownerID}}, nil
		},
		listRequestsForExpertFn: func(_ context.Context, expertID string) ([]store.ValuationRequest, error) {
			return []store.ValuationRequest{{ID: "req_open"}, {ID: "req_assigned", ExpertID: &expertID}}, nil
		},
	}
	service, _, _ := newTestService(fs)

	mine, err := service.ListRequests(context.Background(), Session{UserID: "usr_1", Role: rbac.RoleUser})
	if err != nil {
		t.Fatalf("list as user: %v", err)
	}
	if len(mine) != 1 || mine[0]["id"] != "req_mine" {
		t.Fatalf("user sees %+v", mine)
	}

	board, err := service.ListRequests(context.Background(), Session{UserID: "usr_e1", Role: rbac.RoleExpert})
	if err != nil {
		t.Fatalf("list as expert: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("expert sees %d requests, want 2", len(board))
	}
}

func TestUpdateAddressRowVanished(t *testing.T) {
	fs := &fakeStore{
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return store.ValuationRequest{ID: id, OwnerID: "usr_owner"}, nil
		},
		updateRequestAddressFn: func(context.Context, string, string) (bool, error) {
			// Deleted out from under us after the load.
			return false, nil
		},
	}
	service, _, _ := newTestService(fs)

	_, err := service.UpdateAddress(context.Background(), Session{UserID: "usr_owner", Role: rbac.RoleUser}, "req_1", "1 New Rd")
	status, code := domainStatus(t, err)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestUploadsScopedPerRequest(t *testing.T) {
	stored := map[string]store.ValuationRequest{}
	fs := &fakeStore{
		insertRequestFn: func(_ context.Context, r store.ValuationRequest) error {
			stored[r.ID] = r
			return nil
		},
		getRequestFn: func(_ context.Context, id string) (store.ValuationRequest, error) {
			return stored[id], nil
		},
	}
	service, blobs, _ := newTestService(fs)
	actor := Session{UserID: "usr_1", Role: rbac.RoleUser}
	files := []blob.File{{Data: []byte{0xFF, 0xD8}, ContentType: "image/jpeg"}}

	first, err := service.CreateRequest(context.Background(), actor, "12 Elm St", files)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := service.CreateRequest(context.Background(), actor, "14 Elm St", files)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	// Identical bytes for two requests must go to two distinct scopes, so
	// deleting one request can never orphan the other's locators.
	if len(blobs.scopes) != 2 || blobs.scopes[0] == blobs.scopes[1] {
		t.Fatalf("scopes = %v", blobs.scopes)
	}
	if blobs.scopes[0] != first["id"] || blobs.scopes[1] != second["id"] {
		t.Fatalf("scopes %v do not match request ids %v, %v", blobs.scopes, first["id"], second["id"])
	}
}
