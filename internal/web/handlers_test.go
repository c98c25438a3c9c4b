package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tripbot/internal/database"
	"tripbot/internal/models"
	"tripbot/internal/trips"
)

type mockStore struct {
	CreateTripFunc         func(name string, groupID int64, limit *int, price int64, cardInfo, agreementText string) (*models.Trip, error)
	GetTripFunc            func(tripID int64) (*models.Trip, error)
	GetTripByGroupIDFunc   func(groupID int64) (*models.Trip, error)
	ListActiveTripsFunc    func() ([]models.Trip, error)
	UpdateTripFunc         func(tripID int64, name string, limit *int, price int64, cardInfo, agreementText string) error
	SetTripStatusFunc      func(tripID int64, status models.TripStatus) error
	SetTripInviteLinksFunc func(tripID int64, participantLink, guestLink string) error
	DeleteTripFunc         func(tripID int64) (bool, error)
	ListMembersFunc        func(tripID int64) ([]models.MemberDetail, error)
	GetMembershipByIDFunc  func(memberID int64) (*models.Membership, error)
	GetUserByIDFunc        func(userID int64) (*models.User, error)
}

func (m *mockStore) CreateTrip(name string, groupID int64, limit *int, price int64, cardInfo, agreementText string) (*models.Trip, error) {
	return m.CreateTripFunc(name, groupID, limit, price, cardInfo, agreementText)
}

func (m *mockStore) GetTrip(tripID int64) (*models.Trip, error) {
	if m.GetTripFunc != nil {
		return m.GetTripFunc(tripID)
	}
	return nil, database.ErrNotFound
}

func (m *mockStore) GetTripByGroupID(groupID int64) (*models.Trip, error) {
	if m.GetTripByGroupIDFunc != nil {
		return m.GetTripByGroupIDFunc(groupID)
	}
	return nil, database.ErrNotFound
}

func (m *mockStore) ListActiveTrips() ([]models.Trip, error) {
	if m.ListActiveTripsFunc != nil {
		return m.ListActiveTripsFunc()
	}
	return nil, nil
}

func (m *mockStore) UpdateTrip(tripID int64, name string, limit *int, price int64, cardInfo, agreementText string) error {
	if m.UpdateTripFunc != nil {
		return m.UpdateTripFunc(tripID, name, limit, price, cardInfo, agreementText)
	}
	return nil
}

func (m *mockStore) SetTripStatus(tripID int64, status models.TripStatus) error {
	if m.SetTripStatusFunc != nil {
		return m.SetTripStatusFunc(tripID, status)
	}
	return nil
}

func (m *mockStore) SetTripInviteLinks(tripID int64, participantLink, guestLink string) error {
	if m.SetTripInviteLinksFunc != nil {
		return m.SetTripInviteLinksFunc(tripID, participantLink, guestLink)
	}
	return nil
}

func (m *mockStore) DeleteTrip(tripID int64) (bool, error) {
	if m.DeleteTripFunc != nil {
		return m.DeleteTripFunc(tripID)
	}
	return false, nil
}

func (m *mockStore) ListMembers(tripID int64) ([]models.MemberDetail, error) {
	if m.ListMembersFunc != nil {
		return m.ListMembersFunc(tripID)
	}
	return nil, nil
}

func (m *mockStore) GetMembershipByID(memberID int64) (*models.Membership, error) {
	if m.GetMembershipByIDFunc != nil {
		return m.GetMembershipByIDFunc(memberID)
	}
	return nil, database.ErrNotFound
}

func (m *mockStore) GetUserByID(userID int64) (*models.User, error) {
	if m.GetUserByIDFunc != nil {
		return m.GetUserByIDFunc(userID)
	}
	return nil, database.ErrNotFound
}

type mockService struct {
	AdminSetStatusFunc func(memberID int64, status models.PaymentStatus) (*models.Membership, error)
	SeatsFunc          func(trip *models.Trip) (trips.Seats, error)
}

func (m *mockService) AdminSetStatus(memberID int64, status models.PaymentStatus) (*models.Membership, error) {
	return m.AdminSetStatusFunc(memberID, status)
}

func (m *mockService) Seats(trip *models.Trip) (trips.Seats, error) {
	if m.SeatsFunc != nil {
		return m.SeatsFunc(trip)
	}
	return trips.Seats{}, nil
}

type mockLinker struct {
	CreateInviteLinksFunc func(groupID int64) (string, string, error)
}

func (m *mockLinker) CreateInviteLinks(groupID int64) (string, string, error) {
	if m.CreateInviteLinksFunc != nil {
		return m.CreateInviteLinksFunc(groupID)
	}
	return "https://t.me/+p", "https://t.me/+g", nil
}

type mockRevoker struct {
	calls []int64
}

func (m *mockRevoker) Revoke(groupID, telegramID int64) {
	m.calls = append(m.calls, telegramID)
}

type mockNotifier struct {
	notified []int64
}

func (m *mockNotifier) Notify(chatID int64, text string) {
	m.notified = append(m.notified, chatID)
}

type fixture struct {
	server   *Server
	store    *mockStore
	service  *mockService
	revoker  *mockRevoker
	notifier *mockNotifier
	token    string
}

func newFixture(store *mockStore, service *mockService) *fixture {
	gin.SetMode(gin.TestMode)
	sessions := NewSessions()
	revoker := &mockRevoker{}
	notifier := &mockNotifier{}
	server := NewServer(store, service, &mockLinker{}, revoker, notifier, sessions, zap.NewNop())

	return &fixture{
		server:   server,
		store:    store,
		service:  service,
		revoker:  revoker,
		notifier: notifier,
		token:    sessions.Issue(42),
	}
}

func (f *fixture) do(method, path string, body interface{}, authorized bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	return w
}

func TestAuth_RejectsMissingAndBogusTokens(t *testing.T) {
	f := newFixture(&mockStore{}, &mockService{})

	w := f.do(http.MethodGet, "/api/trips", nil, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	w = httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bogus token: expected 401, got %d", w.Code)
	}
}

func TestAuth_AdminHeaderIsNotTrusted(t *testing.T) {
	f := newFixture(&mockStore{}, &mockService{})

	req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
	req.Header.Set("X-Admin-Id", "42")
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("client-asserted admin identity must be ignored, got %d", w.Code)
	}
}

func TestCreateTrip(t *testing.T) {
	limit := 20
	store := &mockStore{
		CreateTripFunc: func(name string, groupID int64, l *int, price int64, cardInfo, agreementText string) (*models.Trip, error) {
			return &models.Trip{ID: 7, Name: name, GroupID: groupID, Limit: l, Price: price, Status: models.TripActive}, nil
		},
	}
	f := newFixture(store, &mockService{
		SeatsFunc: func(trip *models.Trip) (trips.Seats, error) {
			return trips.Seats{Reserved: 0, Available: 20, Limited: true}, nil
		},
	})

	w := f.do(http.MethodPost, "/api/trips", gin.H{
		"name": "Samarkand", "group_id": -500, "participant_limit": limit, "price": 100000,
	}, true)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp["seats_available"].(float64) != 20 {
		t.Errorf("expected 20 seats available, got %v", resp["seats_available"])
	}
}

func TestCreateTrip_DuplicateGroup(t *testing.T) {
	store := &mockStore{
		CreateTripFunc: func(name string, groupID int64, l *int, price int64, cardInfo, agreementText string) (*models.Trip, error) {
			return nil, database.ErrDuplicate
		},
	}
	f := newFixture(store, &mockService{})

	w := f.do(http.MethodPost, "/api/trips", gin.H{"name": "Samarkand", "group_id": -500}, true)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate group, got %d", w.Code)
	}
}

func TestCreateTrip_RejectsBadPayloads(t *testing.T) {
	f := newFixture(&mockStore{}, &mockService{})

	cases := []gin.H{
		{"group_id": -500},                                      // no name
		{"name": "X"},                                           // no group
		{"name": "X", "group_id": -500, "price": -1},            // negative price
		{"name": "X", "group_id": -500, "participant_limit": 0}, // zero limit
	}
	for i, payload := range cases {
		w := f.do(http.MethodPost, "/api/trips", payload, true)
		if w.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, w.Code)
		}
	}
}

func TestSetMemberStatus(t *testing.T) {
	var gotStatus models.PaymentStatus
	service := &mockService{
		AdminSetStatusFunc: func(memberID int64, status models.PaymentStatus) (*models.Membership, error) {
			gotStatus = status
			return &models.Membership{ID: memberID, PaymentStatus: status}, nil
		},
	}
	f := newFixture(&mockStore{}, service)

	w := f.do(http.MethodPost, "/api/members/3/status", gin.H{"status": "full_paid"}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotStatus != models.FullPaid {
		t.Errorf("expected full_paid to reach the service, got %s", gotStatus)
	}
}

func TestSetMemberStatus_UnknownStatus(t *testing.T) {
	f := newFixture(&mockStore{}, &mockService{})

	w := f.do(http.MethodPost, "/api/members/3/status", gin.H{"status": "paid"}, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestSetMemberStatus_NotFound(t *testing.T) {
	service := &mockService{
		AdminSetStatusFunc: func(memberID int64, status models.PaymentStatus) (*models.Membership, error) {
			return nil, trips.ErrMembershipNotFound
		},
	}
	f := newFixture(&mockStore{}, service)

	w := f.do(http.MethodPost, "/api/members/3/status", gin.H{"status": "not_paid"}, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestKickMember(t *testing.T) {
	store := &mockStore{
		GetMembershipByIDFunc: func(memberID int64) (*models.Membership, error) {
			return &models.Membership{ID: memberID, UserID: 11, TripID: 7}, nil
		},
		GetTripFunc: func(tripID int64) (*models.Trip, error) {
			return &models.Trip{ID: tripID, Name: "Samarkand", GroupID: -500}, nil
		},
		GetUserByIDFunc: func(userID int64) (*models.User, error) {
			return &models.User{ID: userID, TelegramID: 1001}, nil
		},
	}
	f := newFixture(store, &mockService{})

	w := f.do(http.MethodPost, "/api/members/3/kick", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.revoker.calls) != 1 || f.revoker.calls[0] != 1001 {
		t.Errorf("expected one revoke for telegram id 1001, got %v", f.revoker.calls)
	}
	if len(f.notifier.notified) != 1 {
		t.Errorf("expected the kicked user to be notified, got %v", f.notifier.notified)
	}
}

func TestExportCSV(t *testing.T) {
	email := "alice@example.com"
	receipt := "file-1"
	store := &mockStore{
		GetTripFunc: func(tripID int64) (*models.Trip, error) {
			return &models.Trip{ID: tripID, Name: "Samarkand", GroupID: -500}, nil
		},
		ListMembersFunc: func(tripID int64) ([]models.MemberDetail, error) {
			return []models.MemberDetail{
				{
					Membership: models.Membership{ID: 1, PaymentStatus: models.HalfPaid, ReceiptFileID: &receipt},
					TelegramID: 1001, FirstName: "Alice", Email: &email,
				},
			}, nil
		},
	}
	f := newFixture(store, &mockService{})

	w := f.do(http.MethodGet, "/api/trips/7/export", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "Alice") || !strings.Contains(body, "half_paid") {
		t.Errorf("expected member row in csv, got:\n%s", body)
	}
	if !strings.Contains(body, "alice@example.com") {
		t.Errorf("expected email in csv, got:\n%s", body)
	}
}

func TestTripStatus_Lifecycle(t *testing.T) {
	var gotStatus models.TripStatus
	store := &mockStore{
		GetTripFunc: func(tripID int64) (*models.Trip, error) {
			return &models.Trip{ID: tripID, Status: models.TripActive}, nil
		},
		SetTripStatusFunc: func(tripID int64, status models.TripStatus) error {
			gotStatus = status
			return nil
		},
	}
	f := newFixture(store, &mockService{})

	w := f.do(http.MethodPost, "/api/trips/7/status", gin.H{"status": "completed"}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotStatus != models.TripCompleted {
		t.Errorf("expected completed, got %s", gotStatus)
	}

	w = f.do(http.MethodPost, "/api/trips/7/status", gin.H{"status": "archived"}, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown trip status, got %d", w.Code)
	}
}

func TestDeleteTrip(t *testing.T) {
	var deletedID int64
	store := &mockStore{
		DeleteTripFunc: func(tripID int64) (bool, error) {
			deletedID = tripID
			return tripID == 7, nil
		},
	}
	f := newFixture(store, &mockService{})

	w := f.do(http.MethodDelete, "/api/trips/7", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if deletedID != 7 {
		t.Errorf("expected trip 7 deleted, got %d", deletedID)
	}

	w = f.do(http.MethodDelete, "/api/trips/8", nil, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing trip, got %d", w.Code)
	}
}

func TestRegenerateInviteLinks(t *testing.T) {
	var storedParticipant, storedGuest string
	store := &mockStore{
		GetTripFunc: func(tripID int64) (*models.Trip, error) {
			return &models.Trip{ID: tripID, GroupID: -500}, nil
		},
		SetTripInviteLinksFunc: func(tripID int64, participantLink, guestLink string) error {
			storedParticipant, storedGuest = participantLink, guestLink
			return nil
		},
	}
	f := newFixture(store, &mockService{})

	w := f.do(http.MethodPost, "/api/trips/7/invite-links/regenerate", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if storedParticipant == "" || storedGuest == "" {
		t.Error("expected both links to be stored")
	}
}
