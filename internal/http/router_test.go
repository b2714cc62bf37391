package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/reloop/internal/application"
	"github.com/MrJamesThe3rd/reloop/internal/arbitration"
	"github.com/MrJamesThe3rd/reloop/internal/auth"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/exchangetest"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/memstore"
	reloopHttp "github.com/MrJamesThe3rd/reloop/internal/http"
	applicationHandler "github.com/MrJamesThe3rd/reloop/internal/http/application"
	notificationHandler "github.com/MrJamesThe3rd/reloop/internal/http/notification"
	paymentHandler "github.com/MrJamesThe3rd/reloop/internal/http/payment"
	postingHandler "github.com/MrJamesThe3rd/reloop/internal/http/posting"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
	"github.com/MrJamesThe3rd/reloop/internal/payment"
	"github.com/MrJamesThe3rd/reloop/internal/posting"
)

type server struct {
	t       *testing.T
	f       *exchangetest.Fixture
	authn   *auth.Authenticator
	handler http.Handler
}

func newServer(t *testing.T, repo exchange.Repository) *server {
	t.Helper()

	f := exchangetest.New(t)
	if repo == nil {
		repo = f.Store
	}

	authn := auth.NewAuthenticator("test-secret", "reloop")
	notes := notification.NewMemoryStore()
	notifier := notification.NewStoreNotifier(notes, notification.NewLocalizer("en"))
	gateway := payment.NewMidtransClient(payment.MidtransOptions{Mock: true})

	postings, err := posting.NewService(repo, f.Ledger, gateway, 16, posting.WithNotifier(notifier))
	require.NoError(t, err)

	h := reloopHttp.New(authn, reloopHttp.Handlers{
		Postings: postingHandler.NewHandler(postings),
		Applications: applicationHandler.NewHandler(
			application.NewService(repo, f.Ledger, application.WithNotifier(notifier)),
			arbitration.NewEngine(repo, f.Ledger, notifier),
		),
		Payments: paymentHandler.NewHandler(
			payment.NewService(repo),
			payment.NewReconciler(repo, f.Ledger, notifier),
		),
		Notifications: notificationHandler.NewHandler(notification.NewService(notes)),
	}, []string{"*"})

	return &server{t: t, f: f, authn: authn, handler: h}
}

func (s *server) token(id uuid.UUID, admin bool) string {
	s.t.Helper()

	tok, err := s.authn.IssueToken(id, admin, time.Hour)
	require.NoError(s.t, err)

	return tok
}

// do sends body as JSON and decodes the response into out when it is set.
func (s *server) do(method, path, token string, body, out any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}

	return rec
}

func (s *server) postingBody(u exchangetest.User, typ exchange.Type, name string) map[string]any {
	return map[string]any{
		"type":        typ,
		"name":        name,
		"category_id": s.f.Category.ID,
		"address_id":  u.AddressID,
		"phone_id":    u.PhoneID,
	}
}

type postingJSON struct {
	ID      uuid.UUID `json:"id"`
	Status  string    `json:"current_status"`
	Payment *struct {
		OrderID  string `json:"order_id"`
		Total    int64  `json:"total"`
		VANumber string `json:"va_number"`
		Status   string `json:"status"`
	} `json:"payment"`
}

type errorJSON struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields"`
}

func TestRouter_Health(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Authentication(t *testing.T) {
	s := newServer(t, nil)
	user := s.f.User()

	type testCase struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}

	tests := []testCase{
		{"MissingToken", http.MethodGet, "/api/v1/postings", "", http.StatusUnauthorized},
		{"GarbageToken", http.MethodGet, "/api/v1/postings", "not-a-jwt", http.StatusUnauthorized},
		{"ValidToken", http.MethodGet, "/api/v1/postings", s.token(user.ID, false), http.StatusOK},
		{"TransitionNeedsAdmin", http.MethodPost, "/api/v1/postings/" + uuid.NewString() + "/transitions", s.token(user.ID, false), http.StatusForbidden},
		{"WebhookNeedsNoToken", http.MethodPost, "/api/v1/payments/notifications", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any
			if tt.method == http.MethodPost {
				body = map[string]string{}
			}

			rec := s.do(tt.method, tt.path, tt.token, body, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_PostingErrors(t *testing.T) {
	s := newServer(t, nil)
	owner := s.f.User()
	tok := s.token(owner.ID, false)

	t.Run("Validation", func(t *testing.T) {
		body := s.postingBody(owner, exchange.TypeDonation, "")

		rec := s.do(http.MethodPost, "/api/v1/postings", tok, body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var e errorJSON
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
		assert.Equal(t, "request.invalid", e.Error)
		assert.Contains(t, e.Fields, "name")
	})

	t.Run("ForeignAddress", func(t *testing.T) {
		body := s.postingBody(owner, exchange.TypeDonation, "Sofa")
		body["address_id"] = s.f.User().AddressID

		rec := s.do(http.MethodPost, "/api/v1/postings", tok, body, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	})

	t.Run("UnknownPosting", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/v1/postings/"+uuid.NewString(), tok, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("MalformedID", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/v1/postings/not-a-uuid", tok, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_AdminTransition(t *testing.T) {
	s := newServer(t, nil)
	owner := s.f.User()

	var created postingJSON
	rec := s.do(http.MethodPost, "/api/v1/postings", s.token(owner.ID, false), s.postingBody(owner, exchange.TypeDonation, "Sofa"), &created)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, string(exchange.StatusSubmitted), created.Status)

	admin := s.token(uuid.New(), true)
	path := "/api/v1/postings/" + created.ID.String() + "/transitions"

	var moved postingJSON
	rec = s.do(http.MethodPost, path, admin, map[string]string{"status": "confirmed", "note": "picked up"}, &moved)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", moved.Status)

	rec = s.do(http.MethodPost, path, admin, map[string]string{"status": "submitted"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var history []struct {
		Status     string `json:"status"`
		MessageKey string `json:"message_key"`
	}
	rec = s.do(http.MethodGet, "/api/v1/postings/"+created.ID.String()+"/history", admin, nil, &history)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, history, 2)
	assert.Equal(t, "donation.request.confirmed_detail", history[1].MessageKey)
}

func TestRouter_BarterFlow(t *testing.T) {
	s := newServer(t, nil)
	owner, alice, bob := s.f.User(), s.f.User(), s.f.User()
	ownerTok, aliceTok, bobTok := s.token(owner.ID, false), s.token(alice.ID, false), s.token(bob.ID, false)

	var p postingJSON
	rec := s.do(http.MethodPost, "/api/v1/postings", ownerTok, s.postingBody(owner, exchange.TypeBarter, "Guitar"), &p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	apps := "/api/v1/postings/" + p.ID.String() + "/applications"

	offer := func(name string) map[string]any {
		return map[string]any{"item_name": name, "item_category_id": s.f.Category.ID}
	}

	type appJSON struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"current_status"`
	}

	var a1, a2 appJSON
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, apps, aliceTok, offer("Bike"), &a1).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, apps, bobTok, offer("Drum"), &a2).Code)

	t.Run("DuplicateOffer", func(t *testing.T) {
		rec := s.do(http.MethodPost, apps, aliceTok, offer("Bike"), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("OwnPosting", func(t *testing.T) {
		rec := s.do(http.MethodPost, apps, ownerTok, offer("Amp"), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("ListVisibility", func(t *testing.T) {
		var all, mine []appJSON
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, apps, ownerTok, nil, &all).Code)
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, apps, aliceTok, nil, &mine).Code)

		assert.Len(t, all, 2)
		require.Len(t, mine, 1)
		assert.Equal(t, a1.ID, mine[0].ID)
	})

	t.Run("ViewByStranger", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/v1/applications/"+a1.ID.String(), bobTok, nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("DecisionByApplicant", func(t *testing.T) {
		rec := s.do(http.MethodPost, apps+"/"+a1.ID.String()+"/decision", aliceTok, map[string]string{"action": "accept"}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("UnknownAction", func(t *testing.T) {
		rec := s.do(http.MethodPost, apps+"/"+a1.ID.String()+"/decision", ownerTok, map[string]string{"action": "maybe"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	var d struct {
		PostingStatus string      `json:"posting_status"`
		Application   appJSON     `json:"application"`
		AutoDeclined  []uuid.UUID `json:"auto_declined"`
	}
	rec = s.do(http.MethodPost, apps+"/"+a1.ID.String()+"/decision", ownerTok, map[string]string{"action": "accept"}, &d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", d.PostingStatus)
	assert.Equal(t, "confirmed", d.Application.Status)
	assert.Equal(t, []uuid.UUID{a2.ID}, d.AutoDeclined)

	rec = s.do(http.MethodPost, apps+"/"+a2.ID.String()+"/decision", ownerTok, map[string]string{"action": "accept"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var failed appJSON
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/applications/"+a2.ID.String(), bobTok, nil, &failed).Code)
	assert.Equal(t, "failed", failed.Status)

	var done struct {
		Posting     postingJSON `json:"posting"`
		Application string      `json:"application_status"`
	}
	rec = s.do(http.MethodPost, "/api/v1/postings/"+p.ID.String()+"/completed", ownerTok, nil, &done)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", done.Posting.Status)
	assert.Equal(t, "completed", done.Application)
}

func TestRouter_RepairPayment(t *testing.T) {
	s := newServer(t, nil)
	owner := s.f.User()
	ownerTok := s.token(owner.ID, false)

	body := s.postingBody(owner, exchange.TypeRepair, "Radio")
	body["item_weight"] = 2
	body["repair_type"] = "minor_repair"
	body["payment_method"] = "bank_transfer"
	body["bank"] = "BCA"

	var p postingJSON
	rec := s.do(http.MethodPost, "/api/v1/postings", ownerTok, body, &p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, p.Payment)
	assert.Equal(t, "pending", p.Payment.Status)
	assert.NotEmpty(t, p.Payment.VANumber)

	t.Run("PaymentVisibleToOwnerOnly", func(t *testing.T) {
		path := "/api/v1/payments/" + p.Payment.OrderID

		assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, ownerTok, nil, nil).Code)
		assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, s.token(uuid.New(), false), nil, nil).Code)
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/payments/nope", ownerTok, nil, nil).Code)
	})

	var res payment.Result
	rec = s.do(http.MethodPost, "/api/v1/payments/notifications", "", map[string]string{
		"order_id":           p.Payment.OrderID,
		"transaction_status": "settlement",
		"settlement_time":    "2024-03-05 14:30:00",
	}, &res)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payment.OutcomeUpdated, res.Outcome)

	var got postingJSON
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/postings/"+p.ID.String(), ownerTok, nil, &got).Code)
	assert.Equal(t, "confirmed", got.Status)

	var notes []struct {
		Type string `json:"type"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/notifications", ownerTok, nil, &notes).Code)
	require.NotEmpty(t, notes)
	assert.Equal(t, string(notification.TypePaymentPaid), notes[0].Type)
}

func TestRouter_Webhook(t *testing.T) {
	s := newServer(t, nil)

	t.Run("MalformedBodyIsAcknowledged", func(t *testing.T) {
		for _, body := range []string{"{", "not json", `["order_id"]`} {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/notifications", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code, body)

			var res payment.Result
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.Equal(t, payment.OutcomeInvalid, res.Outcome, body)
		}
	})

	t.Run("UnknownOrderIsAcknowledged", func(t *testing.T) {
		var res payment.Result
		rec := s.do(http.MethodPost, "/api/v1/payments/notifications", "", map[string]string{
			"order_id":           "REPAIR-missing",
			"transaction_status": "settlement",
		}, &res)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, payment.OutcomeNotFound, res.Outcome)
	})

	t.Run("StorageFailureAsksForRetry", func(t *testing.T) {
		broken := newServer(t, brokenStore{memstore.New()})

		rec := broken.do(http.MethodPost, "/api/v1/payments/notifications", "", map[string]string{
			"order_id":           "REPAIR-1",
			"transaction_status": "settlement",
		}, nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRouter_Notifications(t *testing.T) {
	s := newServer(t, nil)
	owner := s.f.User()
	tok := s.token(owner.ID, false)

	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, "/api/v1/postings", tok, s.postingBody(owner, exchange.TypeRecycle, "Bottles"), nil).Code)

	var notes []struct {
		ID     uuid.UUID  `json:"id"`
		Title  string     `json:"title"`
		ReadAt *time.Time `json:"read_at"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/notifications", tok, nil, &notes).Code)
	require.Len(t, notes, 1)
	assert.Equal(t, "Your item Bottles has been posted", notes[0].Title)
	assert.Nil(t, notes[0].ReadAt)

	type testCase struct {
		name  string
		token string
		id    uuid.UUID
		want  int
	}

	tests := []testCase{
		{"Owner", tok, notes[0].ID, http.StatusNoContent},
		{"AgainIsIdempotent", tok, notes[0].ID, http.StatusNoContent},
		{"OtherUser", s.token(uuid.New(), false), notes[0].ID, http.StatusNotFound},
		{"Unknown", tok, uuid.New(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/notifications/"+tt.id.String()+"/read", tt.token, nil, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/notifications", tok, nil, &notes).Code)
	assert.NotNil(t, notes[0].ReadAt)
}

// brokenStore knows every order but fails every write transaction.
type brokenStore struct {
	*memstore.Store
}

func (brokenStore) GetPaymentByOrderID(_ context.Context, orderID string) (*exchange.Payment, error) {
	return &exchange.Payment{OrderID: orderID, PostingID: uuid.New(), Status: exchange.PaymentPending}, nil
}

func (brokenStore) Begin(context.Context) (exchange.Tx, error) {
	return nil, errors.New("connection refused")
}
