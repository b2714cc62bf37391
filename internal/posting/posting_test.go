package posting_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/exchangetest"
	"github.com/MrJamesThe3rd/reloop/internal/imagestore"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
	"github.com/MrJamesThe3rd/reloop/internal/payment"
	"github.com/MrJamesThe3rd/reloop/internal/posting"
)

func newService(t *testing.T, f *exchangetest.Fixture, gw payment.Gateway, opts ...posting.Option) *posting.Service {
	t.Helper()

	svc, err := posting.NewService(f.Store, f.Ledger, gw, 16, opts...)
	require.NoError(t, err)

	return svc
}

func TestRepairPrice(t *testing.T) {
	c := &exchange.Category{RepairPrices: map[exchange.RepairType]int64{exchange.RepairMinor: 10000, exchange.RepairMedium: 333}}

	type testCase struct {
		name      string
		repair    exchange.RepairType
		weight    float64
		wantPrice int64
		wantFee   int64
		wantOK    bool
	}

	tests := []testCase{
		{"WholeWeight", exchange.RepairMinor, 2, 20000, 1000, true},
		{"FractionalWeightRoundsUp", exchange.RepairMedium, 1.5, 500, 25, true},
		{"FloatNoiseDoesNotRoundUp", exchange.RepairMinor, 1.1, 11000, 550, true},
		{"FeeRoundsUp", exchange.RepairMedium, 1, 333, 17, true},
		{"NoPrice", exchange.RepairMajor, 1, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, ok := posting.RepairPrice(c, tt.repair, tt.weight)
			assert.Equal(t, tt.wantOK, ok)

			if ok {
				assert.Equal(t, tt.wantPrice, price)
				assert.Equal(t, tt.wantFee, posting.AdminFee(price))
			}
		})
	}
}

func TestService_Create(t *testing.T) {
	f := exchangetest.New(t)
	owner := f.User()
	stranger := f.User()

	base := func(typ exchange.Type) posting.CreateParams {
		return posting.CreateParams{
			Type:       typ,
			Name:       "Lamp",
			CategoryID: f.Category.ID,
			AddressID:  owner.AddressID,
			PhoneID:    owner.PhoneID,
		}
	}

	type testCase struct {
		name       string
		params     func() posting.CreateParams
		wantStatus exchange.Status
		wantErr    error
		wantKey    string
	}

	tests := []testCase{
		{
			name:       "Donation",
			params:     func() posting.CreateParams { return base(exchange.TypeDonation) },
			wantStatus: exchange.StatusSubmitted,
		},
		{
			name:       "Recycle",
			params:     func() posting.CreateParams { return base(exchange.TypeRecycle) },
			wantStatus: exchange.StatusSubmitted,
		},
		{
			name:       "Barter",
			params:     func() posting.CreateParams { return base(exchange.TypeBarter) },
			wantStatus: exchange.StatusWaitingForRequest,
		},
		{
			name: "Borrow",
			params: func() posting.CreateParams {
				p := base(exchange.TypeBorrow)
				p.Borrow = &exchange.Window{From: exchangetest.Day(1), To: exchangetest.Day(10)}
				return p
			},
			wantStatus: exchange.StatusWaitingForRequest,
		},
		{
			name: "BorrowWithoutWindow",
			params: func() posting.CreateParams {
				return base(exchange.TypeBorrow)
			},
			wantErr: apperror.ErrValidation,
		},
		{
			name: "BorrowInvertedWindow",
			params: func() posting.CreateParams {
				p := base(exchange.TypeBorrow)
				p.Borrow = &exchange.Window{From: exchangetest.Day(10), To: exchangetest.Day(1)}
				return p
			},
			wantErr: apperror.ErrValidation,
		},
		{
			name: "ForeignAddress",
			params: func() posting.CreateParams {
				p := base(exchange.TypeDonation)
				p.AddressID = stranger.AddressID
				return p
			},
			wantErr: apperror.ErrNotFound,
			wantKey: "address.not_found",
		},
		{
			name: "ForeignPhone",
			params: func() posting.CreateParams {
				p := base(exchange.TypeDonation)
				p.PhoneID = stranger.PhoneID
				return p
			},
			wantErr: apperror.ErrNotFound,
			wantKey: "phone.not_found",
		},
		{
			name: "UnknownCategory",
			params: func() posting.CreateParams {
				p := base(exchange.TypeDonation)
				p.CategoryID = uuid.New()
				return p
			},
			wantErr: apperror.ErrNotFound,
			wantKey: "category.not_found",
		},
		{
			name: "UnknownType",
			params: func() posting.CreateParams {
				return base(exchange.Type("gift"))
			},
			wantErr: apperror.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			svc := newService(t, f, payment.NewMockGateway(ctrl))

			p, pay, err := svc.Create(context.Background(), owner.ID, tt.params())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)

				if tt.wantKey != "" {
					appErr, ok := apperror.As(err)
					require.True(t, ok)
					assert.Equal(t, tt.wantKey, appErr.Key)
				}

				return
			}

			require.NoError(t, err)
			assert.Nil(t, pay)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantStatus, f.Status(t, p.Ref()))

			history, err := svc.History(context.Background(), p.ID)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, &owner.ID, history[0].ActorID)
		})
	}
}

func TestService_CreateRepair(t *testing.T) {
	f := exchangetest.New(t)
	owner := f.User()
	ctrl := gomock.NewController(t)
	gw := payment.NewMockGateway(ctrl)

	gw.EXPECT().
		Charge(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
			assert.Equal(t, "ORDER-1", req.OrderID)
			assert.Equal(t, int64(21000), req.Amount)
			assert.Equal(t, exchange.MethodBankTransfer, req.Method)

			return &payment.Charge{OrderID: req.OrderID, Bank: "bca", VANumber: "1234567890", Status: exchange.PaymentPending}, nil
		})

	svc := newService(t, f, gw, posting.WithOrderIDs(func() string { return "ORDER-1" }))

	p, pay, err := svc.Create(context.Background(), owner.ID, posting.CreateParams{
		Type:       exchange.TypeRepair,
		Name:       "Radio",
		CategoryID: f.Category.ID,
		AddressID:  owner.AddressID,
		PhoneID:    owner.PhoneID,
		Repair: &posting.RepairParams{
			Weight: 2,
			Type:   exchange.RepairMinor,
			Method: exchange.MethodBankTransfer,
			Bank:   "bca",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, exchange.StatusRequestSubmitted, p.Status)
	require.NotNil(t, p.Repair)
	assert.Equal(t, int64(20000), p.Repair.Price)

	require.NotNil(t, pay)
	assert.Equal(t, int64(20000), pay.Amount)
	assert.Equal(t, int64(1000), pay.AdminFee)
	assert.Equal(t, exchange.PaymentPending, pay.Status)
	assert.Equal(t, "1234567890", pay.VANumber)

	stored, err := f.Store.GetPaymentByPosting(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", stored.OrderID)
}

func TestService_CreateRepairGatewayFailureWritesNothing(t *testing.T) {
	f := exchangetest.New(t)
	owner := f.User()
	ctrl := gomock.NewController(t)
	gw := payment.NewMockGateway(ctrl)

	gw.EXPECT().Charge(gomock.Any(), gomock.Any()).Return(nil, payment.ErrGatewayUnavailable)

	svc := newService(t, f, gw)

	_, _, err := svc.Create(context.Background(), owner.ID, posting.CreateParams{
		Type:       exchange.TypeRepair,
		Name:       "Radio",
		CategoryID: f.Category.ID,
		AddressID:  owner.AddressID,
		PhoneID:    owner.PhoneID,
		Repair:     &posting.RepairParams{Weight: 1, Type: exchange.RepairMinor, Method: exchange.MethodQRIS},
	})
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	list, err := f.Store.ListPostings(context.Background(), exchange.PostingFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

type recordingImages struct {
	put     []string
	deleted []string
}

func (r *recordingImages) Put(_ context.Context, folder string, img imagestore.Image) (string, error) {
	p := folder + "/" + img.Name
	r.put = append(r.put, p)

	return p, nil
}

func (r *recordingImages) Delete(_ context.Context, p string) error {
	r.deleted = append(r.deleted, p)
	return nil
}

func TestService_CreateStoresImagesAndNotifies(t *testing.T) {
	f := exchangetest.New(t)
	owner := f.User()
	ctrl := gomock.NewController(t)
	notifier := notification.NewMockNotifier(ctrl)
	images := &recordingImages{}

	notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev notification.Event) error {
			assert.Equal(t, notification.TypePostingCreated, ev.Type)
			assert.Equal(t, owner.ID, ev.UserID)
			return errors.New("ignored")
		})

	svc := newService(t, f, payment.NewMockGateway(ctrl), posting.WithNotifier(notifier), posting.WithImageStore(images))

	p, _, err := svc.Create(context.Background(), owner.ID, posting.CreateParams{
		Type:       exchange.TypeDonation,
		Name:       "Chair",
		CategoryID: f.Category.ID,
		AddressID:  owner.AddressID,
		PhoneID:    owner.PhoneID,
		Images:     []imagestore.Image{{Name: "a.jpg", Body: strings.NewReader("x")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"donation/a.jpg"}, p.Images)
	assert.Empty(t, images.deleted)
}

func TestService_Transition(t *testing.T) {
	f := exchangetest.New(t)
	owner := f.User()
	admin := uuid.New()
	ctrl := gomock.NewController(t)
	svc := newService(t, f, payment.NewMockGateway(ctrl))
	ctx := context.Background()

	donation := f.Posting(t, owner, exchange.TypeDonation, "Books")

	_, err := svc.Transition(ctx, admin, donation.ID, exchange.StatusCompleted, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, exchange.StatusSubmitted, f.Status(t, donation.Ref()))

	p, err := svc.Transition(ctx, admin, donation.ID, exchange.StatusConfirmed, "picked up")
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusConfirmed, p.Status)

	history, err := svc.History(ctx, donation.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "picked up", history[1].Detail.Data["note"])
	assert.Equal(t, "donation.request.confirmed_detail", history[1].Detail.Key)

	barter := f.Posting(t, owner, exchange.TypeBarter, "Guitar")
	_, err = svc.Transition(ctx, admin, barter.ID, exchange.StatusWaitingForConfirmation, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	_, err = svc.Transition(ctx, admin, uuid.New(), exchange.StatusConfirmed, "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestService_MarkLentReturnedCompleted(t *testing.T) {
	f := exchangetest.New(t)
	owner := f.User()
	borrower := f.User()
	other := f.User()
	ctrl := gomock.NewController(t)
	svc := newService(t, f, payment.NewMockGateway(ctrl))
	ctx := context.Background()

	p := f.Posting(t, owner, exchange.TypeBorrow, "Tent")

	_, _, err := svc.MarkLent(ctx, owner.ID, p.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	f.Force(t, p.Ref(), exchange.StatusWaitingForConfirmation, exchange.StatusConfirmed)

	_, _, err = svc.MarkLent(ctx, owner.ID, p.ID)
	assert.ErrorIs(t, err, apperror.ErrPrecondition)

	app := f.Application(t, p, borrower, nil)
	f.Force(t, app.Ref(), exchange.StatusConfirmed)
	declined := f.Application(t, p, other, nil)
	f.Force(t, declined.Ref(), exchange.StatusCancelled)

	_, _, err = svc.MarkLent(ctx, borrower.ID, p.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	gotP, gotA, err := svc.MarkLent(ctx, owner.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusLent, gotP.Status)
	assert.Equal(t, exchange.StatusBorrowed, gotA.Status)
	assert.Equal(t, app.ID, gotA.ID)

	_, _, err = svc.MarkCompleted(ctx, owner.ID, p.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	gotP, gotA, err = svc.MarkReturned(ctx, owner.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusReturned, gotP.Status)
	assert.Equal(t, exchange.StatusReturned, gotA.Status)

	gotP, gotA, err = svc.MarkCompleted(ctx, owner.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusCompleted, gotP.Status)
	assert.Equal(t, exchange.StatusCompleted, gotA.Status)

	assert.Equal(t, exchange.StatusCompleted, f.Status(t, p.Ref()))
	assert.Equal(t, exchange.StatusCompleted, f.Status(t, app.Ref()))
	assert.Equal(t, exchange.StatusCancelled, f.Status(t, declined.Ref()))
}

func TestService_MarkCompletedBarter(t *testing.T) {
	f := exchangetest.New(t)
	owner := f.User()
	applicant := f.User()
	ctrl := gomock.NewController(t)
	svc := newService(t, f, payment.NewMockGateway(ctrl))

	p := f.Posting(t, owner, exchange.TypeBarter, "Camera")
	app := f.Application(t, p, applicant, nil)

	f.Force(t, p.Ref(), exchange.StatusWaitingForConfirmation, exchange.StatusConfirmed)
	f.Force(t, app.Ref(), exchange.StatusConfirmed)

	_, _, err := svc.MarkLent(context.Background(), owner.ID, p.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	_, gotA, err := svc.MarkCompleted(context.Background(), owner.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusCompleted, gotA.Status)
	assert.Equal(t, []string{"fixture", "fixture", "barter_application.request.completed_detail"}, f.Keys(t, app.Ref()))
}
