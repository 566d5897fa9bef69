package arb

import (
	"context"
	"errors"

	"arbitrage/internal/models"
	"arbitrage/internal/venue"
)

// fakeVenue — минимальная реализация venue.Venue для юнит-тестов C5-C7,
// без сети. Поля задают сценарий: книга для hedge/aggressive_exit,
// поведение CancelOrder, комиссия.
type fakeVenue struct {
	name models.Venue

	book       *models.OrderbookSnapshot
	bookErr    error
	cancelErr  error
	feePerUnit float64

	canceled []string
}

func (f *fakeVenue) Name() models.Venue { return f.name }

func (f *fakeVenue) FetchCatalog(ctx context.Context, filter venue.CatalogFilter) ([]models.Market, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeVenue) GetOrderbook(ctx context.Context, instrumentID string) (*models.OrderbookSnapshot, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return f.book, nil
}

func (f *fakeVenue) GetBalance(ctx context.Context) (float64, error) { return 1000, nil }

func (f *fakeVenue) PlaceOrder(ctx context.Context, instrumentID string, side models.Side, size, price float64) (string, error) {
	return "fake-order", nil
}

func (f *fakeVenue) GetOrder(ctx context.Context, orderID string) (*venue.OrderStatus, error) {
	return &venue.OrderStatus{OrderID: orderID, Status: models.FillStatusFilled}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeVenue) SubscribeOrderbook(instrumentIDs []string, callback func(string, *models.OrderbookSnapshot)) error {
	return errors.New("not implemented in fake")
}

func (f *fakeVenue) Fee(size, price float64) float64 { return f.feePerUnit * size }

func (f *fakeVenue) Close() error { return nil }
