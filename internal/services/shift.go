package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/storage"
)

var ErrInvalidWindow = errors.New("report window end must be after its start")

type ShiftService struct {
	store storage.Store
	log   *logger.Logger
}

func NewShiftService(store storage.Store, log *logger.Logger) *ShiftService {
	return &ShiftService{store: store, log: log}
}

// Report aggregates the sessions closed in [from, to).
func (s *ShiftService) Report(ctx context.Context, restaurantID string, from, to time.Time) (*models.ShiftReport, error) {
	if !to.After(from) {
		return nil, ErrInvalidWindow
	}

	sessions, err := s.store.ListClosedSessions(ctx, restaurantID, from, to)
	if err != nil {
		s.log.Error("REPORT", fmt.Sprintf("Failed to load closed sessions for %s: %v", restaurantID, err))
		return nil, err
	}

	report := BuildShiftReport(restaurantID, from, to, sessions)
	s.log.LogProcess("REPORT", fmt.Sprintf("Shift report for %s: %d sessions, sales %.2f", restaurantID, report.SessionCount, report.Sales))
	return report, nil
}

// BuildShiftReport reduces closed sessions into shift totals. Sessions written
// before payment_breakdown existed count as cash when fully paid and as
// uncategorized otherwise.
func BuildShiftReport(restaurantID string, from, to time.Time, sessions []*models.Session) *models.ShiftReport {
	report := &models.ShiftReport{
		RestaurantID: restaurantID,
		From:         from,
		To:           to,
		ByMethod:     make(map[string]float64),
		Products:     []models.ProductSales{},
	}

	products := make(map[string]*models.ProductSales)
	for _, session := range sessions {
		if session.Status != models.SessionClosed {
			continue
		}

		report.SessionCount++
		if session.HasPhysicalTable() {
			report.TableSessions++
		} else {
			report.CounterSessions++
		}

		report.Subtotal = models.SumMoney(report.Subtotal, session.Subtotal)
		report.Tax = models.SumMoney(report.Tax, session.Tax)
		report.Sales = models.SumMoney(report.Sales, session.Total)
		report.Tips = models.SumMoney(report.Tips, session.TipTotal)

		if len(session.PaymentBreakdown) > 0 {
			for method, amount := range session.PaymentBreakdown {
				report.ByMethod[method] = models.SumMoney(report.ByMethod[method], amount)
			}
		} else {
			method := models.UncategorizedMethod
			if session.PaymentStatus == models.PaymentPaid {
				method = string(models.MethodCash)
			}
			report.ByMethod[method] = models.SumMoney(report.ByMethod[method], session.Total)
		}

		for _, row := range session.Items {
			key := row.ItemID
			if key == "" {
				key = row.Name
			}
			p, ok := products[key]
			if !ok {
				p = &models.ProductSales{ItemID: row.ItemID, Name: row.Name}
				products[key] = p
			}
			p.Quantity += row.Quantity
			p.Revenue = models.SumMoney(p.Revenue, row.LineTotal())
			report.ItemCount += row.Quantity
		}
	}

	for _, p := range products {
		report.Products = append(report.Products, *p)
	}
	sort.Slice(report.Products, func(i, j int) bool {
		a, b := report.Products[i], report.Products[j]
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		return a.Name < b.Name
	})
	return report
}
