package services

import "pos-ledger/internal/models"

// AllocateUnits settles the requested lines against rows, filling the earliest
// unpaid units of each item first. A line only settles rows whose unit price
// matches its price to the cent. rows is modified in place: paid_quantity is
// incremented and paymentID appended to every row it touches.
//
// Quantity that finds no matching unpaid row is returned in leftover rather
// than failing; callers decide whether leftover is acceptable.
func AllocateUnits(rows []models.OrderItem, lines []models.ItemPaymentLine, paymentID string) (allocated []models.PaymentItem, leftover map[string]int) {
	for _, line := range lines {
		owed := line.Quantity
		for i := range rows {
			if owed <= 0 {
				break
			}
			row := &rows[i]
			if row.ItemID != line.ItemID || !pricedAt(*row, line.Price) {
				continue
			}
			unpaid := row.UnpaidQuantity()
			if unpaid == 0 {
				continue
			}

			n := min(owed, unpaid)
			row.PaidQuantity += n
			row.PaymentIDs = append(row.PaymentIDs, paymentID)
			owed -= n

			allocated = append(allocated, models.PaymentItem{
				ItemID:       line.ItemID,
				RowID:        row.RowID,
				QuantityPaid: n,
				Price:        line.Price,
				Amount:       models.MulMoney(line.Price, n),
			})
		}
		if owed > 0 {
			if leftover == nil {
				leftover = make(map[string]int)
			}
			leftover[line.ItemID] += owed
		}
	}
	return allocated, leftover
}

func pricedAt(row models.OrderItem, price float64) bool {
	return models.RoundMoney(row.UnitPrice()) == models.RoundMoney(price)
}

// carriesPrice reports whether any row of the line's item is priced at line.Price.
func carriesPrice(rows []models.OrderItem, line models.ItemPaymentLine) bool {
	for _, row := range rows {
		if row.ItemID == line.ItemID && pricedAt(row, line.Price) {
			return true
		}
	}
	return false
}

// unpaidByItem counts unpaid units per item id across all rows.
func unpaidByItem(rows []models.OrderItem) map[string]int {
	out := make(map[string]int)
	for _, row := range rows {
		out[row.ItemID] += row.UnpaidQuantity()
	}
	return out
}

func requestedByItem(lines []models.ItemPaymentLine) ([]string, map[string]int) {
	var order []string
	out := make(map[string]int)
	for _, line := range lines {
		if _, ok := out[line.ItemID]; !ok {
			order = append(order, line.ItemID)
		}
		out[line.ItemID] += line.Quantity
	}
	return order, out
}
