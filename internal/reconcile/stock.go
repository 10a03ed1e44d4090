package reconcile

import (
	"catsync/internal/erp"
	"catsync/internal/models"
)

// AggregateStock folds per-warehouse balance rows into one StockBalance per
// SKU. Internal/production warehouses stay visible in the per-warehouse map
// but are excluded from the sellable total.
func AggregateStock(rows []erp.StockRow, internalWarehouses []string) []models.StockBalance {
	internal := make(map[string]struct{}, len(internalWarehouses))
	for _, w := range internalWarehouses {
		internal[w] = struct{}{}
	}

	index := make(map[string]int)
	var balances []models.StockBalance
	for _, row := range rows {
		if row.SKU == "" || row.Warehouse == "" {
			continue
		}

		at, ok := index[row.SKU]
		if !ok {
			at = len(balances)
			index[row.SKU] = at
			balances = append(balances, models.StockBalance{
				SKU:        row.SKU,
				Name:       row.Name,
				Warehouses: make(map[string]int),
			})
		}

		balance := &balances[at]
		if balance.Name == "" {
			balance.Name = row.Name
		}
		balance.Warehouses[row.Warehouse] += row.Quantity
		if _, skip := internal[row.Warehouse]; !skip {
			balance.Total += row.Quantity
		}
	}
	return balances
}
