package erp

// RawPriceRow is one goodprices row as fetched: a product may appear once
// per price tier. Never persisted.
type RawPriceRow struct {
	ID       string // external object id
	SKU      string
	ParentID string // parent group id
	TierID   string // price tier id
	Price    string // decimal-as-string
}

// RawCatalogRow is one goods row: id, SKU, parent group and display name.
type RawCatalogRow struct {
	ID       string
	SKU      string
	ParentID string
	Name     string
}

// ComponentRow is one member of a composite object's component table.
type ComponentRow struct {
	GoodID   string
	SKU      string
	Quantity int
}

// ObjectDetail is the getObject payload for a single catalog object.
type ObjectDetail struct {
	ID         string
	SKU        string
	Name       string
	ParentID   string
	Components []ComponentRow
}

// StockRow is one goodbalance row: quantity of a SKU in one warehouse.
type StockRow struct {
	SKU       string
	Name      string
	Warehouse string
	Quantity  int
}

func parsePriceRow(row map[string]interface{}) RawPriceRow {
	return RawPriceRow{
		ID:       stringField(row, "good", "good_id", "id"),
		SKU:      stringField(row, "sku", "article"),
		ParentID: stringField(row, "parent", "parent_id", "group"),
		TierID:   stringField(row, "pricetype", "price_type", "tier"),
		Price:    stringField(row, "price", "value"),
	}
}

func parseCatalogRow(row map[string]interface{}) RawCatalogRow {
	return RawCatalogRow{
		ID:       stringField(row, "id", "good", "good_id"),
		SKU:      stringField(row, "sku", "article"),
		ParentID: stringField(row, "parent", "parent_id", "group"),
		Name:     stringField(row, "name", "title"),
	}
}

func parseObjectDetail(row map[string]interface{}) ObjectDetail {
	detail := ObjectDetail{
		ID:       stringField(row, "id", "good", "good_id"),
		SKU:      stringField(row, "sku", "article"),
		Name:     stringField(row, "name", "title"),
		ParentID: stringField(row, "parent", "parent_id", "group"),
	}

	for _, key := range []string{"set", "components", "goods"} {
		table, ok := row[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range table {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			component := ComponentRow{
				GoodID:   stringField(m, "good", "good_id", "id"),
				SKU:      stringField(m, "sku", "article"),
				Quantity: intField(m, "quantity", "qty", "amount"),
			}
			if component.GoodID == "" && component.SKU == "" {
				continue
			}
			if component.Quantity == 0 {
				component.Quantity = 1
			}
			detail.Components = append(detail.Components, component)
		}
		break
	}

	return detail
}

func parseStockRow(row map[string]interface{}) StockRow {
	return StockRow{
		SKU:       stringField(row, "sku", "article"),
		Name:      stringField(row, "name", "title"),
		Warehouse: stringField(row, "store", "warehouse", "store_id"),
		Quantity:  intField(row, "quantity", "amount", "balance"),
	}
}
