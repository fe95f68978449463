package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"goflare.io/cartsync/models"
)

// rawProduct accepts every field spelling the backends have used.
type rawProduct struct {
	ID             *int64           `json:"id"`
	ProductID      *int64           `json:"productId"`
	ProductoID     *int64           `json:"producto_id"`
	ProductIDSnake *int64           `json:"product_id"`
	Nombre         *string          `json:"nombre"`
	Titulo         *string          `json:"titulo"`
	Title          *string          `json:"title"`
	Precio         *decimal.Decimal `json:"precio"`
	PrecioUnitario *decimal.Decimal `json:"precio_unitario"`
	Price          *decimal.Decimal `json:"price"`
	Categoria      *string          `json:"categoria"`
	Category       *string          `json:"category"`
	Stock          *int             `json:"stock"`
	StockDisp      *int             `json:"stock_disponible"`
	StockAvailable *int             `json:"stockAvailable"`
}

type rawCartItem struct {
	rawProduct
	Cantidad *int        `json:"cantidad"`
	Quantity *int        `json:"quantity"`
	Producto *rawProduct `json:"producto"`
	Product  *rawProduct `json:"product"`
}

type rawCart struct {
	Items     []rawCartItem `json:"items"`
	Productos []rawCartItem `json:"productos"`
	Carrito   []rawCartItem `json:"carrito"`
	Detalle   []rawCartItem `json:"detalle"`
}

type rawConfirmation struct {
	ID       json.RawMessage  `json:"id"`
	OrderID  json.RawMessage  `json:"orderId"`
	PedidoID json.RawMessage  `json:"pedido_id"`
	Order    json.RawMessage  `json:"order_id"`
	Total    *decimal.Decimal `json:"total"`
}

func firstInt64(values ...*int64) int64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstInt(values ...*int) (int, bool) {
	for _, v := range values {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func firstDecimal(values ...*decimal.Decimal) decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return decimal.Zero
}

// merge overlays nested product fields on top of the flat ones.
func (p rawProduct) merge(nested *rawProduct) rawProduct {
	if nested == nil {
		return p
	}
	out := *nested
	if out.ID == nil && out.ProductID == nil && out.ProductoID == nil && out.ProductIDSnake == nil {
		out.ProductID = firstNonNilInt64(p.ProductID, p.ProductoID, p.ProductIDSnake, p.ID)
	}
	if out.Nombre == nil && out.Titulo == nil && out.Title == nil {
		out.Titulo = firstNonNilString(p.Nombre, p.Titulo, p.Title)
	}
	if out.Precio == nil && out.PrecioUnitario == nil && out.Price == nil {
		out.Precio = firstNonNilDecimal(p.Precio, p.PrecioUnitario, p.Price)
	}
	if out.Categoria == nil && out.Category == nil {
		out.Categoria = firstNonNilString(p.Categoria, p.Category)
	}
	if out.Stock == nil && out.StockDisp == nil && out.StockAvailable == nil {
		out.Stock = firstNonNilInt(p.Stock, p.StockDisp, p.StockAvailable)
	}
	return out
}

func firstNonNilInt64(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonNilInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonNilString(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonNilDecimal(values ...*decimal.Decimal) *decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func (p rawProduct) toProduct() (*models.Product, error) {
	stock, _ := firstInt(p.StockAvailable, p.StockDisp, p.Stock)
	product := &models.Product{
		ID:             firstInt64(p.ProductID, p.ProductoID, p.ProductIDSnake, p.ID),
		Title:          firstString(p.Titulo, p.Nombre, p.Title),
		UnitPrice:      firstDecimal(p.PrecioUnitario, p.Precio, p.Price),
		Category:       firstString(p.Categoria, p.Category),
		StockAvailable: stock,
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	return product, nil
}

// In a line item the line's own id wins over "id", which some backends use
// for the cart line row rather than the product.
func (i rawCartItem) toCartItem() (models.CartItem, error) {
	flat := i.rawProduct
	if flat.ProductID != nil || flat.ProductoID != nil || flat.ProductIDSnake != nil {
		flat.ID = nil
	}
	nested := i.Producto
	if nested == nil {
		nested = i.Product
	}
	product, err := flat.merge(nested).toProduct()
	if err != nil {
		return models.CartItem{}, err
	}

	qty, ok := firstInt(i.Cantidad, i.Quantity)
	if !ok {
		return models.CartItem{}, models.NewValidationError("cantidad", fmt.Sprintf("missing for product %d", product.ID))
	}
	if qty < 0 {
		return models.CartItem{}, models.NewValidationError("cantidad", fmt.Sprintf("negative for product %d", product.ID))
	}
	return models.NewCartItem(models.CartEntry{ProductID: product.ID, Quantity: qty}, product), nil
}

// decodeCart normalizes any cart payload shape into canonical cart items.
// Lines with quantity 0 are dropped.
func decodeCart(body []byte) ([]models.CartItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return make([]models.CartItem, 0), nil
	}

	var rawItems []rawCartItem
	if body[0] == '[' {
		if err := json.Unmarshal(body, &rawItems); err != nil {
			return nil, fmt.Errorf("failed to decode cart payload: %w", err)
		}
	} else {
		var envelope rawCart
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode cart payload: %w", err)
		}
		for _, candidate := range [][]rawCartItem{envelope.Items, envelope.Productos, envelope.Carrito, envelope.Detalle} {
			if candidate != nil {
				rawItems = candidate
				break
			}
		}
	}

	items := make([]models.CartItem, 0, len(rawItems))
	for _, raw := range rawItems {
		item, err := raw.toCartItem()
		if err != nil {
			return nil, fmt.Errorf("failed to normalize cart line: %w", err)
		}
		if item.Quantity == 0 {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeProduct(body []byte) (*models.Product, error) {
	var envelope struct {
		rawProduct
		Producto *rawProduct `json:"producto"`
		Product  *rawProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode product payload: %w", err)
	}
	nested := envelope.Producto
	if nested == nil {
		nested = envelope.Product
	}
	return envelope.rawProduct.merge(nested).toProduct()
}

func decodeProducts(body []byte) ([]*models.Product, error) {
	body = bytes.TrimSpace(body)

	var raws []rawProduct
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode product list: %w", err)
		}
	} else {
		var envelope struct {
			Items     []rawProduct `json:"items"`
			Productos []rawProduct `json:"productos"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode product list: %w", err)
		}
		raws = envelope.Items
		if raws == nil {
			raws = envelope.Productos
		}
	}

	products := make([]*models.Product, 0, len(raws))
	for _, raw := range raws {
		product, err := raw.toProduct()
		if err != nil {
			return nil, fmt.Errorf("failed to normalize product: %w", err)
		}
		products = append(products, product)
	}
	return products, nil
}

func decodeConfirmation(body []byte) (*models.OrderConfirmation, error) {
	var raw rawConfirmation
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode checkout payload: %w", err)
	}

	var orderID string
	for _, candidate := range []json.RawMessage{raw.OrderID, raw.Order, raw.PedidoID, raw.ID} {
		if id := rawID(candidate); id != "" {
			orderID = id
			break
		}
	}
	if orderID == "" {
		return nil, models.NewValidationError("orderId", "missing in checkout response")
	}

	confirmation := &models.OrderConfirmation{OrderID: orderID}
	if raw.Total != nil {
		confirmation.Total = *raw.Total
	}
	return confirmation, nil
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
