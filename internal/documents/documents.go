// Package documents persists generated fulfillment artifacts (carrier
// labels, picking sheets) under the data directory and reports paths
// relative to it, which is what gets stored on the order.
package documents

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type FileStore struct {
	Dir string
}

func (s *FileStore) WriteLabel(orderID int64, pdf []byte) (string, error) {
	rel := filepath.Join("labels", fmt.Sprintf("dhl-%d.pdf", orderID))
	if err := s.write(rel, pdf); err != nil {
		return "", err
	}
	return rel, nil
}

func (s *FileStore) write(rel string, data []byte) error {
	abs := filepath.Join(s.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// Read loads a stored artifact by its relative path, for mail attachments.
func (s *FileStore) Read(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir, rel))
}

var pickingTmpl = template.Must(template.New("picking").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Surtido pedido {{.Order.ID}}</title></head>
<body>
<h1>Surtido - Pedido #{{.Order.ID}}</h1>
<p>Cliente: {{.Order.Name}} &lt;{{.Order.Email}}&gt;</p>
<p>Entrega: {{.Order.Street}}, {{.Order.City}}, {{.Order.State}} CP {{.Order.PostalCode}}</p>
<table border="1" cellpadding="4">
<tr><th>Producto</th><th>Cantidad</th></tr>
{{range .Items}}<tr><td>{{.ProductID}}</td><td>{{.Qty}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// PickingRenderer writes the warehouse picking sheet for an order.
type PickingRenderer struct {
	Files *FileStore
}

func (r *PickingRenderer) RenderPicking(_ context.Context, o *orders.Order, items []orders.Item) (string, error) {
	data := struct {
		Order *orders.Order
		Items []orders.Item
	}{Order: o, Items: items}

	var buf bytes.Buffer
	if err := pickingTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render picking sheet: %w", err)
	}

	rel := filepath.Join("docs", fmt.Sprintf("surtido-%d.html", o.ID))
	if err := r.Files.write(rel, buf.Bytes()); err != nil {
		return "", err
	}
	return rel, nil
}
