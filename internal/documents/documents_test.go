package documents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

func TestWriteLabelAndRead(t *testing.T) {
	s := &FileStore{Dir: t.TempDir()}

	rel, err := s.WriteLabel(501, []byte("%PDF fake"))
	if err != nil {
		t.Fatalf("WriteLabel: %v", err)
	}
	if rel != filepath.Join("labels", "dhl-501.pdf") {
		t.Errorf("rel = %q", rel)
	}
	data, err := s.Read(rel)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "%PDF fake" {
		t.Errorf("content = %q", data)
	}
}

func TestRenderPicking(t *testing.T) {
	s := &FileStore{Dir: t.TempDir()}
	r := &PickingRenderer{Files: s}

	o := &orders.Order{ID: 501, Name: "Cliente", Email: "c@example.com", City: "CDMX"}
	items := []orders.Item{{ProductID: 7, Qty: 2}, {ProductID: 9, Qty: 1}}

	rel, err := r.RenderPicking(context.Background(), o, items)
	if err != nil {
		t.Fatalf("RenderPicking: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(s.Dir, rel))
	if err != nil {
		t.Fatalf("read rendered doc: %v", err)
	}
	html := string(raw)
	for _, want := range []string{"Pedido #501", "Cliente", "CDMX"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered doc missing %q", want)
		}
	}
}
