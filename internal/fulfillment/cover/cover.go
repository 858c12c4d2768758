// Package cover renders the human-readable cover document included in
// export bundles for the print vendor's intake desk.
package cover

import (
	"fmt"
	"strings"
	"time"

	"coursecert/internal/fulfillment/models"
)

// Text renders a plain-text cover sheet. Vendors that require branded PDF
// covers plug in their own renderer behind the same interface.
type Text struct{}

func (Text) Render(batch *models.FulfillmentBatch, certs []*models.Certificate) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CERTIFICATE FULFILLMENT SHIPMENT\n\n")
	fmt.Fprintf(&b, "Batch:        %s\n", batch.ID)
	fmt.Fprintf(&b, "Jurisdiction: %s\n", batch.Jurisdiction)
	fmt.Fprintf(&b, "Exported:     %s\n", batch.CreatedAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "Documents:    %d\n\n", len(certs))
	fmt.Fprintf(&b, "Serials in this shipment:\n")
	for _, cert := range certs {
		fmt.Fprintf(&b, "  %s\n", cert.Serial)
	}
	return []byte(b.String()), nil
}
