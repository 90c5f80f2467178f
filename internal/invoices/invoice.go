package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/mail"
	"github.com/macroferro/macroferro-backend/pkg/pdf"
)

// buildInvoicePDF renders the plain-text invoice document for a committed
// order. The caller owns attaching or uploading the bytes.
func buildInvoicePDF(order *models.Order) []byte {
	doc := pdf.NewDocument()
	doc.AddHeading("Macroferro S.L.")
	doc.AddLine("Distribución mayorista de ferretería")
	doc.AddBlank()
	doc.AddSubheading("Factura " + order.OrderID)
	doc.AddLine("Fecha: " + order.CreatedAt.Format("02/01/2006"))
	if order.ClientID != nil {
		doc.AddLine("Cliente: " + *order.ClientID)
	}
	doc.AddBlank()

	doc.AddSubheading("Datos de facturación")
	doc.AddLine(order.CustomerName)
	if order.Client != nil && order.Client.Company != nil && *order.Client.Company != "" {
		doc.AddLine(*order.Client.Company)
	}
	doc.AddLine(order.ShippingAddr)
	doc.AddLine(order.CustomerEmail)
	if order.Phone != nil && *order.Phone != "" {
		doc.AddLine(*order.Phone)
	}
	doc.AddBlank()

	doc.AddSubheading("Líneas de pedido")
	for _, item := range order.Items {
		name := item.ProductSKU
		if item.Product != nil && item.Product.Name != "" {
			name = item.Product.Name
		}
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		doc.AddLine(fmt.Sprintf("%s  %s  x%d  %s  =  %s",
			item.ProductSKU, name, item.Quantity,
			euro(item.UnitPrice), euro(lineTotal)))
	}
	doc.AddBlank()
	doc.AddSubheading("Total: " + euro(order.TotalAmount))
	doc.AddBlank()
	doc.AddLine("Gracias por su compra.")
	return doc.Render()
}

func invoiceEmail(order *models.Order, pdfBytes []byte) mail.Message {
	var body strings.Builder
	body.WriteString("<p>Hola " + order.CustomerName + ",</p>")
	body.WriteString("<p>Adjuntamos la factura de tu pedido <strong>" + order.OrderID + "</strong>.</p>")
	body.WriteString("<p>Total: <strong>" + euro(order.TotalAmount) + "</strong></p>")
	body.WriteString("<p>Un saludo,<br>Macroferro</p>")

	return mail.Message{
		To:       order.CustomerEmail,
		Subject:  "Tu factura " + order.OrderID + " de Macroferro",
		HTMLBody: body.String(),
		Attachment: &mail.Attachment{
			Filename:    "factura-" + order.OrderID + ".pdf",
			ContentType: "application/pdf",
			Data:        pdfBytes,
		},
	}
}

func invoiceObjectName(prefix, orderID string, now time.Time) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "invoices"
	}
	return fmt.Sprintf("%s/%s/factura-%s.pdf", prefix, now.Format("2006/01"), orderID)
}

// euro renders a decimal in European style: 1.234,56 €.
func euro(value decimal.Decimal) string {
	fixed := value.StringFixed(2)
	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	parts := strings.SplitN(fixed, ".", 2)
	whole, frac := parts[0], parts[1]

	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)

	out := strings.Join(groups, ".") + "," + frac + " €"
	if neg {
		out = "-" + out
	}
	return out
}
