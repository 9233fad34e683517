package notify

import (
	"bytes"
	"fmt"
	"storefront-checkout/internal/model"
	"strings"
	"text/template"
)

var statusMessages = map[model.OrderStatus]string{
	model.OrderStatusConfirmed:  "Your payment has been confirmed!",
	model.OrderStatusProcessing: "Your order is being processed.",
	model.OrderStatusShipped:    "Your order has been shipped!",
	model.OrderStatusDelivered:  "Your order has been delivered.",
	model.OrderStatusCancelled:  "Your order has been cancelled.",
}

var templateFuncs = template.FuncMap{
	"title": func(s any) string {
		str := fmt.Sprint(s)
		if str == "" {
			return str
		}
		return strings.ToUpper(str[:1]) + str[1:]
	},
	"statusMessage": func(status model.OrderStatus) string {
		if msg, ok := statusMessages[status]; ok {
			return msg
		}
		return "Your order status has been updated."
	},
	"orDefault": func(fallback, s string) string {
		if s == "" {
			return fallback
		}
		return s
	},
}

const addressBlock = `{{define "address"}}{{with .Address}}
Shipping Address:
{{.FullName}}
{{.AddressLine1}}
{{.City}}{{if .State}}, {{.State}}{{end}}
{{.Country}}
{{end}}{{end}}`

var emailTemplates = template.Must(template.New("emails").Funcs(templateFuncs).Parse(addressBlock + `
{{define "order_confirmation_subject"}}Order Confirmation - Order #{{.Order.OrderID}}{{end}}
{{define "order_confirmation"}}Hello {{.Name}},

Thank you for your order!

Order Details:
- Order ID: {{.Order.OrderID}}
- Status: {{title .Order.Status}}
- Subtotal: {{.Order.Subtotal.StringFixed 2}} {{.Currency}}
- Discount: {{.Order.DiscountAmount.StringFixed 2}} {{.Currency}}
- Total: {{.Order.Total.StringFixed 2}} {{.Currency}}
{{template "address" .}}
We will send you another email when your payment is confirmed.

Thank you for shopping with us!
{{end}}
{{define "order_status_update_subject"}}Order Status Update - Order #{{.Order.OrderID}}{{end}}
{{define "order_status_update"}}Hello {{.Name}},

{{statusMessage .Status}}

Order Details:
- Order ID: {{.Order.OrderID}}
- New Status: {{title .Status}}
- Total: {{.Order.Total.StringFixed 2}} {{.Currency}}

Thank you for shopping with us!
{{end}}
{{define "payment_confirmation_subject"}}Payment Confirmation - Order #{{.Order.OrderID}}{{end}}
{{define "payment_confirmation"}}Hello {{.Name}},

Your payment has been successfully processed!

Payment Details:
- Payment ID: {{.Payment.PaymentID}}
- Transaction ID: {{.Payment.TransactionID}}
- Amount Paid: {{.Payment.Amount.StringFixed 2}} {{.Payment.Currency}}
- Payment Method: {{orDefault "N/A" .Payment.PaymentMethod}}
- Payment Date: {{with .Payment.PaymentDate}}{{.Format "January 02, 2006 at 03:04 PM"}}{{else}}N/A{{end}}

Order Details:
- Order ID: {{.Order.OrderID}}
- Status: {{title .Order.Status}}
- Total: {{.Order.Total.StringFixed 2}} {{.Currency}}

Your order is now confirmed and will be processed shortly.
{{template "address" .}}
Thank you for your purchase!
{{end}}
{{define "payment_failed_subject"}}Payment Failed - Order #{{.Order.OrderID}}{{end}}
{{define "payment_failed"}}Hello {{.Name}},

Unfortunately, your payment could not be processed.

Payment Details:
- Payment ID: {{.Payment.PaymentID}}
- Transaction ID: {{.Payment.TransactionID}}
- Amount: {{.Payment.Amount.StringFixed 2}} {{.Payment.Currency}}
- Status: {{title .Payment.Status}}

Order Details:
- Order ID: {{.Order.OrderID}}
- Total: {{.Order.Total.StringFixed 2}} {{.Currency}}

Please try again or contact our support team if the problem persists.
{{end}}
`))

type emailData struct {
	Name     string
	Currency string
	Status   model.OrderStatus
	Order    *model.Order
	Payment  *model.Payment
	Address  *model.Address
}

func render(kind Kind, data *emailData) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, string(kind)+"_subject", data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", kind, err)
	}
	subject = buf.String()

	buf.Reset()
	if err := emailTemplates.ExecuteTemplate(&buf, string(kind), data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", kind, err)
	}

	return subject, buf.String() + "\nBest regards,\nStorefront Team\n", nil
}
