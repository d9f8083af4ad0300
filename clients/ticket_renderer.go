package clients

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/ticket_models"
	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// RenderTicketQR encodes the signed ticket token as a PNG QR code.
func RenderTicketQR(t *ticket_models.Ticket) ([]byte, error) {
	png, err := qrcode.Encode(t.Token, qrcode.Medium, qrSize)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to encode QR for ticket %s: %v", t.ID, err)
		return nil, fmt.Errorf("failed to encode ticket QR: %w", err)
	}
	return png, nil
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, minor/100, minor%100)
}

// RenderTicketPDF lays out a one-page e-ticket with the QR code the
// conductor scans.
func RenderTicketPDF(t *ticket_models.Ticket) ([]byte, error) {
	qr, err := RenderTicketQR(t)
	if err != nil {
		return nil, err
	}
	p := t.Payload

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("GoBus e-ticket "+p.TicketID.String(), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "GoBus e-ticket", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, "Ticket "+p.TicketID.String(), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	rows := [][2]string{
		{"Passenger", p.PassengerName},
		{"Phone", p.PassengerPhone},
		{"From", p.Origin},
		{"To", p.Destination},
		{"Departure", p.DepartureAt.Format("Mon 02 Jan 2006 15:04 MST")},
		{"Bus", fmt.Sprintf("%s (%s)", p.BusName, p.BusNumber)},
		{"Seats", strings.Join(p.Seats, ", ")},
		{"Fare", formatAmount(p.TotalAmount, p.Currency)},
		{"Booking", p.BookingID.String()},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(35, 8, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 8, row[1], "", 1, "L", false, 0, "")
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	name := "qr-" + p.TicketID.String()
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(qr))
	pdf.ImageOptions(name, 140, 30, 55, 55, false, opts, 0, "")

	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, "Show this QR code when boarding. It is valid for one boarding only.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		logger.ErrorLogger.Errorf("Failed to render PDF for ticket %s: %v", p.TicketID, err)
		return nil, fmt.Errorf("failed to render ticket PDF: %w", err)
	}
	return buf.Bytes(), nil
}
