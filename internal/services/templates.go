package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/senyabanana/tender-negotiation/internal/models"
)

// invitationSubject формирует тему письма-приглашения.
func invitationSubject(req models.Request) string {
	return "Request for quotation: " + req.Title
}

// invitationBody формирует текст приглашения с требованиями запроса.
func invitationBody(req models.Request, p models.Participant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", displayName(p))
	fmt.Fprintf(&b, "We invite you to quote for %q.\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", req.Description)
	}
	if len(req.Items) > 0 {
		b.WriteString("\nItems:\n")
		for _, item := range req.Items {
			fmt.Fprintf(&b, "- %s: %s", item.Name, strconv.FormatFloat(item.Quantity, 'f', -1, 64))
			if item.Unit != "" {
				b.WriteString(" " + item.Unit)
			}
			b.WriteString("\n")
		}
	}
	if req.Deadline != nil {
		fmt.Fprintf(&b, "\nPlease reply by %s.\n", req.Deadline.Format("2 January 2006"))
	}
	if req.MinWarrantyMonths != nil {
		fmt.Fprintf(&b, "Minimum warranty: %d months.\n", *req.MinWarrantyMonths)
	}
	if req.Terms != "" {
		fmt.Fprintf(&b, "Terms: %s\n", req.Terms)
	}
	b.WriteString("\nReply to this email with unit prices, total price, currency, delivery time and warranty.\n")
	writeSignature(&b, req)
	return b.String()
}

// decisionSubject формирует тему уведомления о решении по предложению.
func decisionSubject(req models.Request, awarded bool) string {
	if awarded {
		return "Your offer was selected: " + req.Title
	}
	return "Update on your offer: " + req.Title
}

// decisionBody формирует текст уведомления о решении по предложению.
func decisionBody(req models.Request, p models.Participant, awarded bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", displayName(p))
	if awarded {
		fmt.Fprintf(&b, "Your offer for %q has been selected. We will contact you shortly with next steps.\n", req.Title)
	} else {
		fmt.Fprintf(&b, "Thank you for your offer for %q. We have decided to proceed with another supplier.\n", req.Title)
	}
	writeSignature(&b, req)
	return b.String()
}

func writeSignature(b *strings.Builder, req models.Request) {
	b.WriteString("\nBest regards,\n")
	if req.IssuerName != "" {
		b.WriteString(req.IssuerName + "\n")
	}
}

func displayName(p models.Participant) string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.Email
}
