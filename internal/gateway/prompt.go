package gateway

import (
	"fmt"
	"strings"

	"github.com/acme/lead-call-queue/internal/domain"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
)

// BuildCallRequest assembles the provider request for a queue entry.
// The agent must carry an external binding; everything sourced from the
// lead degrades gracefully when absent rather than failing the call.
func BuildCallRequest(entry *domain.QueueEntry, lead *domain.Lead, agent *domain.Agent) (CallRequest, error) {
	if !agent.Synced() {
		return CallRequest{}, fmt.Errorf("%w: agent %s", apperrors.ErrNotSynced, agent.ID)
	}

	return CallRequest{
		ExternalAgentID: *agent.ExternalAgentID,
		PhoneNumber:     lead.Phone,
		CustomerName:    strings.TrimSpace(lead.FirstName + " " + lead.LastName),
		Prompt:          BuildContextualPrompt(lead, entry.Objective),
		CustomContext:   entry.CustomContext,
	}, nil
}

// BuildContextualPrompt renders the lead context injected into the calling
// agent's conversation. Missing preferences and notes fall back to neutral
// placeholders so an incomplete lead record never blocks a call.
func BuildContextualPrompt(lead *domain.Lead, objective string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "LEAD CONTEXT:\n")
	fmt.Fprintf(&b, "Name: %s %s\n", lead.FirstName, lead.LastName)
	fmt.Fprintf(&b, "Phone: %s\n", lead.Phone)
	fmt.Fprintf(&b, "Status: %s\n", lead.Status)
	fmt.Fprintf(&b, "Objective: %s\n", objective)

	fmt.Fprintf(&b, "\nPROPERTY PREFERENCES:\n")
	fmt.Fprintf(&b, "Budget: $%s - $%s\n", budgetValue(prefBudgetMin(lead)), budgetValue(prefBudgetMax(lead)))
	fmt.Fprintf(&b, "Bedrooms: %s\n", bedroomsValue(lead))
	fmt.Fprintf(&b, "Areas: %s\n", areasValue(lead))

	fmt.Fprintf(&b, "\nPREVIOUS INTERACTIONS:\n")
	b.WriteString(notesValue(lead))

	fmt.Fprintf(&b, "\n\nRemember: Focus on %s. Be professional and helpful. Do not provide real estate advice - refer to licensed agents for that.", objective)

	return b.String()
}

func prefBudgetMin(lead *domain.Lead) *int64 {
	if lead.Preferences == nil {
		return nil
	}
	return lead.Preferences.BudgetMin
}

func prefBudgetMax(lead *domain.Lead) *int64 {
	if lead.Preferences == nil {
		return nil
	}
	return lead.Preferences.BudgetMax
}

func budgetValue(v *int64) string {
	if v == nil {
		return "Unknown"
	}
	return fmt.Sprintf("%d", *v)
}

func bedroomsValue(lead *domain.Lead) string {
	if lead.Preferences == nil || lead.Preferences.BedroomsMin == nil {
		return "Any"
	}
	return fmt.Sprintf("%d+", *lead.Preferences.BedroomsMin)
}

func areasValue(lead *domain.Lead) string {
	if lead.Preferences == nil || len(lead.Preferences.PreferredAreas) == 0 {
		return "No preference"
	}
	return strings.Join(lead.Preferences.PreferredAreas, ", ")
}

func notesValue(lead *domain.Lead) string {
	if len(lead.Notes) == 0 {
		return "No previous notes"
	}

	notes := lead.Notes
	if len(notes) > 3 {
		notes = notes[:3]
	}

	lines := make([]string, 0, len(notes))
	for _, note := range notes {
		lines = append(lines, "- "+note.Content)
	}
	return strings.Join(lines, "\n")
}
