package coordinator

import (
	"fmt"
	"strings"

	"github.com/danelas/sms/internal/models"
)

const (
	msgClarify    = "Please reply YES if you can take this booking, or NO if you can't."
	msgDeclineAck = "Thanks for letting us know. We'll reach out for the next one!"
	msgLateReply  = "Thanks for getting back to us. This job was sent to another provider since we didn't hear back in time. We'll reach out for the next one!"
)

func solicitationMessage(b models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New booking request (ref %s): %s massage in %s.", b.ID, b.ServiceType, b.Location)
	if b.ClientName != "" {
		fmt.Fprintf(&sb, " Client: %s.", b.ClientName)
	}
	sb.WriteString(" Are you available? Reply YES or NO.")
	return sb.String()
}

func providerConfirmMessage(b models.Booking) string {
	return fmt.Sprintf("Thank you! Booking confirmed. The client is at %s; we'll send the full details shortly.", b.Location)
}

func clientConfirmMessage(b models.Booking) string {
	return fmt.Sprintf("Good news! Your %s massage in %s is confirmed. Your provider will be in touch shortly.", b.ServiceType, b.Location)
}

func clientExhaustedMessage(b models.Booking) string {
	return fmt.Sprintf("We're sorry - we couldn't find an available provider for your %s massage in %s right now. We'll follow up with you as soon as one opens up.", b.ServiceType, b.Location)
}
