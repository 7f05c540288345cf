package router

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// TimestampLayout is how send times appear in delivered lines
const TimestampLayout = "2006-01-02 15:04:05"

// Fixed notification texts
const (
	LimitWarning = "You have reached the limit for sending messages to the general chat"
	guestPrefix  = "New guest in the chat! - "
	leftSuffix   = " has left the chat"
	rejectPrefix = "Invalid request: "
)

func (r *Router) formatMessage(sentAt time.Time, sender, receiver, body string) string {
	return fmt.Sprintf("%s %s to %s: %s", sentAt.In(r.location).Format(TimestampLayout), sender, receiver, body)
}

func formatGuest(username string) string {
	return guestPrefix + username
}

func formatLeft(username string) string {
	return username + leftSuffix
}

func formatReject(reason error) string {
	return rejectPrefix + reason.Error()
}

// formatStatus renders the status block for a requester at remoteAddr
func formatStatus(username, remoteAddr string, online []string) string {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host, port = remoteAddr, ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your username - \"%s\"\n", username)
	fmt.Fprintf(&b, "Your address - %s\n", host)
	fmt.Fprintf(&b, "Your port - %s\n", port)
	fmt.Fprintf(&b, "Users online - %d:\n", len(online))
	b.WriteString(strings.Join(online, ", "))
	return b.String()
}
