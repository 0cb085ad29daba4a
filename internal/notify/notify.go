// Package notify builds the per-run digest and delivers it over the configured transport.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/job-radar/internal/listing"
)

const (
	TransportNone = ""
	TransportSMTP = "smtp"
	TransportNATS = "nats"
)

// Message is one notification. Body is the rendered plain-text digest,
// Listings the structured payload behind it.
type Message struct {
	Subject   string
	Body      string
	Listings  []listing.Listing
	CreatedAt time.Time
	// To overrides the transport's default recipients when set.
	To []string
}

// Notifier delivers a message. A nil error means the transport confirmed delivery.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Compose renders the digest for the matched listings, best match first.
func Compose(items []listing.Listing, now time.Time) Message {
	subject := fmt.Sprintf("job-radar: %d new matching %s - %s", len(items), plural(len(items), "job", "jobs"), now.Format("January 2, 2006"))

	var b strings.Builder
	fmt.Fprintf(&b, "%d new %s matched your profile.\n", len(items), plural(len(items), "listing", "listings"))
	for i := range items {
		l := &items[i]
		fmt.Fprintf(&b, "\n#%d [%.0f%%] %s @ %s\n", i+1, l.Score*100, l.Title, l.Company)

		meta := make([]string, 0, 4)
		for _, v := range []string{l.Location, l.Salary, l.JobType, l.Source} {
			if v = strings.TrimSpace(v); v != "" {
				meta = append(meta, v)
			}
		}
		if l.Remote {
			meta = append(meta, "remote")
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, "   %s\n", strings.Join(meta, " | "))
		}
		if l.Reason != "" {
			fmt.Fprintf(&b, "   %s\n", l.Reason)
		}
		fmt.Fprintf(&b, "   %s\n", l.URL)
	}

	return Message{
		Subject:   subject,
		Body:      b.String(),
		Listings:  items,
		CreatedAt: now,
	}
}

// ComposeTest renders the fixed message used to check a transport end to end.
func ComposeTest(now time.Time) Message {
	return Message{
		Subject:   fmt.Sprintf("job-radar - test notification (%s)", now.Format("2006-01-02 15:04:05")),
		Body:      "This is a test notification from job-radar.\nIf you can read it, the transport is configured correctly.\n",
		CreatedAt: now,
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
