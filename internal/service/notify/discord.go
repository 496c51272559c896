package notify

import (
	"context"
	"strings"
	"time"

	domrepo "EventArb/internal/domain/repository"
	xhttp "EventArb/pkg/http"
	applogger "EventArb/pkg/logger"
	"EventArb/pkg/util"

	"golang.org/x/time/rate"
)

const discordDescriptionLimit = 4096

var severityColors = map[string]int{
	"FATAL":   0x8B0000,
	"ERROR":   0xE74C3C,
	"WARNING": 0xF1C40F,
}

// Discord posts embeds to a webhook.
type Discord struct {
	http       *xhttp.Client
	webhookURL string
	maxLen     int
	limiter    *rate.Limiter
	log        *applogger.Logger
	now        func() time.Time
}

func NewDiscord(webhookURL string, opts ...Option) *Discord {
	o := buildOptions(opts)
	maxLen := o.maxLength
	if maxLen <= 0 || maxLen > discordDescriptionLimit {
		maxLen = discordDescriptionLimit
	}
	return &Discord{
		http:       xhttp.NewClient(xhttp.WithTimeout(o.timeout)),
		webhookURL: webhookURL,
		maxLen:     maxLen,
		limiter:    o.limiter(),
		log:        o.log.With(applogger.String("notifier", "discord")),
		now:        time.Now,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Enabled() bool { return d.webhookURL != "" }

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts message as one embed. A leading "[SEVERITY]" tag becomes the
// embed title and picks its color.
func (d *Discord) Send(ctx context.Context, message string) bool {
	if !d.Enabled() {
		return false
	}
	// throttled messages wait for a token until ctx expires
	if err := d.limiter.Wait(ctx); err != nil {
		d.log.Warn("notification throttled", applogger.Error(err))
		return false
	}

	title, body := splitSeverity(message)
	payload := discordPayload{Embeds: []discordEmbed{{
		Title:       title,
		Description: util.Truncate(body, d.maxLen),
		Color:       severityColors[title],
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}}}

	err := d.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    d.webhookURL,
		Body:   payload,
	}, nil)
	if err != nil {
		d.log.Warn("discord send failed", applogger.Error(err))
		return false
	}
	return true
}

func splitSeverity(message string) (string, string) {
	if strings.HasPrefix(message, "[") {
		if i := strings.IndexByte(message, ']'); i > 1 {
			return message[1:i], strings.TrimSpace(message[i+1:])
		}
	}
	return "ALERT", message
}

var _ domrepo.Notifier = (*Discord)(nil)
