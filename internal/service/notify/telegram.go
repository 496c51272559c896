package notify

import (
	"context"
	"strings"

	domrepo "EventArb/internal/domain/repository"
	xhttp "EventArb/pkg/http"
	applogger "EventArb/pkg/logger"
	"EventArb/pkg/util"

	"golang.org/x/time/rate"
)

// Telegram sends plain text messages through the Bot API.
type Telegram struct {
	http    *xhttp.Client
	apiURL  string
	token   string
	chatID  string
	maxLen  int
	limiter *rate.Limiter
	log     *applogger.Logger
}

func NewTelegram(apiURL, token, chatID string, opts ...Option) *Telegram {
	o := buildOptions(opts)
	return &Telegram{
		http:    xhttp.NewClient(xhttp.WithTimeout(o.timeout)),
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		chatID:  chatID,
		maxLen:  o.maxLength,
		limiter: o.limiter(),
		log:     o.log.With(applogger.String("notifier", "telegram")),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Enabled reports whether credentials are configured.
func (t *Telegram) Enabled() bool { return t.token != "" && t.chatID != "" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, message string) bool {
	if !t.Enabled() {
		return false
	}
	// throttled messages wait for a token until ctx expires
	if err := t.limiter.Wait(ctx); err != nil {
		t.log.Warn("notification throttled", applogger.Error(err))
		return false
	}

	var resp telegramResponse
	err := t.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    t.apiURL + "/bot" + t.token + "/sendMessage",
		Body: map[string]string{
			"chat_id": t.chatID,
			"text":    util.Truncate(message, t.maxLen),
		},
	}, &resp)
	if err != nil {
		t.log.Warn("telegram send failed", applogger.Error(err))
		return false
	}
	if !resp.OK {
		t.log.Warn("telegram rejected message", applogger.String("description", resp.Description))
		return false
	}
	return true
}

var _ domrepo.Notifier = (*Telegram)(nil)
