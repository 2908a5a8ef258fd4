// Package notify delivers automation alerts to users over email, SMS,
// telegram and mobile push. Senders that are not configured in the
// platform settings report an error instead of silently dropping.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/logger"
)

type Notifier struct {
	settings *models.Settings
	bot      *tgbotapi.BotAPI
	http     *http.Client
}

func New(settings *models.Settings) *Notifier {
	n := &Notifier{
		settings: settings,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	if settings != nil && settings.TelegramToken != "" {
		bot, err := tgbotapi.NewBotAPI(settings.TelegramToken)
		if err != nil {
			logger.Error("telegram bot init: %v", err)
		} else {
			n.bot = bot
		}
	}
	return n
}

func (n *Notifier) Email(ctx context.Context, user *models.User, subject, text string) error {
	if n.settings == nil || n.settings.SendGridKey == "" {
		return errors.New("email sender is not configured")
	}
	if user.Email == "" {
		return errors.New("user has no email")
	}
	body, err := sonic.Marshal(map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": user.Email}}},
		},
		"from":    map[string]string{"email": n.settings.Email},
		"subject": subject,
		"content": []map[string]string{{"type": "text/plain", "value": text}},
	})
	if err != nil {
		return errors.Wrap(err, "encode email")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.sendgrid.com/v3/mail/send", strings.NewReader(string(body)))
	if err != nil {
		return errors.Wrap(err, "build email request")
	}
	req.Header.Set("Authorization", "Bearer "+n.settings.SendGridKey)
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, "sendgrid")
}

func (n *Notifier) SMS(ctx context.Context, user *models.User, text string) error {
	if n.settings == nil || n.settings.TwilioSid == "" {
		return errors.New("sms sender is not configured")
	}
	if user.Phone == "" {
		return errors.New("user has no phone")
	}
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", n.settings.TwilioSid)
	form := url.Values{}
	form.Set("From", n.settings.TwilioPhone)
	form.Set("To", user.Phone)
	form.Set("Body", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build sms request")
	}
	req.SetBasicAuth(n.settings.TwilioSid, n.settings.TwilioToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return n.do(req, "twilio")
}

func (n *Notifier) Telegram(ctx context.Context, user *models.User, text string) error {
	if n.bot == nil {
		return errors.New("telegram sender is not configured")
	}
	chatID, err := strconv.ParseInt(user.TelegramChat, 10, 64)
	if err != nil || chatID == 0 {
		return errors.New("user has no telegram chat")
	}
	msg := tgbotapi.NewMessage(chatID, text)
	_, err = n.bot.Send(msg)
	return errors.Wrap(err, "send telegram")
}

// Push sends a mobile notification through the configured push
// gateway. The deep URI variant carries a payload the app routes on.
func (n *Notifier) Push(ctx context.Context, user *models.User, title, text string, payload map[string]interface{}) error {
	if n.settings == nil || n.settings.PushBasicURI == "" {
		return errors.New("push sender is not configured")
	}
	if user.PushToken == "" {
		return errors.New("user has no push token")
	}
	uri := n.settings.PushBasicURI
	msg := map[string]interface{}{
		"to":    user.PushToken,
		"title": title,
		"body":  text,
	}
	if payload != nil {
		uri = n.settings.PushDeepURI
		msg["data"] = payload
	}
	body, err := sonic.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode push")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, strings.NewReader(string(body)))
	if err != nil {
		return errors.Wrap(err, "build push request")
	}
	req.Header.Set("Authorization", "Bearer "+n.settings.PushKey)
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, "push")
}

func (n *Notifier) do(req *http.Request, sender string) error {
	resp, err := n.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "send via %s", sender)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("%s http %d", sender, resp.StatusCode)
	}
	return nil
}
