package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Alert is an anomalously cheap fare, built at decision time and discarded
// once delivered.
type Alert struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	OneWay        bool
	DaysBetween   *int
	Price         int64
	Average       decimal.Decimal
	Savings       decimal.Decimal
	SavingsPct    decimal.Decimal
	Currency      string
	ObservedAt    time.Time
}

// Notifier delivers alerts to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// TelegramOptions configure the Telegram notifier.
type TelegramOptions struct {
	BotToken          string
	ChatID            string
	APIBase           string
	Timeout           time.Duration
	MessagesPerMinute int
}

// TelegramNotifier posts alerts to a single chat or channel through the Bot API.
type TelegramNotifier struct {
	opts     TelegramOptions
	endpoint string
	limiter  *rate.Limiter
	logger   zerolog.Logger

	botMux sync.Mutex
	bot    *tgbotapi.BotAPI
}

// NewTelegramNotifier constructs the Telegram notifier. The bot session is
// opened lazily on the first alert.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}

	limit := rate.Inf
	if opts.MessagesPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.MessagesPerMinute))
	}

	return &TelegramNotifier{
		opts:     opts,
		endpoint: base + "/bot%s/%s",
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify renders the alert and sends it to the configured chat.
func (n *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram pacing: %w", err)
	}

	bot, err := n.getBot()
	if err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if chatID, parseErr := strconv.ParseInt(n.opts.ChatID, 10, 64); parseErr == nil {
		msg = tgbotapi.NewMessage(chatID, RenderMessage(alert))
	} else {
		msg = tgbotapi.NewMessageToChannel(n.opts.ChatID, RenderMessage(alert))
	}
	msg.DisableWebPagePreview = true

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Info().
		Str("route", alert.Origin+"-"+alert.Destination).
		Int64("price", alert.Price).
		Str("average", alert.Average.StringFixed(0)).
		Msg("alert sent (telegram)")
	return nil
}

func (n *TelegramNotifier) getBot() (*tgbotapi.BotAPI, error) {
	n.botMux.Lock()
	defer n.botMux.Unlock()

	if n.bot != nil {
		return n.bot, nil
	}
	if n.opts.BotToken == "" || n.opts.ChatID == "" {
		return nil, errors.New("telegram bot token and chat id required")
	}

	client := &http.Client{Timeout: n.opts.Timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(n.opts.BotToken, n.endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("open telegram bot: %w", err)
	}
	n.bot = bot
	return bot, nil
}

// LogNotifier writes alerts to the log. It stands in when no channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered alert.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Warn().
		Str("route", alert.Origin+"-"+alert.Destination).
		Int64("price", alert.Price).
		Str("average", alert.Average.StringFixed(2)).
		Str("savings_pct", alert.SavingsPct.StringFixed(1)).
		Msg(RenderMessage(alert))
	return nil
}

// RenderMessage formats the alert as a chat message.
func RenderMessage(alert Alert) string {
	currency := alert.Currency
	if currency == "" {
		currency = "RUB"
	}

	builder := strings.Builder{}
	builder.WriteString("Anomalously low fare found!\n\n")
	builder.WriteString(fmt.Sprintf("Route: %s -> %s\n", alert.Origin, alert.Destination))
	builder.WriteString(fmt.Sprintf("Departure: %s\n", alert.DepartureDate.Format("2006-01-02")))
	if !alert.OneWay && alert.ReturnDate != nil {
		builder.WriteString(fmt.Sprintf("Return: %s\n", alert.ReturnDate.Format("2006-01-02")))
	}
	if alert.OneWay {
		builder.WriteString("Type: one-way\n")
	} else {
		builder.WriteString("Type: round-trip\n")
	}
	if alert.DaysBetween != nil {
		builder.WriteString(fmt.Sprintf("Days between flights: %d\n", *alert.DaysBetween))
	} else {
		builder.WriteString("Days between flights: N/A\n")
	}
	builder.WriteString(fmt.Sprintf("Price: %d %s (usual price: %s %s)\n",
		alert.Price, currency, alert.Average.Truncate(0).String(), currency))
	builder.WriteString(fmt.Sprintf("Savings: %s %s (%s%%)",
		alert.Savings.Truncate(0).String(), currency, alert.SavingsPct.Truncate(0).String()))
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
