package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"go.uber.org/zap"

	"lp-pnl-tracker/internal/domain"
)

// DefaultTelegramTimeout bounds one sendMessage call.
const DefaultTelegramTimeout = 10 * time.Second

// TelegramOptions configures a Telegram notifier.
type TelegramOptions struct {
	Token  string
	ChatID int64
	// APIURL overrides the Bot API endpoint.
	APIURL  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Telegram sends notifications to one chat through the Bot API.
type Telegram struct {
	bot     *gotgbot.Bot
	reqOpts *gotgbot.RequestOpts // applied to every call
	chatID  int64
	now     func() time.Time
	logger  *zap.Logger
}

// NewTelegram creates a Telegram notifier. The token is not checked
// against the API until the first message.
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if opts.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTelegramTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reqOpts := &gotgbot.RequestOpts{
		Timeout: timeout,
		APIURL:  opts.APIURL,
	}
	bot, err := gotgbot.NewBot(opts.Token, &gotgbot.BotOpts{
		DisableTokenCheck: true,
		RequestOpts:       reqOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &Telegram{
		bot:     bot,
		reqOpts: reqOpts,
		chatID:  opts.ChatID,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "telegram")),
	}, nil
}

// PositionClosed implements Notifier.
func (t *Telegram) PositionClosed(ctx context.Context, snap *domain.StrategySnapshot) error {
	return t.send(ctx, FormatPositionClosed(snap))
}

// CycleFailed implements Notifier.
func (t *Telegram) CycleFailed(ctx context.Context, instance string, err error) error {
	return t.send(ctx, FormatCycleFailed(instance, err, t.now()))
}

func (t *Telegram) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.SendMessage(t.chatID, text, &gotgbot.SendMessageOpts{RequestOpts: t.reqOpts}); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	t.logger.Debug("notification sent", zap.Int64("chat_id", t.chatID))
	return nil
}

var (
	_ Notifier = (*Telegram)(nil)
	_ Notifier = Nop{}
)
