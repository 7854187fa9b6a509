package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/nova/internal/chat"
	"github.com/xaenox/nova/internal/models"
	"github.com/xaenox/nova/internal/pipeline"
	"go.uber.org/zap"
)

// Telegram rejects messages longer than this.
const maxMessageRunes = 4096

const historyTurns = 5

// Sender is the subset of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Runner interface {
	Run(ctx context.Context, req pipeline.TurnRequest) (*pipeline.Turn, error)
}

type Bot struct {
	api    *tgbotapi.BotAPI
	sender Sender
	chats  *chat.Service
	turns  Runner
	logger *zap.Logger
	now    func() time.Time
}

func New(token string, chats *chat.Service, turns Runner, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b := NewWithSender(api, chats, turns, logger)
	b.api = api
	return b, nil
}

// NewWithSender builds a bot that only sends; Start needs the full API.
func NewWithSender(sender Sender, chats *chat.Service, turns Runner, logger *zap.Logger) *Bot {
	return &Bot{
		sender: sender,
		chats:  chats,
		turns:  turns,
		logger: logger.Named("telegram"),
		now:    time.Now,
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return fmt.Errorf("bot has no telegram api")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.HandleMessage(ctx, update.Message)
		}
	}
}

func ownerID(message *tgbotapi.Message) string {
	return "telegram:" + strconv.FormatInt(message.From.ID, 10)
}

// HandleMessage answers a single incoming Telegram message.
func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "I can only read text for now. Send me a message!")
		return
	}

	owner := ownerID(message)
	current, err := b.currentChat(ctx, owner)
	if err != nil {
		b.logger.Error("Failed to resolve chat", zap.Error(err), zap.String("owner_id", owner))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't open your conversation. Please try again.")
		return
	}

	if _, err := b.sender.Request(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send typing action", zap.Error(err))
	}

	turn, err := b.turns.Run(ctx, pipeline.TurnRequest{ChatID: current.ID, AuthorID: owner, Content: content})
	if err != nil {
		b.logger.Error("Turn failed",
			zap.Error(err),
			zap.String("chat_id", current.ID),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't answer that. Please send it again.")
		return
	}

	for i, part := range splitMessage(turn.Reply.Content, maxMessageRunes) {
		msg := tgbotapi.NewMessage(message.Chat.ID, part)
		if i == 0 {
			msg.ReplyToMessageID = message.MessageID
		}
		if _, err := b.sender.Send(msg); err != nil {
			b.logger.Error("Failed to send reply", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
			return
		}
	}
}

// currentChat returns the owner's most recently active chat, creating one if needed.
func (b *Bot) currentChat(ctx context.Context, owner string) (*models.Chat, error) {
	chats, err := b.chats.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(chats) > 0 {
		return chats[0], nil
	}
	return b.newChat(ctx, owner)
}

func (b *Bot) newChat(ctx context.Context, owner string) (*models.Chat, error) {
	return b.chats.Create(ctx, owner, "Telegram chat "+b.now().Format("2006-01-02 15:04"))
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "new":
		b.handleNew(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hi, I'm Nova! ✨
Your brainstorming companion. I remember what we talk about, so feel free to pick up where we left off.

Just send me a message to start.
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/new - Start a fresh conversation
/history - Show the last few turns of this conversation`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	owner := ownerID(message)
	if _, err := b.newChat(ctx, owner); err != nil {
		b.logger.Error("Failed to create chat", zap.Error(err), zap.String("owner_id", owner))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a new conversation.")
		return
	}
	b.sendMessage(message.Chat.ID, "Started a fresh conversation. What's on your mind?")
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	owner := ownerID(message)
	chats, err := b.chats.List(ctx, owner)
	if err != nil {
		b.logger.Error("Failed to list chats", zap.Error(err), zap.String("owner_id", owner))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}
	if len(chats) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}

	messages, err := b.chats.Messages(ctx, owner, chats[0].ID)
	if err != nil {
		b.logger.Error("Failed to get messages", zap.Error(err), zap.String("chat_id", chats[0].ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}
	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}
	if len(messages) > historyTurns*2 {
		messages = messages[len(messages)-historyTurns*2:]
	}

	response := fmt.Sprintf("*%s*\n\n", escapeMarkdown(chats[0].Title))
	for _, m := range messages {
		speaker := "You"
		if m.Role == models.RoleModel {
			speaker = "Nova"
		}
		response += fmt.Sprintf("*%s:* %s\n\n", speaker, escapeMarkdown(truncate(m.Content, 300)))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send history message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// splitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
