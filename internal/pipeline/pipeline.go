// Package pipeline runs a conversational turn: it persists the prompt,
// indexes it as long-term memory, assembles short- and long-term context,
// asks the completer for a reply and persists and indexes that reply.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/nova/internal/apperr"
	"github.com/xaenox/nova/internal/completion"
	"github.com/xaenox/nova/internal/embedding"
	"github.com/xaenox/nova/internal/memory"
	"github.com/xaenox/nova/internal/models"
	"github.com/xaenox/nova/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryLimit = 25
	DefaultRecallLimit  = 3

	// MemoryTemplate prefixes the recalled memory texts in the system segment.
	MemoryTemplate  = "these are the relevant pieces of past conversation memory between the user and the AI model to help provide contextually relevant responses: "
	MemorySeparator = " ||| "
)

// Conversations is the part of the conversation store a turn touches.
type Conversations interface {
	storage.MessageStorage
	TouchChat(ctx context.Context, chatID string, at time.Time) error
}

type TurnRequest struct {
	ChatID   string
	AuthorID string
	Content  string
}

// Turn is the outcome of a successful Run.
type Turn struct {
	Prompt   *models.Message
	Reply    *models.Message
	Context  []models.Segment
	Memories []memory.Metadata
	State    State
}

type Orchestrator struct {
	conversations Conversations
	embedder      embedding.Embedder
	memory        memory.Store
	completer     completion.Completer
	logger        *zap.Logger

	historyLimit int
	recallLimit  int
	locks        *chatLocks
	now          func() time.Time
}

type Option func(*Orchestrator)

// WithHistoryLimit sets how many recent messages form the short-term context.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// WithRecallLimit sets how many memories are recalled per turn.
func WithRecallLimit(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.recallLimit = n
		}
	}
}

// WithChatSerialization allows one in-flight turn per chat. Without it turns
// on the same chat may interleave their messages.
func WithChatSerialization() Option {
	return func(o *Orchestrator) {
		o.locks = newChatLocks()
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func New(conversations Conversations, embedder embedding.Embedder, mem memory.Store, completer completion.Completer, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conversations: conversations,
		embedder:      embedder,
		memory:        mem,
		completer:     completer,
		logger:        logger.Named("pipeline"),
		historyLimit:  DefaultHistoryLimit,
		recallLimit:   DefaultRecallLimit,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one turn. Errors are *TurnError values; completion failures
// never fail a turn.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (*Turn, error) {
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" || strings.TrimSpace(req.Content) == "" {
		return nil, &TurnError{State: StateReceived, Err: apperr.Validation("chat and content are required")}
	}

	if o.locks != nil {
		unlock := o.locks.lock(chatID)
		defer unlock()
	}

	turn := &Turn{State: StateReceived}
	log := o.logger.With(zap.String("chat_id", chatID), zap.String("author_id", req.AuthorID))
	fail := func(err error) (*Turn, error) {
		log.Error("Turn failed", zap.Stringer("state", turn.State), zap.Error(err))
		at := turn.State
		turn.State = StateFailed
		return nil, &TurnError{State: at, Err: err}
	}

	// Persist and embed the prompt. Neither cancels the other.
	var promptVec []float32
	var g errgroup.Group
	g.Go(func() error {
		msg, err := o.conversations.AppendMessage(ctx, chatID, req.AuthorID, models.RoleUser, req.Content)
		if err != nil {
			return fmt.Errorf("persist prompt: %w", err)
		}
		turn.Prompt = msg
		return nil
	})
	g.Go(func() error {
		vec, err := o.embedder.Embed(ctx, req.Content)
		if err != nil {
			return apperr.Provider("embed prompt", err)
		}
		promptVec = vec
		return nil
	})
	err := g.Wait()
	if turn.Prompt != nil {
		turn.State = StatePersistedPrompt
	}
	if err != nil {
		return fail(err)
	}

	if err := o.remember(ctx, turn.Prompt, promptVec); err != nil {
		return fail(err)
	}
	turn.State = StateIndexedPrompt

	var history []*models.Message
	var assemble errgroup.Group
	assemble.Go(func() error {
		if o.recallLimit == 0 {
			return nil
		}
		found, err := o.memory.Recall(ctx, promptVec, o.recallLimit, memory.Scope{UserID: req.AuthorID})
		if err != nil {
			return apperr.Provider("recall memories", err)
		}
		turn.Memories = found
		return nil
	})
	assemble.Go(func() error {
		recent, err := o.conversations.ListMessages(ctx, chatID, storage.NewestFirst, o.historyLimit)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		history = reverse(recent)
		return nil
	})
	if err := assemble.Wait(); err != nil {
		return fail(err)
	}
	turn.Context = BuildContext(turn.Memories, history)
	turn.State = StateContextAssembled

	reply := o.completer.Complete(ctx, turn.Context)
	turn.State = StateCompleted

	var replyVec []float32
	var persist errgroup.Group
	persist.Go(func() error {
		msg, err := o.conversations.AppendMessage(ctx, chatID, req.AuthorID, models.RoleModel, reply)
		if err != nil {
			return fmt.Errorf("persist reply: %w", err)
		}
		turn.Reply = msg
		return nil
	})
	persist.Go(func() error {
		vec, err := o.embedder.Embed(ctx, reply)
		if err != nil {
			return apperr.Provider("embed reply", err)
		}
		replyVec = vec
		return nil
	})
	err = persist.Wait()
	if turn.Reply != nil {
		turn.State = StatePersistedReply
	}
	if err != nil {
		return fail(err)
	}

	if err := o.remember(ctx, turn.Reply, replyVec); err != nil {
		return fail(err)
	}
	turn.State = StateIndexedReply

	if err := o.conversations.TouchChat(ctx, chatID, o.now()); err != nil {
		log.Warn("Failed to update chat activity", zap.Error(err))
	}
	turn.State = StateDone

	log.Info("Turn completed",
		zap.Int("history", len(history)),
		zap.Int("memories", len(turn.Memories)))
	return turn, nil
}

// History returns the full message log of a chat, oldest first.
func (o *Orchestrator) History(ctx context.Context, chatID string) ([]*models.Message, error) {
	return o.conversations.ListMessages(ctx, chatID, storage.OldestFirst, 0)
}

func (o *Orchestrator) remember(ctx context.Context, msg *models.Message, vec []float32) error {
	err := o.memory.Remember(ctx, memory.Record{
		ID:     msg.ID,
		Vector: vec,
		Metadata: memory.Metadata{
			UserID: msg.AuthorID,
			ChatID: msg.ChatID,
			Text:   msg.Content,
		},
	})
	if err != nil {
		return apperr.Provider("index message", err)
	}
	return nil
}

// BuildContext assembles the system memory segment followed by the chat history.
func BuildContext(memories []memory.Metadata, history []*models.Message) []models.Segment {
	texts := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	segments := make([]models.Segment, 0, len(history)+1)
	segments = append(segments, models.NewSegment(models.RoleSystem, MemoryTemplate+strings.Join(texts, MemorySeparator)))
	return append(segments, models.SegmentsFromMessages(history)...)
}

func reverse(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}
