package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/xaenox/nova/internal/apperr"
	"github.com/xaenox/nova/internal/memory"
	"github.com/xaenox/nova/internal/models"
	"github.com/xaenox/nova/internal/storage"
	"go.uber.org/zap"
)

type forgetRecorder struct {
	memory.Store
	forgotten []string
	err       error
}

func (f *forgetRecorder) ForgetChat(ctx context.Context, chatID string) error {
	f.forgotten = append(f.forgotten, chatID)
	return f.err
}

func TestCreateValidates(t *testing.T) {
	svc := NewService(storage.NewMemoryStorage(), nil, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "u1", "   "); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := svc.Create(ctx, "", "title"); apperr.KindOf(err) != apperr.KindAuth {
		t.Errorf("expected auth error, got %v", err)
	}
	chat, err := svc.Create(ctx, "u1", "  Ideas  ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if chat.Title != "Ideas" || chat.OwnerID != "u1" {
		t.Errorf("unexpected chat: %+v", chat)
	}
}

func TestAuthorize(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc := NewService(store, nil, zap.NewNop())
	ctx := context.Background()
	chat, _ := svc.Create(ctx, "owner", "Mine")

	tests := []struct {
		name    string
		userID  string
		chatID  string
		want    apperr.Kind
		wantErr bool
	}{
		{name: "owner", userID: "owner", chatID: chat.ID},
		{name: "other user", userID: "intruder", chatID: chat.ID, want: apperr.KindOwnership, wantErr: true},
		{name: "missing chat", userID: "owner", chatID: "nope", want: apperr.KindNotFound, wantErr: true},
		{name: "undefined id", userID: "owner", chatID: "undefined", want: apperr.KindValidation, wantErr: true},
		{name: "empty id", userID: "owner", chatID: "", want: apperr.KindValidation, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Authorize(ctx, tt.userID, tt.chatID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authorize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && apperr.KindOf(err) != tt.want {
				t.Errorf("kind = %v, want %v", apperr.KindOf(err), tt.want)
			}
		})
	}
}

func TestRename(t *testing.T) {
	svc := NewService(storage.NewMemoryStorage(), nil, zap.NewNop())
	ctx := context.Background()
	chat, _ := svc.Create(ctx, "u1", "Old")

	if _, err := svc.Rename(ctx, "u1", chat.ID, ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := svc.Rename(ctx, "u2", chat.ID, "Stolen"); apperr.KindOf(err) != apperr.KindOwnership {
		t.Errorf("expected ownership error, got %v", err)
	}
	renamed, err := svc.Rename(ctx, "u1", chat.ID, " New ")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if renamed.Title != "New" {
		t.Errorf("title = %q", renamed.Title)
	}
}

func TestDeleteCascades(t *testing.T) {
	store := storage.NewMemoryStorage()
	mem := &forgetRecorder{}
	svc := NewService(store, mem, zap.NewNop())
	ctx := context.Background()

	chat, _ := svc.Create(ctx, "u1", "Doomed")
	_, _ = store.AppendMessage(ctx, chat.ID, "u1", models.RoleUser, "hello")
	_, _ = store.AppendMessage(ctx, chat.ID, "u1", models.RoleModel, "hi")

	if err := svc.Delete(ctx, "u2", chat.ID); apperr.KindOf(err) != apperr.KindOwnership {
		t.Fatalf("expected ownership error, got %v", err)
	}
	if err := svc.Delete(ctx, "u1", chat.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	msgs, err := store.ListMessages(ctx, chat.ID, storage.OldestFirst, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages after delete, got %d", len(msgs))
	}
	if _, err := store.GetChat(ctx, chat.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected chat to be gone, got %v", err)
	}
	if len(mem.forgotten) != 1 || mem.forgotten[0] != chat.ID {
		t.Errorf("expected memories of %s to be forgotten, got %v", chat.ID, mem.forgotten)
	}
}

func TestDeleteIgnoresMemoryFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc := NewService(store, &forgetRecorder{err: errors.New("index down")}, zap.NewNop())
	ctx := context.Background()

	chat, _ := svc.Create(ctx, "u1", "Doomed")
	if err := svc.Delete(ctx, "u1", chat.ID); err != nil {
		t.Fatalf("memory failure should not fail delete: %v", err)
	}
}

func TestMessagesAndList(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc := NewService(store, nil, zap.NewNop())
	ctx := context.Background()

	first, _ := svc.Create(ctx, "u1", "First")
	second, _ := svc.Create(ctx, "u1", "Second")
	_, _ = svc.Create(ctx, "u2", "Other")
	_, _ = store.AppendMessage(ctx, first.ID, "u1", models.RoleUser, "one")
	_, _ = store.AppendMessage(ctx, first.ID, "u1", models.RoleModel, "two")

	msgs, err := svc.Messages(ctx, "u1", first.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	chats, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	ids := map[string]bool{chats[0].ID: true, chats[1].ID: true}
	if !ids[first.ID] || !ids[second.ID] {
		t.Errorf("unexpected chats: %+v", chats)
	}
}
