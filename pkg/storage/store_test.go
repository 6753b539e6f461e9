package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLStore(SQLConfig{Path: filepath.Join(t.TempDir(), "test.db")})
		if err != nil {
			t.Fatalf("NewSQLStore: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func TestStore_Users(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.CreateUser(ctx, "alice", "hash-a")
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if !first.IsAdmin || !first.IsActive {
			t.Errorf("first user should be an active admin: %+v", first)
		}
		if first.Quota != DefaultQuota || first.UsageCount != 0 {
			t.Errorf("unexpected quota/usage: %d/%d", first.Quota, first.UsageCount)
		}

		second, err := s.CreateUser(ctx, "bob", "hash-b")
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if second.IsAdmin {
			t.Error("second user should not be admin")
		}

		if _, err := s.CreateUser(ctx, "alice", "x"); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict for duplicate username, got %v", err)
		}

		got, err := s.GetUserByUsername(ctx, "bob")
		if err != nil || got.ID != second.ID || got.PasswordHash != "hash-b" {
			t.Errorf("GetUserByUsername: %+v, %v", got, err)
		}
		if _, err := s.GetUser(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		n, _ := s.CountUsers(ctx)
		if n != 2 {
			t.Errorf("expected 2 users, got %d", n)
		}

		inactive, quota := false, 5
		updated, err := s.UpdateUser(ctx, second.ID, UserUpdate{IsActive: &inactive, Quota: &quota})
		if err != nil {
			t.Fatalf("UpdateUser: %v", err)
		}
		if updated.IsActive || updated.Quota != 5 || updated.IsAdmin {
			t.Errorf("unexpected update result: %+v", updated)
		}
		if _, err := s.UpdateUser(ctx, 9999, UserUpdate{Quota: &quota}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		for i := 0; i < 3; i++ {
			if _, err := s.IncrementUsage(ctx, second.ID); err != nil {
				t.Fatalf("IncrementUsage: %v", err)
			}
		}
		u, _ := s.GetUser(ctx, second.ID)
		if u.UsageCount != 3 {
			t.Errorf("expected usage 3, got %d", u.UsageCount)
		}

		reset, err := s.ResetUsage(ctx)
		if err != nil || reset != 1 {
			t.Errorf("ResetUsage = %d, %v", reset, err)
		}
		u, _ = s.GetUser(ctx, second.ID)
		if u.UsageCount != 0 {
			t.Errorf("expected usage reset, got %d", u.UsageCount)
		}

		if u.LastLogin != nil {
			t.Error("expected no last login yet")
		}
		if err := s.TouchLogin(ctx, second.ID); err != nil {
			t.Fatalf("TouchLogin: %v", err)
		}
		u, _ = s.GetUser(ctx, second.ID)
		if u.LastLogin == nil {
			t.Error("expected last login to be set")
		}

		users, _ := s.ListUsers(ctx)
		if len(users) != 2 || users[0].Username != "alice" {
			t.Errorf("unexpected user list: %+v", users)
		}
	})
}

func TestStore_ConversationsAndMessages(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u, _ := s.CreateUser(ctx, "alice", "h")

		c1, err := s.CreateConversation(ctx, u.ID, "first")
		if err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
		c2, _ := s.CreateConversation(ctx, u.ID, "second")

		list, err := s.ListConversations(ctx, u.ID)
		if err != nil || len(list) != 2 || list[0].ID != c2.ID {
			t.Errorf("expected newest first, got %+v (%v)", list, err)
		}

		renamed, err := s.UpdateConversation(ctx, c1.ID, "renamed")
		if err != nil || renamed.Title != "renamed" {
			t.Errorf("UpdateConversation: %+v, %v", renamed, err)
		}

		if _, err := s.CreateMessage(ctx, c1.ID, "user", "hi"); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if _, err := s.CreateMessage(ctx, c1.ID, "assistant", "Hello"); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if _, err := s.CreateMessage(ctx, 9999, "user", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing conversation, got %v", err)
		}

		msgs, _ := s.ListMessages(ctx, c1.ID)
		if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Role != "assistant" {
			t.Errorf("unexpected messages: %+v", msgs)
		}

		if err := s.DeleteConversation(ctx, c1.ID); err != nil {
			t.Fatalf("DeleteConversation: %v", err)
		}
		if _, err := s.GetConversation(ctx, c1.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		msgs, _ = s.ListMessages(ctx, c1.ID)
		if len(msgs) != 0 {
			t.Errorf("expected messages deleted with conversation, got %d", len(msgs))
		}
		if err := s.DeleteConversation(ctx, c1.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestStore_Settings(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.GetSetting(ctx, SettingAppName); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		if _, err := s.PutSetting(ctx, SettingAppName, "Chat", nil); err != nil {
			t.Fatalf("PutSetting: %v", err)
		}
		st, err := s.PutSetting(ctx, SettingAppName, "Chat 2", nil)
		if err != nil || st.Value != "Chat 2" {
			t.Errorf("PutSetting overwrite: %+v, %v", st, err)
		}

		st, err = s.GetSetting(ctx, SettingAppName)
		if err != nil || st.Value != "Chat 2" {
			t.Errorf("GetSetting: %+v, %v", st, err)
		}
	})
}

func TestStore_Keywords(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		k, err := s.CreateKeyword(ctx, "  Secret ", nil)
		if err != nil {
			t.Fatalf("CreateKeyword: %v", err)
		}
		if k.Keyword != "secret" {
			t.Errorf("expected normalized keyword, got %q", k.Keyword)
		}
		if _, err := s.CreateKeyword(ctx, "SECRET", nil); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}

		list, _ := s.ListKeywords(ctx)
		if len(list) != 1 {
			t.Errorf("expected 1 keyword, got %d", len(list))
		}

		if err := s.DeleteKeyword(ctx, k.ID); err != nil {
			t.Fatalf("DeleteKeyword: %v", err)
		}
		if err := s.DeleteKeyword(ctx, k.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_IDsArePerTable(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.PutSetting(ctx, SettingAppName, "Chat", nil); err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateKeyword(ctx, "secret", nil); err != nil {
			t.Fatal(err)
		}

		u, err := s.CreateUser(ctx, "alice", "hash")
		if err != nil {
			t.Fatal(err)
		}
		if u.ID != 1 {
			t.Errorf("first user id = %d, want 1", u.ID)
		}
		c, err := s.CreateConversation(ctx, u.ID, "first")
		if err != nil {
			t.Fatal(err)
		}
		if c.ID != 1 {
			t.Errorf("first conversation id = %d, want 1", c.ID)
		}
		m, err := s.CreateMessage(ctx, c.ID, "user", "hi")
		if err != nil {
			t.Fatal(err)
		}
		if m.ID != 1 {
			t.Errorf("first message id = %d, want 1", m.ID)
		}
	})
}

func TestStore_ModelInvariants(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.CreateModel(ctx, &Model{Name: "llama3", DisplayName: "Llama 3", APIEndpoint: "http://x/api/generate", IsActive: true})
		if err != nil {
			t.Fatalf("CreateModel: %v", err)
		}
		if !first.IsDefault {
			t.Error("first model should become default")
		}

		if err := s.DeleteModel(ctx, first.ID); !errors.Is(err, ErrDefaultModel) {
			t.Errorf("expected ErrDefaultModel, got %v", err)
		}

		second, _ := s.CreateModel(ctx, &Model{Name: "coder", DisplayName: "Coder", APIEndpoint: "http://x/api/generate", IsActive: true})
		if second.IsDefault {
			t.Error("second model should not be default")
		}
		if _, err := s.CreateModel(ctx, &Model{Name: "coder", DisplayName: "dup"}); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}

		if _, err := s.SetDefaultModel(ctx, second.ID); err != nil {
			t.Fatalf("SetDefaultModel: %v", err)
		}
		def, _ := s.GetDefaultModel(ctx)
		if def.ID != second.ID {
			t.Errorf("expected default %d, got %d", second.ID, def.ID)
		}
		old, _ := s.GetModel(ctx, first.ID)
		if old.IsDefault {
			t.Error("previous default should be cleared")
		}

		if err := s.DeleteModel(ctx, first.ID); err != nil {
			t.Fatalf("DeleteModel: %v", err)
		}
		models, _ := s.ListModels(ctx)
		if len(models) != 1 {
			t.Fatalf("expected 1 model, got %d", len(models))
		}

		third, _ := s.CreateModel(ctx, &Model{Name: "mistral", DisplayName: "Mistral", APIEndpoint: "http://x", IsDefault: true})
		if !third.IsDefault {
			t.Error("explicit default should be honoured")
		}
		byName, err := s.GetModelByName(ctx, "coder")
		if err != nil || byName.IsDefault {
			t.Errorf("creating a new default should clear the old one: %+v, %v", byName, err)
		}

		// Only "mistral" (default) and "coder" remain; deleting coder leaves one.
		if err := s.DeleteModel(ctx, byName.ID); err != nil {
			t.Fatalf("DeleteModel: %v", err)
		}
		if err := s.DeleteModel(ctx, third.ID); !errors.Is(err, ErrDefaultModel) {
			t.Errorf("expected ErrDefaultModel for last default, got %v", err)
		}
	})
}

func TestSQLStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := NewSQLStore(SQLConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice", "h"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	s, err = NewSQLStore(SQLConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	u, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || !u.IsAdmin {
		t.Errorf("expected persisted admin user, got %+v, %v", u, err)
	}
}

func TestSQLStore_RejectsUnknownDriver(t *testing.T) {
	if _, err := NewSQLStore(SQLConfig{Path: "x.db", Driver: "postgres"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestUser_UsagePercentage(t *testing.T) {
	tests := []struct {
		quota, usage, want int
	}{
		{100, 0, 0},
		{100, 42, 42},
		{3, 1, 33},
		{3, 2, 67},
		{0, 10, 0},
	}
	for _, tt := range tests {
		u := &User{Quota: tt.quota, UsageCount: tt.usage}
		if got := u.UsagePercentage(); got != tt.want {
			t.Errorf("UsagePercentage(%d/%d) = %d, want %d", tt.usage, tt.quota, got, tt.want)
		}
	}
}
