package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"kasbon/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newStubWithAdmin() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := newStubWithAdmin()

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubWithAdmin())

	if _, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "wrong"}); err == nil {
		t.Fatal("expected login with wrong password to fail")
	}
	if _, err := manager.Login(domain.LoginRequest{Username: "nobody", Password: "admin123"}); err == nil {
		t.Fatal("expected login with unknown username to fail")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := newStubWithAdmin()
	user := store.users["admin"]
	user.Active = false
	store.users["admin"] = user

	manager := NewAuthManager("test-secret", time.Hour, store)
	if _, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "admin123"}); err == nil {
		t.Fatal("expected login on inactive account to fail")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubWithAdmin())

	resp, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("actor = %+v, want admin/admin", actor)
	}

	other := NewAuthManager("different-secret", time.Hour, newStubWithAdmin())
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := newStubWithAdmin()

	manager := NewAuthManager("test-secret", time.Hour, store)
	cashier, err := manager.CreateCashier(domain.CashierCreateRequest{
		Username: "kasirbaru",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "kasirbaru" {
		t.Fatalf("unexpected username %s", cashier.Username)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "kasirbaru" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected cashier to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected cashier password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	_, err = manager.Login(domain.LoginRequest{
		Username: "kasirbaru",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
}

func TestCreateCashierValidation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubWithAdmin())

	if _, err := manager.CreateCashier(domain.CashierCreateRequest{Username: "ab", Password: "pass1234"}); err == nil {
		t.Error("expected short username to be rejected")
	}
	if _, err := manager.CreateCashier(domain.CashierCreateRequest{Username: "kasirbaru", Password: "123"}); err == nil {
		t.Error("expected short password to be rejected")
	}
	if _, err := manager.CreateCashier(domain.CashierCreateRequest{Username: "admin", Password: "pass1234"}); err == nil {
		t.Error("expected existing username to be rejected")
	}
}

func TestListCashiersExcludesAdmins(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubWithAdmin())

	if _, err := manager.CreateCashier(domain.CashierCreateRequest{Username: "kasirsatu", Password: "pass1234"}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if _, err := manager.CreateCashier(domain.CashierCreateRequest{Username: "kasirdua", Password: "pass1234"}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}

	cashiers := manager.ListCashiers()
	if len(cashiers) != 2 {
		t.Fatalf("cashiers = %d, want 2", len(cashiers))
	}
	if cashiers[0].Username != "kasirdua" || cashiers[1].Username != "kasirsatu" {
		t.Errorf("unexpected order: %s, %s", cashiers[0].Username, cashiers[1].Username)
	}
	for _, cashier := range cashiers {
		if cashier.Role != "cashier" {
			t.Errorf("role = %s, want cashier", cashier.Role)
		}
	}
}
