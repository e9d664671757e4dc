package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "vera@example.com",
		Password: "supersafe",
		FullName: "Vera Vendor",
		Role:     RoleVendor,
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleVendor {
		t.Fatalf("register: expected role %s got %s", RoleVendor, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	tokenUserID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, tokenUserID)
	}
	if tokenRole != RoleVendor {
		t.Fatalf("verify token: expected role %s got %s", RoleVendor, tokenRole)
	}
}

func TestService_RegisterDefaultsToBuyer(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		Password: "supersafe",
		FullName: "Bob Buyer",
	})
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if user.Role != RoleBuyer {
		t.Fatalf("expected default role %s got %s", RoleBuyer, user.Role)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "vera@example.com",
		Password: "short",
		FullName: "Vera Vendor",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterRequest{
		Email:    "vera@example.com",
		Password: "supersafe",
		FullName: "Vera Vendor",
		Role:     Role("auctioneer"),
	})
	if err == nil {
		t.Fatal("expected invalid role error, got nil")
	}
}

func TestService_LoginWrongPassword(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "rita@example.com",
		Password: "supersafe",
		FullName: "Rita Reseller",
		Role:     RoleReseller,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Login(context.Background(), LoginRequest{Email: "rita@example.com", Password: "wrongpass"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials got %v", err)
	}

	_, err = svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "supersafe"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user got %v", err)
	}
}

type fakeRepository struct {
	byEmail map[string]User
	byID    map[string]User
	seq     int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byEmail: make(map[string]User),
		byID:    make(map[string]User),
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.byEmail[params.Email]; exists {
		return User{}, ErrDuplicateEmail
	}
	f.seq++
	user := User{
		ID:           fmt.Sprintf("user-%d", f.seq),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.byEmail[user.Email] = user
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
