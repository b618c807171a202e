package directory

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"humanitylink/internal/identity/models"
	"humanitylink/pkg/platform/sentinel"
)

// InMemory is a process-local directory for development and tests. Latency
// mimics a remote call so concurrency bugs surface in tests.
type InMemory struct {
	Latency time.Duration

	mu        sync.Mutex
	users     []*models.DirectoryUser
	creates   int
	listErr   error
	createErr error
	now       func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{now: time.Now}
}

// Seed inserts pre-existing users, e.g. to model a wallet linked twice.
func (d *InMemory) Seed(users ...models.DirectoryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range users {
		u := users[i]
		d.users = append(d.users, &u)
	}
}

// FailLists makes every subsequent ListUsers return err. Nil clears it.
func (d *InMemory) FailLists(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listErr = err
}

// FailCreates makes every subsequent CreateUser return err. Nil clears it.
func (d *InMemory) FailCreates(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createErr = err
}

// Creates reports how many users CreateUser has made.
func (d *InMemory) Creates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates
}

func (d *InMemory) ListUsers(ctx context.Context, cursor string, limit int) (*models.UserPage, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(d.users) {
			return nil, &Error{Op: "list_users", StatusCode: 400, Message: "invalid cursor"}
		}
		start = n
	}
	if limit <= 0 {
		limit = 100
	}
	end := min(start+limit, len(d.users))

	page := &models.UserPage{Data: make([]models.DirectoryUser, 0, end-start)}
	for _, u := range d.users[start:end] {
		page.Data = append(page.Data, cloneUser(u))
	}
	if end < len(d.users) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (d *InMemory) CreateUser(ctx context.Context, address string) (*models.DirectoryUser, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return nil, d.createErr
	}

	u := &models.DirectoryUser{
		ID:             "did:privy:" + uuid.NewString(),
		CreatedAt:      d.now().Unix(),
		LinkedAccounts: []models.LinkedAccount{{Type: models.LinkedAccountWallet, Address: address}},
	}
	d.users = append(d.users, u)
	d.creates++
	out := cloneUser(u)
	return &out, nil
}

func (d *InMemory) GetUser(ctx context.Context, userID string) (*models.DirectoryUser, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.find(userID)
	if !ok {
		return nil, fmt.Errorf("directory get_user %s: %w", userID, sentinel.ErrNotFound)
	}
	out := cloneUser(u)
	return &out, nil
}

func (d *InMemory) SetCustomMetadata(ctx context.Context, userID string, metadata map[string]any) (*models.DirectoryUser, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.find(userID)
	if !ok {
		return nil, fmt.Errorf("directory set_custom_metadata %s: %w", userID, sentinel.ErrNotFound)
	}
	u.CustomMetadata = maps.Clone(metadata)
	out := cloneUser(u)
	return &out, nil
}

func (d *InMemory) find(userID string) (*models.DirectoryUser, bool) {
	for _, u := range d.users {
		if u.ID == userID {
			return u, true
		}
	}
	return nil, false
}

func (d *InMemory) wait(ctx context.Context) error {
	if d.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(d.Latency):
		return nil
	case <-ctx.Done():
		return &Error{Op: "wait", Message: "request cancelled", Underlying: ctx.Err()}
	}
}

func cloneUser(u *models.DirectoryUser) models.DirectoryUser {
	out := *u
	out.LinkedAccounts = append([]models.LinkedAccount(nil), u.LinkedAccounts...)
	out.CustomMetadata = maps.Clone(u.CustomMetadata)
	return out
}
