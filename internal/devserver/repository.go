package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/nhle/bank-notifications/internal/model"
)

// NewNotification is the input for Repository.Create.
type NewNotification struct {
	Message        string
	Type           string
	Severity       model.Severity
	ReferenceID    *int64
	ReferenceType  model.ReferenceType
	AdditionalData string
}

// Repository is the in-memory notification backend.
type Repository struct {
	mu     sync.Mutex
	nextID int64
	owner  map[model.NotificationID]model.UserID
	byUser map[model.UserID][]model.Notification
	prefs  map[model.UserID]model.Preferences
	now    func() time.Time
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		owner:  make(map[model.NotificationID]model.UserID),
		byUser: make(map[model.UserID][]model.Notification),
		prefs:  make(map[model.UserID]model.Preferences),
		now:    time.Now,
	}
}

// Create stores a notification for userID and returns it.
func (r *Repository) Create(userID model.UserID, in NewNotification) model.Notification {
	return r.create(userID, in, r.now())
}

func (r *Repository) create(userID model.UserID, in NewNotification, at time.Time) model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	n := model.Notification{
		ID:             model.NotificationID(r.nextID),
		Message:        in.Message,
		Type:           model.ParseNotificationType(in.Type),
		RawType:        in.Type,
		Severity:       in.Severity,
		Timestamp:      at.Truncate(time.Millisecond),
		ReferenceID:    in.ReferenceID,
		ReferenceType:  in.ReferenceType,
		AdditionalData: in.AdditionalData,
	}
	r.owner[n.ID] = userID
	r.byUser[userID] = append(r.byUser[userID], n)
	return n
}

// List returns a user's notifications, newest first.
func (r *Repository) List(userID model.UserID, unreadOnly bool) []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Notification, 0, len(r.byUser[userID]))
	for _, n := range r.byUser[userID] {
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// MarkRead flips the read flag if the notification belongs to userID.
func (r *Repository) MarkRead(userID model.UserID, id model.NotificationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner[id] != userID {
		return false
	}
	ns := r.byUser[userID]
	for i := range ns {
		if ns[i].ID == id {
			ns[i].IsRead = true
			return true
		}
	}
	return false
}

// Preferences returns a user's preferences, creating the defaults on first
// access.
func (r *Repository) Preferences(userID model.UserID) model.Preferences {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.prefs[userID]
	if !ok {
		p = model.DefaultPreferences()
		p.ID = int64(userID)
		r.prefs[userID] = p
	}
	return p
}

// SavePreferences replaces a user's preferences.
func (r *Repository) SavePreferences(userID model.UserID, p model.Preferences) model.Preferences {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.ID = int64(userID)
	r.prefs[userID] = p
	return p
}

// Seed fills a user's account with a representative set of notifications.
func (r *Repository) Seed(userID model.UserID) {
	txID := int64(1001)
	seed := []NewNotification{
		{Message: "Welcome to online banking", Type: "SYSTEM", Severity: model.SeverityInfo},
		{
			Message:        "TRANSFER of $250.00 was completed",
			Type:           "TRANSACTION",
			Severity:       model.SeverityInfo,
			ReferenceID:    &txID,
			ReferenceType:  model.ReferenceTransaction,
			AdditionalData: `{"amount":250.00}`,
		},
		{Message: "Transaction failed: Insufficient funds", Type: "TRANSACTION", Severity: model.SeverityWarning},
		{Message: "Suspicious transaction detected and blocked. Please contact support.", Type: "SECURITY", Severity: model.SeverityCritical},
		{Message: "Daily Summary: 3 transactions totaling $412.50", Type: "SUMMARY", Severity: model.SeverityInfo},
	}
	now := r.now()
	for i, in := range seed {
		r.create(userID, in, now.Add(-time.Duration(len(seed)-i)*time.Minute))
	}
}
