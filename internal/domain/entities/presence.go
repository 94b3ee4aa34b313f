package entities

import (
	"encoding/json"
	"strings"
	"time"
)

// Comment is an optional free-text annotation a driver shows to riders.
//
// Go Learning Note: Optional Values
// Go has no Option type. The two common encodings are a pointer (*string) and
// a struct carrying a Valid flag, the way database/sql.NullString does. The
// struct form keeps DriverPresence comparable and makes the "absent" state
// explicit at every call site instead of hiding it behind a nil check.
type Comment struct {
	Text  string
	Valid bool
}

// NoComment is the absent comment.
var NoComment = Comment{}

// NewComment returns a present comment. Surrounding whitespace is trimmed and an
// empty result collapses to NoComment.
func NewComment(text string) Comment {
	text = strings.TrimSpace(text)
	if text == "" {
		return NoComment
	}
	return Comment{Text: text, Valid: true}
}

// CommentFromPtr converts a JSON-decoded optional string into a Comment.
func CommentFromPtr(text *string) Comment {
	if text == nil {
		return NoComment
	}
	return NewComment(*text)
}

// MarshalJSON encodes an absent comment as null.
func (c Comment) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string or null.
func (c *Comment) UnmarshalJSON(data []byte) error {
	var text *string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	*c = CommentFromPtr(text)
	return nil
}

// DriverPresence is the discoverable state of one broadcasting driver.
//
// A presence is never modified after it is handed to an index: every ingest
// builds a new value and the index swaps the pointer. Readers holding an older
// pointer therefore always see a consistent position/route/comment triple.
type DriverPresence struct {
	DriverID  string    `json:"userId"`
	Position  Location  `json:"position"`
	RouteName string    `json:"currRouteName"`
	Comment   Comment   `json:"customComments"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewDriverPresence builds a presence stamped with the given receipt time.
func NewDriverPresence(driverID string, lat, lon float64, routeName string, comment Comment, receivedAt time.Time) *DriverPresence {
	return &DriverPresence{
		DriverID:  driverID,
		Position:  NewLocation(lat, lon),
		RouteName: strings.TrimSpace(routeName),
		Comment:   comment,
		UpdatedAt: receivedAt,
	}
}

// StaleAt reports whether the presence was last refreshed before cutoff.
func (p *DriverPresence) StaleAt(cutoff time.Time) bool {
	return p.UpdatedAt.Before(cutoff)
}

// MatchesRoute reports whether the presence's route name equals name, ignoring
// surrounding whitespace and case. A blank name matches every presence.
func (p *DriverPresence) MatchesRoute(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(p.RouteName), name)
}
