package entities

import (
	"strings"
	"time"
)

// DriverRoute is a named destination a driver can broadcast under. The route
// store owns these records; presences only copy the name and comment.
type DriverRoute struct {
	DriverID    string    `json:"-"`
	Name        string    `json:"routeName"`
	Destination Location  `json:"destination"`
	Comment     Comment   `json:"customComments"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewDriverRoute creates a route with a trimmed name.
func NewDriverRoute(driverID, name string, destination Location, comment Comment) *DriverRoute {
	return &DriverRoute{
		DriverID:    driverID,
		Name:        strings.TrimSpace(name),
		Destination: destination,
		Comment:     comment,
		UpdatedAt:   time.Now(),
	}
}
