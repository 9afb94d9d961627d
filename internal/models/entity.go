package models

import "time"

// Course is a course offered through the external learning platform.
type Course struct {
	ID               string    `json:"id"`
	ExternalSourceID string    `json:"externalSourceId,omitempty"`
	Code             string    `json:"code,omitempty"`
	Title            string    `json:"title"`
	Status           string    `json:"status,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// Group is a cohort of members, optionally attached to a course.
type Group struct {
	ID               string    `json:"id"`
	ExternalSourceID string    `json:"externalSourceId,omitempty"`
	Name             string    `json:"name"`
	CourseID         string    `json:"courseId,omitempty"`
	MemberCount      int       `json:"memberCount"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// Member is a person enrolled in one or more groups.
type Member struct {
	ID               string    `json:"id"`
	ExternalSourceID string    `json:"externalSourceId,omitempty"`
	Email            string    `json:"email,omitempty"`
	GivenName        string    `json:"givenName,omitempty"`
	FamilyName       string    `json:"familyName,omitempty"`
	GroupIDs         []string  `json:"groupIds,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// Competition is a scheduled competition made of tracks.
type Competition struct {
	ID               string    `json:"id"`
	ExternalSourceID string    `json:"externalSourceId,omitempty"`
	Name             string    `json:"name"`
	Season           string    `json:"season,omitempty"`
	StartsAt         time.Time `json:"startsAt,omitempty"`
}

// Track is one track of a competition.
type Track struct {
	ID            string `json:"id"`
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	CompetitionID string `json:"competitionId,omitempty"`
	Position      int    `json:"position"`
}
