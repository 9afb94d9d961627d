package models

import (
	"fmt"
	"strings"

	"github.com/example/sourcebridge/internal/repository"
	"github.com/example/sourcebridge/internal/util"
)

// RequestMeta carries attributes shared by every canonical request.
type RequestMeta struct {
	TraceID string `json:"traceId,omitempty"`
}

// Trace returns the caller supplied trace id.
func (m RequestMeta) Trace() string { return m.TraceID }

func (m *RequestMeta) normalize() error {
	m.TraceID = strings.TrimSpace(m.TraceID)
	return util.EnsureMaxRunes("traceId", m.TraceID, 128)
}

// CourseRequest asks for a single course.
type CourseRequest struct {
	RequestMeta
	CourseID         string `json:"courseId,omitempty"`
	ExternalSourceID string `json:"externalSourceId,omitempty"`
}

// CourseProbeFields are the top-level fields identifying a direct course DTO.
var CourseProbeFields = []string{"courseId", "externalSourceId"}

// Validate normalizes the request in place.
func (r *CourseRequest) Validate() error {
	var err error
	if r.CourseID, err = util.NormalizeInternalID(r.CourseID); err != nil {
		return fmt.Errorf("course request: courseId: %w", err)
	}
	if r.ExternalSourceID, err = util.NormalizeExternalID(r.ExternalSourceID); err != nil {
		return fmt.Errorf("course request: externalSourceId: %w", err)
	}
	if err := util.RequireOne(r.CourseID, r.ExternalSourceID); err != nil {
		return fmt.Errorf("course request: %w", err)
	}
	return r.RequestMeta.normalize()
}

// Identifiers lists lookups in declared priority order.
func (r CourseRequest) Identifiers() []repository.Identifier[CourseKind] {
	return []repository.Identifier[CourseKind]{
		{Kind: CourseInternalID, Value: r.CourseID},
		{Kind: CourseExternalSourceID, Value: r.ExternalSourceID},
	}
}

// GroupRequest asks for a single group.
type GroupRequest struct {
	RequestMeta
	GroupID          string `json:"groupId,omitempty"`
	ExternalSourceID string `json:"externalSourceId,omitempty"`
}

// GroupProbeFields are the top-level fields identifying a direct group DTO.
var GroupProbeFields = []string{"groupId", "externalSourceId"}

// Validate normalizes the request in place.
func (r *GroupRequest) Validate() error {
	var err error
	if r.GroupID, err = util.NormalizeInternalID(r.GroupID); err != nil {
		return fmt.Errorf("group request: groupId: %w", err)
	}
	if r.ExternalSourceID, err = util.NormalizeExternalID(r.ExternalSourceID); err != nil {
		return fmt.Errorf("group request: externalSourceId: %w", err)
	}
	if err := util.RequireOne(r.GroupID, r.ExternalSourceID); err != nil {
		return fmt.Errorf("group request: %w", err)
	}
	return r.RequestMeta.normalize()
}

// Identifiers lists lookups in declared priority order.
func (r GroupRequest) Identifiers() []repository.Identifier[GroupKind] {
	return []repository.Identifier[GroupKind]{
		{Kind: GroupInternalID, Value: r.GroupID},
		{Kind: GroupExternalSourceID, Value: r.ExternalSourceID},
	}
}

// MemberRequest asks for a single member.
type MemberRequest struct {
	RequestMeta
	MemberID         string `json:"memberId,omitempty"`
	ExternalSourceID string `json:"externalSourceId,omitempty"`
	Email            string `json:"email,omitempty"`
}

// MemberProbeFields are the top-level fields identifying a direct member DTO.
var MemberProbeFields = []string{"memberId", "externalSourceId", "email"}

// Validate normalizes the request in place.
func (r *MemberRequest) Validate() error {
	var err error
	if r.MemberID, err = util.NormalizeInternalID(r.MemberID); err != nil {
		return fmt.Errorf("member request: memberId: %w", err)
	}
	if r.ExternalSourceID, err = util.NormalizeExternalID(r.ExternalSourceID); err != nil {
		return fmt.Errorf("member request: externalSourceId: %w", err)
	}
	if r.Email, err = util.NormalizeEmail(r.Email); err != nil {
		return fmt.Errorf("member request: email: %w", err)
	}
	if err := util.RequireOne(r.MemberID, r.ExternalSourceID, r.Email); err != nil {
		return fmt.Errorf("member request: %w", err)
	}
	return r.RequestMeta.normalize()
}

// Identifiers lists lookups in declared priority order.
func (r MemberRequest) Identifiers() []repository.Identifier[MemberKind] {
	return []repository.Identifier[MemberKind]{
		{Kind: MemberInternalID, Value: r.MemberID},
		{Kind: MemberExternalSourceID, Value: r.ExternalSourceID},
		{Kind: MemberEmail, Value: r.Email},
	}
}

// CompetitionRequest asks for a single competition.
type CompetitionRequest struct {
	RequestMeta
	CompetitionID    string `json:"competitionId,omitempty"`
	ExternalSourceID string `json:"externalSourceId,omitempty"`
}

// CompetitionProbeFields are the top-level fields identifying a direct competition DTO.
var CompetitionProbeFields = []string{"competitionId", "externalSourceId"}

// Validate normalizes the request in place.
func (r *CompetitionRequest) Validate() error {
	var err error
	if r.CompetitionID, err = util.NormalizeInternalID(r.CompetitionID); err != nil {
		return fmt.Errorf("competition request: competitionId: %w", err)
	}
	if r.ExternalSourceID, err = util.NormalizeExternalID(r.ExternalSourceID); err != nil {
		return fmt.Errorf("competition request: externalSourceId: %w", err)
	}
	if err := util.RequireOne(r.CompetitionID, r.ExternalSourceID); err != nil {
		return fmt.Errorf("competition request: %w", err)
	}
	return r.RequestMeta.normalize()
}

// Identifiers lists lookups in declared priority order.
func (r CompetitionRequest) Identifiers() []repository.Identifier[CompetitionKind] {
	return []repository.Identifier[CompetitionKind]{
		{Kind: CompetitionInternalID, Value: r.CompetitionID},
		{Kind: CompetitionExternalSourceID, Value: r.ExternalSourceID},
	}
}

// TrackRequest asks for a single track.
type TrackRequest struct {
	RequestMeta
	TrackID string `json:"trackId,omitempty"`
	Slug    string `json:"slug,omitempty"`
}

// TrackProbeFields are the top-level fields identifying a direct track DTO.
var TrackProbeFields = []string{"trackId", "slug"}

// Validate normalizes the request in place.
func (r *TrackRequest) Validate() error {
	var err error
	if r.TrackID, err = util.NormalizeInternalID(r.TrackID); err != nil {
		return fmt.Errorf("track request: trackId: %w", err)
	}
	if r.Slug, err = util.NormalizeSlug(r.Slug); err != nil {
		return fmt.Errorf("track request: slug: %w", err)
	}
	if err := util.RequireOne(r.TrackID, r.Slug); err != nil {
		return fmt.Errorf("track request: %w", err)
	}
	return r.RequestMeta.normalize()
}

// Identifiers lists lookups in declared priority order.
func (r TrackRequest) Identifiers() []repository.Identifier[TrackKind] {
	return []repository.Identifier[TrackKind]{
		{Kind: TrackInternalID, Value: r.TrackID},
		{Kind: TrackSlug, Value: r.Slug},
	}
}
