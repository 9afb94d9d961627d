package models

// Entity names served by the dispatch pipeline.
const (
	EntityCourse      = "course"
	EntityGroup       = "group"
	EntityMember      = "member"
	EntityCompetition = "competition"
	EntityTrack       = "track"
)

// Entities lists every supported entity name.
var Entities = []string{EntityCourse, EntityGroup, EntityMember, EntityCompetition, EntityTrack}

// CourseKind enumerates the ways a course can be looked up.
type CourseKind string

const (
	CourseInternalID       CourseKind = "internalId"
	CourseExternalSourceID CourseKind = "externalSourceId"
)

// CourseKinds is the declared resolution priority for courses.
var CourseKinds = []CourseKind{CourseInternalID, CourseExternalSourceID}

// GroupKind enumerates the ways a group can be looked up.
type GroupKind string

const (
	GroupInternalID       GroupKind = "internalId"
	GroupExternalSourceID GroupKind = "externalSourceId"
)

// GroupKinds is the declared resolution priority for groups.
var GroupKinds = []GroupKind{GroupInternalID, GroupExternalSourceID}

// MemberKind enumerates the ways a member can be looked up.
type MemberKind string

const (
	MemberInternalID       MemberKind = "internalId"
	MemberExternalSourceID MemberKind = "externalSourceId"
	MemberEmail            MemberKind = "email"
)

// MemberKinds is the declared resolution priority for members.
var MemberKinds = []MemberKind{MemberInternalID, MemberExternalSourceID, MemberEmail}

// CompetitionKind enumerates the ways a competition can be looked up.
type CompetitionKind string

const (
	CompetitionInternalID       CompetitionKind = "internalId"
	CompetitionExternalSourceID CompetitionKind = "externalSourceId"
)

// CompetitionKinds is the declared resolution priority for competitions.
var CompetitionKinds = []CompetitionKind{CompetitionInternalID, CompetitionExternalSourceID}

// TrackKind enumerates the ways a track can be looked up.
type TrackKind string

const (
	TrackInternalID TrackKind = "internalId"
	TrackSlug       TrackKind = "slug"
)

// TrackKinds is the declared resolution priority for tracks.
var TrackKinds = []TrackKind{TrackInternalID, TrackSlug}
