package catalog

import (
	"encoding/json"
	"time"

	"github.com/example/sourcebridge/internal/adapters/graphql"
	"github.com/example/sourcebridge/internal/adapters/odata"
	"github.com/example/sourcebridge/internal/adapters/restapi"
	"github.com/example/sourcebridge/internal/models"
)

// Raw shapes of the external sources. Only the mapping functions below know
// about them.

type restCourse struct {
	ID        string    `json:"id"`
	Code      string    `json:"code,omitempty"`
	Name      string    `json:"name"`
	State     string    `json:"state,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var restCourseMapping = restapi.Mapping[models.Course]{
	Decode: func(raw json.RawMessage) (models.Course, error) {
		var rc restCourse
		if err := json.Unmarshal(raw, &rc); err != nil {
			return models.Course{}, err
		}
		return models.Course{
			ExternalSourceID: rc.ID,
			Code:             rc.Code,
			Title:            rc.Name,
			Status:           rc.State,
			UpdatedAt:        rc.UpdatedAt,
		}, nil
	},
	Encode: func(c models.Course) (string, []byte, error) {
		body, err := json.Marshal(restCourse{ID: c.ExternalSourceID, Code: c.Code, Name: c.Title, State: c.Status, UpdatedAt: c.UpdatedAt})
		return c.ExternalSourceID, body, err
	},
}

type restPerson struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
}

var restPersonMapping = restapi.Mapping[models.Member]{
	Decode: func(raw json.RawMessage) (models.Member, error) {
		var p restPerson
		if err := json.Unmarshal(raw, &p); err != nil {
			return models.Member{}, err
		}
		return models.Member{
			ExternalSourceID: p.ExternalID,
			Email:            p.Email,
			GivenName:        p.FirstName,
			FamilyName:       p.LastName,
		}, nil
	},
	Encode: func(m models.Member) (string, []byte, error) {
		body, err := json.Marshal(restPerson{Email: m.Email, FirstName: m.GivenName, LastName: m.FamilyName, ExternalID: m.ExternalSourceID})
		return "", body, err
	},
}

type odataGroup struct {
	GroupID     string    `json:"GroupId"`
	DisplayName string    `json:"DisplayName"`
	MemberCount int       `json:"MemberCount"`
	ModifiedAt  time.Time `json:"ModifiedAt"`
}

var odataGroupMapping = odata.Mapping[models.Group]{
	Decode: func(raw json.RawMessage) (models.Group, error) {
		var g odataGroup
		if err := json.Unmarshal(raw, &g); err != nil {
			return models.Group{}, err
		}
		return models.Group{
			ExternalSourceID: g.GroupID,
			Name:             g.DisplayName,
			MemberCount:      g.MemberCount,
			UpdatedAt:        g.ModifiedAt,
		}, nil
	},
	Encode: func(g models.Group) (string, []byte, error) {
		body, err := json.Marshal(odataGroup{GroupID: g.ExternalSourceID, DisplayName: g.Name, MemberCount: g.MemberCount, ModifiedAt: g.UpdatedAt})
		return g.ExternalSourceID, body, err
	},
}

type odataPerson struct {
	PersonID  string    `json:"PersonId"`
	Mail      string    `json:"Mail"`
	GivenName string    `json:"GivenName"`
	Surname   string    `json:"Surname"`
	Modified  time.Time `json:"ModifiedAt"`
}

var odataPersonMapping = odata.Mapping[models.Member]{
	Decode: func(raw json.RawMessage) (models.Member, error) {
		var p odataPerson
		if err := json.Unmarshal(raw, &p); err != nil {
			return models.Member{}, err
		}
		return models.Member{
			ExternalSourceID: p.PersonID,
			Email:            p.Mail,
			GivenName:        p.GivenName,
			FamilyName:       p.Surname,
			UpdatedAt:        p.Modified,
		}, nil
	},
	Encode: func(m models.Member) (string, []byte, error) {
		body, err := json.Marshal(odataPerson{PersonID: m.ExternalSourceID, Mail: m.Email, GivenName: m.GivenName, Surname: m.FamilyName, Modified: m.UpdatedAt})
		return m.ExternalSourceID, body, err
	},
}

type gqlCompetition struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Season   string    `json:"season"`
	StartsAt time.Time `json:"startsAt"`
}

var competitionOps = graphql.Operations{
	Find:      `query Competition($key: ID!) { competition(id: $key) { id name season startsAt } }`,
	FindField: "competition",
	List:      `query Competitions($first: Int!, $after: String, $filter: CompetitionFilter) { competitions(first: $first, after: $after, filter: $filter) { nodes { id name season startsAt } pageInfo { hasNextPage endCursor } } }`,
	ListField: "competitions",
	Save:      `mutation SaveCompetition($input: CompetitionInput!) { saveCompetition(input: $input) { id name season startsAt } }`,
	SaveField: "saveCompetition",
}

var gqlCompetitionMapping = graphql.Mapping[models.Competition]{
	Decode: func(raw json.RawMessage) (models.Competition, error) {
		var c gqlCompetition
		if err := json.Unmarshal(raw, &c); err != nil {
			return models.Competition{}, err
		}
		return models.Competition{ExternalSourceID: c.ID, Name: c.Name, Season: c.Season, StartsAt: c.StartsAt}, nil
	},
	Encode: func(c models.Competition) (map[string]any, error) {
		return map[string]any{"id": c.ExternalSourceID, "name": c.Name, "season": c.Season, "startsAt": c.StartsAt}, nil
	},
}

type gqlTrack struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

var trackOps = graphql.Operations{
	Find:      `query Track($key: String!) { track(slug: $key) { slug name position } }`,
	FindField: "track",
	List:      `query Tracks($first: Int!, $after: String, $filter: TrackFilter) { tracks(first: $first, after: $after, filter: $filter) { nodes { slug name position } pageInfo { hasNextPage endCursor } } }`,
	ListField: "tracks",
	Save:      `mutation SaveTrack($input: TrackInput!) { saveTrack(input: $input) { slug name position } }`,
	SaveField: "saveTrack",
}

var gqlTrackMapping = graphql.Mapping[models.Track]{
	Decode: func(raw json.RawMessage) (models.Track, error) {
		var t gqlTrack
		if err := json.Unmarshal(raw, &t); err != nil {
			return models.Track{}, err
		}
		return models.Track{Slug: t.Slug, Name: t.Name, Position: t.Position}, nil
	},
	Encode: func(t models.Track) (map[string]any, error) {
		return map[string]any{"slug": t.Slug, "name": t.Name, "position": t.Position}, nil
	},
}
