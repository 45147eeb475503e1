package store

import (
	"encoding/json"
	"time"

	"curio/api/internal/canvas"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Article statuses.
const (
	ArticleDraft     = "draft"
	ArticleCurating  = "curating"
	ArticlePublished = "published"
)

type Article struct {
	ID          string
	Title       string
	Summary     string
	Body        string
	Source      string
	SourceURL   string
	Tags        []string
	Status      string
	CreatedBy   string
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FeedQuery filters the article feed. Zero values mean no filter.
type FeedQuery struct {
	Status string
	Tag    string
	Limit  int
	Offset int
}

// Board is a curation canvas. Nodes and Edges are the persisted graph;
// Content, Markers and Blocks are the last reconstruction.
type Board struct {
	ID            string
	ArticleID     string
	Title         string
	Nodes         []canvas.Node
	Edges         []canvas.Edge
	Content       string
	Markers       json.RawMessage
	Blocks        json.RawMessage
	GraphVersion  int64
	PublishedHash string
	PublishedAt   *time.Time
	UpdatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BoardSummary is the list form of a board.
type BoardSummary struct {
	ID            string
	ArticleID     string
	Title         string
	PublishedHash string
	UpdatedAt     time.Time
}
