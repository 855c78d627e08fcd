package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type ImportRecord struct {
	ID           pgtype.UUID
	Kind         string
	Title        string
	ImporterSlug string
	Author       string
	Content      []byte
	RowCount     int32
	CreatedAt    pgtype.Timestamptz
	CurrentRow   int32
	Running      bool
	StartedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type ImportRecordSummary struct {
	ID           pgtype.UUID
	Title        string
	ImporterSlug string
	Author       string
	RowCount     int32
	CreatedAt    pgtype.Timestamptz
	CurrentRow   int32
	Running      bool
	StartedAt    pgtype.Timestamptz
}

type ClaimedSchedule struct {
	RecordID  pgtype.UUID
	Initiator string
	RunAt     pgtype.Timestamptz
}

type ImportedContact struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	RecordID  pgtype.UUID
}

type ImportedRow struct {
	RecordID  pgtype.UUID
	RowNumber int32
	Data      []byte
}
